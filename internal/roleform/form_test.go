package roleform

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

func testMetadata() *model.RoleMetadata {
	return &model.RoleMetadata{ContentTypes: map[string]model.ContentTypeMetadata{
		"galaxy.namespace": {Permissions: map[string]string{
			"view":                       "View namespace",
			"galaxy.change_namespace":    "Change namespace",
			"galaxy.upload_to_namespace": "Upload to namespace",
		}},
		"galaxy.collectionremote": {Permissions: map[string]string{
			"view": "View remote",
		}},
		"null": {Permissions: map[string]string{
			"galaxy.add_user": "Add user",
		}},
	}}
}

type names []string

func (n names) RoleNames(context.Context) ([]string, error) { return n, nil }

type failingNames struct{}

func (failingNames) RoleNames(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func fieldByName(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func TestFields_PermissionsHiddenWithoutContentType(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{Name: "x", Permissions: []string{"view"}})
	require.NoError(t, err)

	assert.False(t, form.PermissionsVisible)
	assert.Nil(t, form.Permissions, "hidden permissions are cleared")

	fields := form.Fields(false)
	require.Len(t, fields, 3)
	_, present := fieldByName(fields, FieldPermissions)
	assert.False(t, present)

	ct, _ := fieldByName(fields, FieldContentType)
	assert.Equal(t, KindSelect, ct.Kind)
	assert.True(t, ct.Required)
	assert.False(t, ct.Disabled)
	assert.Equal(t, []Option{
		{Value: "galaxy.ansiblerepository", Label: "Repository"},
		{Value: "galaxy.collectionremote", Label: "Remote"},
		{Value: "galaxy.containernamespace", Label: "Execution Environment"},
		{Value: "galaxy.namespace", Label: "Namespace"},
		{Value: "null", Label: "System"},
	}, ct.Options)

	name, _ := fieldByName(fields, FieldName)
	assert.Equal(t, ValidatorUniqueRoleName, name.Validate)
}

func TestFields_PermissionOptionsFollowContentType(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{ContentType: "galaxy.namespace"})
	require.NoError(t, err)

	fields := form.Fields(true)
	perms, ok := fieldByName(fields, FieldPermissions)
	require.True(t, ok)
	assert.Equal(t, KindMultiSelect, perms.Kind)
	assert.Equal(t, []Option{
		{Value: "galaxy.change_namespace", Label: "Change namespace"},
		{Value: "galaxy.upload_to_namespace", Label: "Upload to namespace"},
		{Value: "view", Label: "View namespace"},
	}, perms.Options)

	ct, _ := fieldByName(fields, FieldContentType)
	assert.True(t, ct.Disabled)
}

func TestSetContentType_PrunesStaleSelections(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{
		ContentType: "galaxy.namespace",
		Permissions: []string{"view", "galaxy.change_namespace"},
	})
	require.NoError(t, err)

	form.SetContentType(model.ContentTypeRemote)

	assert.Equal(t, []string{"view"}, form.Permissions)
	assert.Equal(t, []Option{{Value: "view", Label: "View remote"}}, form.PermissionOptions())

	form.SetContentType(model.ContentTypeUnset)
	assert.False(t, form.PermissionsVisible)
	assert.Empty(t, form.Permissions)
}

func TestValidate_RejectsStalePermissionKeys(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{
		Name:        "Remote viewer",
		ContentType: "galaxy.collectionremote",
		Permissions: []string{"galaxy.change_namespace"},
	})
	require.NoError(t, err)

	err = form.Validate(context.Background(), names{}, "")
	ve, ok := AsValidationError(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Contains(t, ve.Fields[FieldPermissions], "galaxy.change_namespace")
}

func TestValidate_RequiredFields(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{Name: "   "})
	require.NoError(t, err)

	err = form.Validate(context.Background(), names{}, "")
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "Name is required.", ve.Fields[FieldName])
	assert.Equal(t, "Content type is required.", ve.Fields[FieldContentType])
	assert.Equal(t, "Permissions is required.", ve.Fields[FieldPermissions])
}

func TestValidate_NameUniqueness(t *testing.T) {
	existing := names{"Namespace Owner", "Remote Viewer"}
	tests := []struct {
		name    string
		input   string
		current string
		wantErr bool
	}{
		{"fresh name", "Namespace Viewer", "", false},
		{"exact duplicate", "Namespace Owner", "", true},
		{"case-insensitive duplicate", "namespace OWNER", "", true},
		{"own name while editing", "Namespace Owner", "Namespace Owner", false},
		{"own name recased while editing", "NAMESPACE OWNER", "Namespace Owner", false},
		{"other role's name while editing", "remote viewer", "Namespace Owner", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, err := NewForm(testMetadata(), FormValues{
				Name:        tt.input,
				ContentType: "galaxy.namespace",
				Permissions: []string{"view"},
			})
			require.NoError(t, err)

			err = form.Validate(context.Background(), existing, tt.current)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, MsgNameTaken, ve.Fields[FieldName])
		})
	}
}

func TestValidate_NameListFailureIsNotAValidationError(t *testing.T) {
	form, err := NewForm(testMetadata(), FormValues{
		Name:        "x",
		ContentType: "galaxy.namespace",
		Permissions: []string{"view"},
	})
	require.NoError(t, err)

	err = form.Validate(context.Background(), failingNames{}, "")
	require.Error(t, err)
	_, isValidation := AsValidationError(err)
	assert.False(t, isValidation)
}

func TestNewForm_UnknownContentType(t *testing.T) {
	_, err := NewForm(testMetadata(), FormValues{ContentType: "galaxy.team"})
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, ve.Fields, FieldContentType)
}

func TestSystemWideRoundTrip(t *testing.T) {
	stored := &model.RoleDefinition{
		ID:          3,
		Name:        "Admin",
		ContentType: model.ContentTypeSystemWide,
		Permissions: []string{"galaxy.add_user"},
	}

	form := FormFromRole(testMetadata(), stored)
	assert.Equal(t, "null", form.Values().ContentType, "null content type shows as System")

	edited, err := NewForm(testMetadata(), form.Values())
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeSystemWide, edited.ContentType)
	assert.True(t, edited.Diff(form).Empty())

	body, err := json.Marshal(edited.Role())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Admin","content_type":null,"permissions":["galaxy.add_user"]}`, string(body))
}

func TestDiff(t *testing.T) {
	original := FormFromRole(testMetadata(), &model.RoleDefinition{
		Name:        "Namespace Owner",
		Description: "old",
		ContentType: model.ContentTypeNamespace,
		Permissions: []string{"view", "galaxy.change_namespace"},
	})

	reordered, err := NewForm(testMetadata(), FormValues{
		Name:        "Namespace Owner",
		Description: "new",
		ContentType: "galaxy.namespace",
		Permissions: []string{"galaxy.change_namespace", "view"},
	})
	require.NoError(t, err)

	patch := reordered.Diff(original)
	require.NotNil(t, patch.Description)
	assert.Equal(t, "new", *patch.Description)
	assert.Nil(t, patch.Name)
	assert.Nil(t, patch.ContentType)
	assert.Nil(t, patch.Permissions, "same permission set in another order is unchanged")
}
