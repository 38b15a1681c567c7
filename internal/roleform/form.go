// Package roleform renders, validates and submits the create/edit form for
// role definitions. The browser receives the field set as data and posts
// values back; the controller answers with where to navigate next.
package roleform

import (
	"slices"
	"strings"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// FieldKind selects the input widget for a field.
type FieldKind string

const (
	KindText        FieldKind = "text"
	KindSelect      FieldKind = "select"
	KindMultiSelect FieldKind = "multiselect"
)

// Field names, shared by rendered fields and FieldErrors keys.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldContentType = "content_type"
	FieldPermissions = "permissions"
)

// ValidatorUniqueRoleName names the async validator bound to the name field.
const ValidatorUniqueRoleName = "uniqueRoleName"

// Option is one choice of a select or multiselect field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field is one rendered form input.
type Field struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Kind        FieldKind `json:"kind"`
	Required    bool      `json:"required,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Validate    string    `json:"validate,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	Value       any       `json:"value"`
}

// FormValues are the field values as the browser holds them. ContentType is
// the select option value, so System is the "null" option.
type FormValues struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ContentType string   `json:"content_type"`
	Permissions []string `json:"permissions"`
}

// Form is the state of one role form.
type Form struct {
	Name        string
	Description string
	ContentType model.ContentType
	Permissions []string

	// PermissionsVisible is derived from ContentType by SetContentType.
	PermissionsVisible bool

	meta    *model.RoleMetadata
	options []model.Permission
}

// NewForm builds form state from browser values. Submitted permissions are
// kept as sent so that Validate can reject stale keys.
func NewForm(meta *model.RoleMetadata, v FormValues) (*Form, error) {
	ct, err := model.ParseContentTypeOption(v.ContentType)
	if err != nil {
		return nil, &ValidationError{Fields: FieldErrors{FieldContentType: "Select a valid content type."}}
	}

	f := &Form{
		Name:        strings.TrimSpace(v.Name),
		Description: v.Description,
		Permissions: slices.Clone(v.Permissions),
		meta:        meta,
	}
	f.derive(ct)
	return f, nil
}

// FormFromRole pre-populates a form from a stored role definition.
func FormFromRole(meta *model.RoleMetadata, role *model.RoleDefinition) *Form {
	f := &Form{
		Name:        role.Name,
		Description: role.Description,
		Permissions: slices.Clone(role.Permissions),
		meta:        meta,
	}
	f.derive(role.ContentType)
	return f
}

// SetContentType is the watch step on the content type field: it recomputes
// the permission options and visibility, and drops selected permissions the
// new content type does not offer.
func (f *Form) SetContentType(ct model.ContentType) {
	f.derive(ct)

	kept := f.Permissions[:0]
	for _, p := range f.Permissions {
		if f.offers(p) {
			kept = append(kept, p)
		}
	}
	f.Permissions = kept
}

func (f *Form) derive(ct model.ContentType) {
	f.ContentType = ct
	f.PermissionsVisible = ct.IsSet()
	f.options = f.meta.PermissionsFor(ct)
	if !f.PermissionsVisible {
		f.Permissions = nil
	}
}

func (f *Form) offers(key string) bool {
	for _, o := range f.options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// PermissionOptions returns the selectable permissions for the current
// content type.
func (f *Form) PermissionOptions() []Option {
	opts := make([]Option, 0, len(f.options))
	for _, p := range f.options {
		opts = append(opts, Option{Value: p.Key, Label: p.Label})
	}
	return opts
}

// Values returns the browser representation of the form state.
func (f *Form) Values() FormValues {
	return FormValues{
		Name:        f.Name,
		Description: f.Description,
		ContentType: f.ContentType.Option(),
		Permissions: slices.Clone(f.Permissions),
	}
}

// Role returns the role definition the form describes.
func (f *Form) Role() model.RoleDefinition {
	perms := f.Permissions
	if perms == nil {
		perms = []string{}
	}
	return model.RoleDefinition{
		Name:        f.Name,
		Description: f.Description,
		ContentType: f.ContentType,
		Permissions: slices.Clone(perms),
	}
}

// Fields renders the field set. The content type select is disabled when
// editing a role whose type must not change; the permissions field is only
// present while a content type is selected.
func (f *Form) Fields(disableContentType bool) []Field {
	contentTypes := make([]Option, 0, len(model.ContentTypes))
	for _, ct := range model.ContentTypes {
		contentTypes = append(contentTypes, Option{Value: ct.Option(), Label: ct.Label()})
	}

	fields := []Field{
		{
			Name:     FieldName,
			Label:    "Name",
			Kind:     KindText,
			Required: true,
			Validate: ValidatorUniqueRoleName,
			Value:    f.Name,
		},
		{
			Name:  FieldDescription,
			Label: "Description",
			Kind:  KindText,
			Value: f.Description,
		},
		{
			Name:        FieldContentType,
			Label:       "Content Type",
			Kind:        KindSelect,
			Required:    true,
			Disabled:    disableContentType,
			Placeholder: "Select a content type",
			Options:     contentTypes,
			Value:       f.ContentType.Option(),
		},
	}

	if f.PermissionsVisible {
		selected := f.Permissions
		if selected == nil {
			selected = []string{}
		}
		fields = append(fields, Field{
			Name:        FieldPermissions,
			Label:       "Permissions",
			Kind:        KindMultiSelect,
			Required:    true,
			Placeholder: "Select permissions",
			Options:     f.PermissionOptions(),
			Value:       selected,
		})
	}

	return fields
}

// Diff returns the changes from original to f as a patch.
func (f *Form) Diff(original *Form) model.RolePatch {
	var patch model.RolePatch
	if f.Name != original.Name {
		name := f.Name
		patch.Name = &name
	}
	if f.Description != original.Description {
		desc := f.Description
		patch.Description = &desc
	}
	if f.ContentType != original.ContentType {
		ct := f.ContentType
		patch.ContentType = &ct
	}
	if !sameSet(f.Permissions, original.Permissions) {
		perms := slices.Clone(f.Permissions)
		if perms == nil {
			perms = []string{}
		}
		patch.Permissions = &perms
	}
	return patch
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := slices.Clone(a), slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
