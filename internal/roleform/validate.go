package roleform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// MsgNameTaken is shown when the name collides with an existing role.
const MsgNameTaken = "A role with this name already exists."

// FieldErrors maps field names to inline messages.
type FieldErrors map[string]string

// ValidationError blocks a submission. It is returned before any network
// call that would change state.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError unwraps a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// NameLister supplies the names of existing roles.
type NameLister interface {
	RoleNames(ctx context.Context) ([]string, error)
}

var validate = validator.New()

// rules carries the static field rules checked with struct tags.
type rules struct {
	Name        string            `validate:"required,max=128"`
	Description string            `validate:"max=2048"`
	ContentType model.ContentType `validate:"required"`
	Permissions []string          `validate:"required,min=1,dive,required"`
}

var ruleFields = map[string]string{
	"Name":        FieldName,
	"Description": FieldDescription,
	"ContentType": FieldContentType,
	"Permissions": FieldPermissions,
}

var fieldLabels = map[string]string{
	FieldName:        "Name",
	FieldDescription: "Description",
	FieldContentType: "Content type",
	FieldPermissions: "Permissions",
}

// Validate checks the form and returns a *ValidationError listing every
// failing field. currentName is the stored name of the role being edited and
// is exempt from the uniqueness check; it is empty when creating. A failure
// to list existing names is returned as is.
func (f *Form) Validate(ctx context.Context, names NameLister, currentName string) error {
	errs := FieldErrors{}

	err := validate.Struct(rules{
		Name:        f.Name,
		Description: f.Description,
		ContentType: f.ContentType,
		Permissions: f.Permissions,
	})
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := ruleFields[fe.StructField()]
			if field == "" {
				// dive errors report Permissions[i]
				field = FieldPermissions
			}
			if _, seen := errs[field]; !seen {
				errs[field] = message(field, fe)
			}
		}
	} else if err != nil {
		return fmt.Errorf("validate role form: %w", err)
	}

	if _, bad := errs[FieldPermissions]; !bad && f.ContentType.IsSet() {
		for _, p := range f.Permissions {
			if !f.offers(p) {
				errs[FieldPermissions] = fmt.Sprintf("Permission %q is not available for %s.", p, f.ContentType.Label())
				break
			}
		}
	}

	if _, bad := errs[FieldName]; !bad {
		msg, err := NameMessage(ctx, names, f.Name, currentName)
		if err != nil {
			return err
		}
		if msg != "" {
			errs[FieldName] = msg
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// NameMessage is the async validator of the name field. It returns the
// inline message for a name that matches an existing role case-insensitively,
// other than currentName, and "" when the name is free.
func NameMessage(ctx context.Context, names NameLister, name, currentName string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if currentName != "" && strings.EqualFold(name, currentName) {
		return "", nil
	}

	existing, err := names.RoleNames(ctx)
	if err != nil {
		return "", fmt.Errorf("list role names: %w", err)
	}
	for _, n := range existing {
		if currentName != "" && strings.EqualFold(n, currentName) {
			continue
		}
		if strings.EqualFold(n, name) {
			return MsgNameTaken, nil
		}
	}
	return "", nil
}

func message(field string, fe validator.FieldError) string {
	label := fieldLabels[field]
	switch fe.Tag() {
	case "required", "min":
		return label + " is required."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	}
	return label + " is invalid."
}
