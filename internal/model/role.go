package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ContentType is the category of resource a role definition applies to.
// SystemWide is represented as JSON null on the wire; that mapping lives only
// in MarshalJSON and UnmarshalJSON.
type ContentType int

const (
	ContentTypeUnset ContentType = iota
	ContentTypeRepository
	ContentTypeRemote
	ContentTypeExecutionEnvironment
	ContentTypeNamespace
	ContentTypeSystemWide
)

// systemWideOption is the select option value standing in for SystemWide.
const systemWideOption = "null"

var contentTypeInfo = map[ContentType]struct {
	wire  string
	label string
}{
	ContentTypeRepository:           {"galaxy.ansiblerepository", "Repository"},
	ContentTypeRemote:               {"galaxy.collectionremote", "Remote"},
	ContentTypeExecutionEnvironment: {"galaxy.containernamespace", "Execution Environment"},
	ContentTypeNamespace:            {"galaxy.namespace", "Namespace"},
	ContentTypeSystemWide:           {"", "System"},
}

// ContentTypes lists the selectable content types in display order.
var ContentTypes = []ContentType{
	ContentTypeRepository,
	ContentTypeRemote,
	ContentTypeExecutionEnvironment,
	ContentTypeNamespace,
	ContentTypeSystemWide,
}

// ParseContentTypeOption maps a select option value back to a ContentType.
// The empty string is ContentTypeUnset.
func ParseContentTypeOption(option string) (ContentType, error) {
	switch option {
	case "":
		return ContentTypeUnset, nil
	case systemWideOption:
		return ContentTypeSystemWide, nil
	}
	for ct, info := range contentTypeInfo {
		if info.wire != "" && info.wire == option {
			return ct, nil
		}
	}
	return ContentTypeUnset, fmt.Errorf("unknown content type %q", option)
}

// Option returns the select option value for the content type.
func (ct ContentType) Option() string {
	if ct == ContentTypeSystemWide {
		return systemWideOption
	}
	return contentTypeInfo[ct].wire
}

// Label returns the display label.
func (ct ContentType) Label() string {
	return contentTypeInfo[ct].label
}

// IsSet reports whether a content type has been chosen.
func (ct ContentType) IsSet() bool {
	return ct != ContentTypeUnset
}

func (ct ContentType) String() string {
	if ct == ContentTypeUnset {
		return "unset"
	}
	return ct.Option()
}

// MarshalJSON writes the wire form: null for SystemWide, the model name
// otherwise.
func (ct ContentType) MarshalJSON() ([]byte, error) {
	switch ct {
	case ContentTypeSystemWide:
		return []byte("null"), nil
	case ContentTypeUnset:
		return nil, fmt.Errorf("content type is not set")
	}
	return json.Marshal(contentTypeInfo[ct].wire)
}

// UnmarshalJSON reads the wire form. A null value is SystemWide; an absent
// field leaves the value unset.
func (ct *ContentType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ct = ContentTypeSystemWide
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("content_type: %w", err)
	}
	if s == systemWideOption {
		return fmt.Errorf("content_type: unknown value %q", s)
	}
	parsed, err := ParseContentTypeOption(s)
	if err != nil {
		return fmt.Errorf("content_type: %w", err)
	}
	*ct = parsed
	return nil
}

// RoleDefinition is a named bundle of permissions scoped to a content type.
type RoleDefinition struct {
	ID          int         `json:"id,omitempty"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	ContentType ContentType `json:"content_type"`
	Permissions []string    `json:"permissions"`
}

// RolePatch carries only the fields of a role definition that changed.
type RolePatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	ContentType *ContentType `json:"content_type,omitempty"`
	Permissions *[]string    `json:"permissions,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p RolePatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.ContentType == nil && p.Permissions == nil
}

// RoleMetadata maps each content type to the permissions it offers.
type RoleMetadata struct {
	ContentTypes map[string]ContentTypeMetadata `json:"content_types"`
}

// ContentTypeMetadata holds the permission key to label mapping of one
// content type.
type ContentTypeMetadata struct {
	Permissions map[string]string `json:"permissions"`
}

// Permission is a selectable permission key with its label.
type Permission struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// PermissionsFor returns the permissions available for ct sorted by key.
func (m *RoleMetadata) PermissionsFor(ct ContentType) []Permission {
	if m == nil || !ct.IsSet() {
		return nil
	}
	entry, ok := m.ContentTypes[ct.Option()]
	if !ok {
		return nil
	}
	result := make([]Permission, 0, len(entry.Permissions))
	for key, label := range entry.Permissions {
		result = append(result, Permission{Key: key, Label: label})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// Page is one page of a paginated list endpoint.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}
