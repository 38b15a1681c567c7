package roleform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// API is the upstream role definition endpoint.
type API interface {
	GetRole(ctx context.Context, id int) (*model.RoleDefinition, error)
	CreateRole(ctx context.Context, role model.RoleDefinition) (*model.RoleDefinition, error)
	UpdateRole(ctx context.Context, id int, patch model.RolePatch) (*model.RoleDefinition, error)
}

// Lookup supplies existing role names and role metadata, and is told when
// cached role lists go stale.
type Lookup interface {
	NameLister
	RoleMetadata(ctx context.Context) (*model.RoleMetadata, error)
	Invalidate(ctx context.Context)
}

// Navigation tells the browser where to go after a submit or cancel.
// Exactly one of To and Back is set.
type Navigation struct {
	To   string `json:"to,omitempty"`
	Back int    `json:"back,omitempty"`
}

// Breadcrumb is one entry of the page header trail.
type Breadcrumb struct {
	Label string `json:"label"`
	To    string `json:"to,omitempty"`
}

// Page is a rendered role form page. A Loading page is the header-only shell
// shown while the role is still being fetched.
type Page struct {
	Title       string       `json:"title,omitempty"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Loading     bool         `json:"loading,omitempty"`
	SubmitText  string       `json:"submitText,omitempty"`
	CancelText  string       `json:"cancelText,omitempty"`
	Cancel      *Navigation  `json:"cancel,omitempty"`
	Fields      []Field      `json:"fields,omitempty"`
	Values      *FormValues  `json:"values,omitempty"`
}

// Routes builds console URLs under the public path.
type Routes struct {
	Base string
}

// Roles is the role list page.
func (r Routes) Roles() string {
	return r.Base + "access/roles"
}

// RolePage is the detail page of one role.
func (r Routes) RolePage(id int) string {
	return fmt.Sprintf("%saccess/roles/%d/details", r.Base, id)
}

// Controller drives the create and edit role pages.
type Controller struct {
	api    API
	lookup Lookup
	routes Routes
	logger *zap.Logger

	// Concurrent submits of an identical payload share one upstream call.
	inflight singleflight.Group
}

// NewController creates a role form controller.
func NewController(api API, lookup Lookup, routes Routes, logger *zap.Logger) *Controller {
	return &Controller{
		api:    api,
		lookup: lookup,
		routes: routes,
		logger: logger.Named("roleform"),
	}
}

// ParseID reports whether a route parameter is an integer role id.
func ParseID(param string) (int, bool) {
	id, err := strconv.Atoi(param)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CreatePage renders an empty create form.
func (c *Controller) CreatePage(ctx context.Context) (*Page, error) {
	meta, err := c.lookup.RoleMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("role metadata: %w", err)
	}
	form, _ := NewForm(meta, FormValues{})
	values := form.Values()

	return &Page{
		Title: "Create role",
		Breadcrumbs: []Breadcrumb{
			{Label: "Roles", To: c.routes.Roles()},
			{Label: "Create role"},
		},
		SubmitText: "Create role",
		CancelText: "Cancel",
		Cancel:     &Navigation{Back: 1},
		Fields:     form.Fields(false),
		Values:     &values,
	}, nil
}

// EditPage renders the edit form for the role named by idParam. The role is
// fetched in the background; if ctx ends first the header-only shell is
// returned and the abandoned fetch is ignored. A fetch error is returned to
// the caller. A non-integer idParam renders a blank form whose submit
// creates a role.
func (c *Controller) EditPage(ctx context.Context, idParam string) (*Page, error) {
	id, ok := ParseID(idParam)
	if !ok {
		meta, err := c.lookup.RoleMetadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("role metadata: %w", err)
		}
		form, _ := NewForm(meta, FormValues{})
		values := form.Values()
		return &Page{
			Title:       "Role",
			Breadcrumbs: c.editCrumbs("Edit Role"),
			SubmitText:  "Save role",
			CancelText:  "Cancel",
			Cancel:      &Navigation{Back: 1},
			Fields:      form.Fields(false),
			Values:      &values,
		}, nil
	}

	type fetched struct {
		role *model.RoleDefinition
		meta *model.RoleMetadata
		err  error
	}
	done := make(chan fetched, 1)

	go func() {
		role, err := c.api.GetRole(ctx, id)
		if err != nil {
			done <- fetched{err: fmt.Errorf("get role %d: %w", id, err)}
			return
		}
		meta, err := c.lookup.RoleMetadata(ctx)
		if err != nil {
			done <- fetched{err: fmt.Errorf("role metadata: %w", err)}
			return
		}
		done <- fetched{role: role, meta: meta}
	}()

	shell := &Page{Breadcrumbs: c.editCrumbs("Edit Role"), Loading: true}

	select {
	case <-ctx.Done():
		c.logger.Debug("role fetch still pending, rendering shell", zap.Int("role_id", id))
		return shell, nil
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return shell, nil
			}
			return nil, res.err
		}
		form := FormFromRole(res.meta, res.role)
		values := form.Values()

		title := "Role"
		if res.role.Name != "" {
			title = "Edit " + res.role.Name
		}
		return &Page{
			Title:       title,
			Breadcrumbs: c.editCrumbs(title),
			SubmitText:  "Save role",
			CancelText:  "Cancel",
			Cancel:      &Navigation{Back: 1},
			Fields:      form.Fields(true),
			Values:      &values,
		}, nil
	}
}

func (c *Controller) editCrumbs(label string) []Breadcrumb {
	return []Breadcrumb{
		{Label: "Roles", To: c.routes.Roles()},
		{Label: label},
	}
}

// Fields re-renders the field set for the given values, applying the watch
// step on the content type so the permission options follow it.
func (c *Controller) Fields(ctx context.Context, v FormValues, disableContentType bool) ([]Field, *FormValues, error) {
	meta, err := c.lookup.RoleMetadata(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("role metadata: %w", err)
	}
	form, err := NewForm(meta, v)
	if err != nil {
		return nil, nil, err
	}
	form.SetContentType(form.ContentType)
	values := form.Values()
	return form.Fields(disableContentType), &values, nil
}

// ValidateName runs the async name validator.
func (c *Controller) ValidateName(ctx context.Context, name, currentName string) (string, error) {
	return NameMessage(ctx, c.lookup, name, currentName)
}

// SubmitCreate validates the values and creates the role. On success it
// navigates to the detail page of the new role.
func (c *Controller) SubmitCreate(ctx context.Context, v FormValues) (*Navigation, error) {
	form, err := c.validated(ctx, v, "")
	if err != nil {
		c.countSubmit("create", err)
		return nil, err
	}

	nav, err := c.create(ctx, form)
	c.countSubmit("create", err)
	return nav, err
}

// SubmitEdit validates the values for the role named by idParam. With an
// integer id it patches the fields that differ from the stored role and
// navigates back one step; otherwise it creates a new role and navigates to
// its detail page.
func (c *Controller) SubmitEdit(ctx context.Context, idParam string, v FormValues) (*Navigation, error) {
	id, ok := ParseID(idParam)
	if !ok {
		form, err := c.validated(ctx, v, "")
		if err != nil {
			c.countSubmit("create", err)
			return nil, err
		}
		nav, err := c.create(ctx, form)
		c.countSubmit("create", err)
		return nav, err
	}

	nav, err := c.update(ctx, id, v)
	c.countSubmit("update", err)
	return nav, err
}

func (c *Controller) update(ctx context.Context, id int, v FormValues) (*Navigation, error) {
	stored, err := c.api.GetRole(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get role %d: %w", id, err)
	}

	form, err := c.validated(ctx, v, stored.Name)
	if err != nil {
		return nil, err
	}
	original := FormFromRole(form.meta, stored)
	if form.ContentType != original.ContentType {
		return nil, &ValidationError{Fields: FieldErrors{FieldContentType: "Content type cannot be changed."}}
	}

	patch := form.Diff(original)
	if patch.Empty() {
		c.logger.Debug("role unchanged, skipping update", zap.Int("role_id", id))
		return &Navigation{Back: 1}, nil
	}

	key, err := submitKey("update:"+strconv.Itoa(id), patch)
	if err != nil {
		return nil, err
	}
	_, shared, err := c.share(ctx, key, func(ctx context.Context) (any, error) {
		return c.api.UpdateRole(ctx, id, patch)
	})
	if err != nil {
		return nil, fmt.Errorf("update role %d: %w", id, err)
	}

	c.logger.Info("role updated", zap.Int("role_id", id), zap.Bool("coalesced", shared))
	return &Navigation{Back: 1}, nil
}

func (c *Controller) create(ctx context.Context, form *Form) (*Navigation, error) {
	role := form.Role()
	key, err := submitKey("create", role)
	if err != nil {
		return nil, err
	}
	v, shared, err := c.share(ctx, key, func(ctx context.Context) (any, error) {
		return c.api.CreateRole(ctx, role)
	})
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	created := v.(*model.RoleDefinition)

	c.logger.Info("role created",
		zap.Int("role_id", created.ID),
		zap.String("name", created.Name),
		zap.String("content_type", created.ContentType.String()),
		zap.Bool("coalesced", shared),
	)
	return &Navigation{To: c.routes.RolePage(created.ID)}, nil
}

// share runs fn once per key among concurrent callers. The call is detached
// from any single caller's cancellation; a caller whose ctx ends stops
// waiting but leaves the call running for the others.
func (c *Controller) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// submitKey identifies a submit by its exact payload.
func submitKey(op string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", op, err)
	}
	return op + ":" + string(body), nil
}

func (c *Controller) validated(ctx context.Context, v FormValues, currentName string) (*Form, error) {
	meta, err := c.lookup.RoleMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("role metadata: %w", err)
	}
	form, err := NewForm(meta, v)
	if err != nil {
		return nil, err
	}
	if err := form.Validate(ctx, c.lookup, currentName); err != nil {
		return nil, err
	}
	return form, nil
}

// Teardown ends a form session. Cached role lists are invalidated so list
// views show the change.
func (c *Controller) Teardown(ctx context.Context) {
	c.lookup.Invalidate(ctx)
}

func (c *Controller) countSubmit(mode string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if _, ok := AsValidationError(err); ok {
			outcome = "invalid"
		}
	}
	metrics.RoleSubmitsTotal.WithLabelValues(mode, outcome).Inc()
}
