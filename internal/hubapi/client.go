// Package hubapi is the console's client for the hub REST API that owns role
// definitions.
package hubapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

const (
	roleDefinitionsPath = "/_ui/v2/role_definitions/"
	roleMetadataPath    = "/_ui/v2/role_metadata/"
	listPageSize        = 100
)

// TokenSource supplies bearer tokens for upstream calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the hub API.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub api %s: status %d: %s", e.Operation, e.Status, e.Body)
}

// Client talks to the hub API under a base URL and API prefix.
type Client struct {
	rc     *resty.Client
	prefix string
	tokens TokenSource
	logger *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithTokenSource authenticates every request with a bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// NewClient creates a client for baseURL (scheme and host) with all
// endpoint paths under prefix, e.g. "/api/galaxy". Upstream certificates are
// not verified, matching the dev proxy.
func NewClient(baseURL, prefix string, logger *zap.Logger, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}). //nolint:gosec // upstreams are development servers with self-signed certificates
		SetHeader("Accept", "application/json")

	c := &Client{
		rc:     rc,
		prefix: prefix,
		logger: logger.Named("hubapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.rc.R().SetContext(ctx)
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("upstream token: %w", err)
		}
		req.SetAuthToken(tok)
	}
	return req, nil
}

// do executes req and maps transport errors and non-2xx responses.
func (c *Client) do(req *resty.Request, method, path, operation string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		metrics.HubErrorsTotal.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("hub api %s: %w", operation, err)
	}

	status := strconv.Itoa(resp.StatusCode())
	metrics.HubRequestsTotal.WithLabelValues(operation, status).Inc()

	if resp.IsError() {
		metrics.HubErrorsTotal.WithLabelValues(operation).Inc()
		c.logger.Debug("hub api error response",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, &APIError{Operation: operation, Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp, nil
}

// GetRole fetches one role definition.
func (c *Client) GetRole(ctx context.Context, id int) (*model.RoleDefinition, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var role model.RoleDefinition
	req.SetResult(&role)

	if _, err := c.do(req, resty.MethodGet, c.rolePath(id), "get_role"); err != nil {
		return nil, err
	}
	return &role, nil
}

// CreateRole creates a role definition and returns it with its new id.
func (c *Client) CreateRole(ctx context.Context, role model.RoleDefinition) (*model.RoleDefinition, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var created model.RoleDefinition
	req.SetBody(role).SetResult(&created)

	if _, err := c.do(req, resty.MethodPost, c.prefix+roleDefinitionsPath, "create_role"); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRole patches the given fields of a role definition.
func (c *Client) UpdateRole(ctx context.Context, id int, patch model.RolePatch) (*model.RoleDefinition, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var updated model.RoleDefinition
	req.SetBody(patch).SetResult(&updated)

	if _, err := c.do(req, resty.MethodPatch, c.rolePath(id), "update_role"); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListRoleNames returns the names of every existing role definition,
// following pagination links.
func (c *Client) ListRoleNames(ctx context.Context) ([]string, error) {
	type named struct {
		Name string `json:"name"`
	}

	var names []string
	next := fmt.Sprintf("%s%s?page_size=%d", c.prefix, roleDefinitionsPath, listPageSize)
	for next != "" {
		req, err := c.request(ctx)
		if err != nil {
			return nil, err
		}
		var page model.Page[named]
		req.SetResult(&page)

		if _, err := c.do(req, resty.MethodGet, next, "list_roles"); err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			names = append(names, r.Name)
		}

		next = ""
		if page.Next != nil && *page.Next != "" {
			next, err = c.relative(*page.Next)
			if err != nil {
				return nil, err
			}
		}
	}
	return names, nil
}

// RoleMetadata returns the content type to permissions mapping.
func (c *Client) RoleMetadata(ctx context.Context) (*model.RoleMetadata, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var meta model.RoleMetadata
	req.SetResult(&meta)

	if _, err := c.do(req, resty.MethodGet, c.prefix+roleMetadataPath, "role_metadata"); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Healthy checks that the API prefix answers without a server error.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	_, err = c.do(req, resty.MethodGet, c.prefix+"/", "health_check")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return nil
	}
	return err
}

func (c *Client) rolePath(id int) string {
	return c.prefix + roleDefinitionsPath + strconv.Itoa(id) + "/"
}

// relative strips scheme and host from a pagination link so the request
// stays on the configured base URL.
func (c *Client) relative(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link %q: %w", link, err)
	}
	return u.RequestURI(), nil
}
