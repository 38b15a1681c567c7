package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

type claimsKey struct{}

// Claims holds the verified token claims of a console user.
type Claims struct {
	Subject           string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Groups            []string `json:"groups"`
}

// GetClaims extracts the authenticated claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return nil
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// TokenVerifier checks a raw bearer token and decodes its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// OIDCVerifier verifies ID tokens against an issuer. The provider is
// discovered on first use and discovery is retried until it succeeds, so an
// unreachable issuer does not block startup.
type OIDCVerifier struct {
	issuerURL string
	clientID  string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier creates a verifier for tokens issued to clientID.
func NewOIDCVerifier(issuerURL, clientID string) *OIDCVerifier {
	return &OIDCVerifier{issuerURL: issuerURL, clientID: clientID}
}

func (v *OIDCVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.issuerURL)
	if err != nil {
		return nil, err
	}
	v.verifier = provider.Verifier(&oidc.Config{ClientID: v.clientID})
	return v.verifier, nil
}

// Verify implements TokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	idToken, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ProviderError reports that the issuer could not be reached.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "oidc provider: " + e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// Auth requires a valid bearer token and stores its claims in the request
// context.
func Auth(logger *zap.Logger, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				model.WriteError(w, http.StatusUnauthorized, "MISSING_TOKEN", "authorization header required")
				return
			}
			scheme, rawToken, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || rawToken == "" {
				model.WriteError(w, http.StatusUnauthorized, "INVALID_TOKEN", "authorization header must be Bearer {token}")
				return
			}

			claims, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				var unavailable *ProviderError
				if errors.As(err, &unavailable) {
					logger.Error("oidc provider unavailable",
						zap.Error(err),
						zap.String("request_id", GetRequestID(r.Context())),
					)
					model.WriteError(w, http.StatusServiceUnavailable, "OIDC_UNAVAILABLE", "OIDC provider unavailable")
					return
				}
				logger.Debug("token verification failed",
					zap.Error(err),
					zap.String("request_id", GetRequestID(r.Context())),
				)
				model.WriteError(w, http.StatusUnauthorized, "INVALID_TOKEN", "token verification failed")
				return
			}

			logger.Debug("authenticated request",
				zap.String("sub", claims.Subject),
				zap.String("preferred_username", claims.PreferredUsername),
				zap.Strings("groups", claims.Groups),
				zap.String("request_id", GetRequestID(r.Context())),
			)
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
