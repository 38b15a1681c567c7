package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// RequireGroups lets a request through when the authenticated user belongs to
// at least one of groups. Group names match with or without a leading "/".
func RequireGroups(logger *zap.Logger, groups ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		allowed[strings.TrimPrefix(g, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				model.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
				return
			}

			for _, g := range claims.Groups {
				if _, ok := allowed[strings.TrimPrefix(g, "/")]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("authorization denied",
				zap.String("username", claims.PreferredUsername),
				zap.Strings("user_groups", claims.Groups),
				zap.Strings("required_groups", groups),
				zap.String("request_id", GetRequestID(r.Context())),
			)
			model.WriteError(w, http.StatusForbidden, "FORBIDDEN", "insufficient group membership")
		})
	}
}
