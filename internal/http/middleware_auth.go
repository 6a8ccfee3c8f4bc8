package httpserver

import (
	"net/http"

	"github.com/dbmaintain/dbmaintain/internal/audit"
	"github.com/dbmaintain/dbmaintain/internal/auth"
	"github.com/dbmaintain/dbmaintain/internal/rbac"
)

type AuthMiddleware struct {
	tokens *auth.TokenManager
	logger audit.Logger
}

func NewAuthMiddleware(tokens *auth.TokenManager, logger audit.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokens == nil {
			writeError(w, http.StatusServiceUnavailable, "auth_disabled", "api key not configured")
			return
		}
		tok, err := m.tokens.Authenticate(r)
		if err != nil {
			m.logDenied("", "unauthenticated", r)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithToken(r.Context(), tok)))
	})
}

func (m *AuthMiddleware) RequireRoles(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := auth.TokenFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !rbac.Allows(tok.Role, roles...) {
				m.logDenied(tok.Subject, "insufficient_role", r)
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) logDenied(actor, reason string, r *http.Request) {
	_ = audit.LogEvent(m.logger, audit.Event{
		Actor:   actor,
		Action:  "access_denied",
		Outcome: reason,
		Payload: map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
		},
	})
}
