package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/campus-marketplace/internal/identity"
)

type RoleSource interface {
	Roles(ctx context.Context, userID string) (identity.Roles, error)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Roles  identity.Roles
}

type contextKey string

const principalKey contextKey = "principal"

// ExtractToken reads the bearer token, falling back to the access_token cookie.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("access_token"); err == nil {
		return c.Value
	}
	return ""
}

func Authenticate(tokens *identity.Tokens, roles RoleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ExtractToken(r)
			if tok == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			claims, err := tokens.Verify(tok)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
				return
			}
			rl, err := roles.Roles(r.Context(), claims.UserID)
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable", Retryable: true})
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, Principal{UserID: claims.UserID, Roles: rl})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func RequireSeller(next http.Handler) http.Handler {
	return requireRole(func(r identity.Roles) bool { return r.IsSeller })(next)
}

func RequireAdmin(next http.Handler) http.Handler {
	return requireRole(func(r identity.Roles) bool { return r.IsAdmin })(next)
}

func requireRole(ok func(identity.Roles) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, found := PrincipalFrom(r.Context())
			if !found {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			if !ok(p.Roles) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
