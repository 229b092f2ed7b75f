package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string
	Role     string
	TenantID string
}

// PrincipalFrom returns the caller attached by Middleware, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// Middleware resolves a bearer token into a Principal. Requests without an
// Authorization header pass through unauthenticated.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || raw == "" {
			deny(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header")
			return
		}
		token, err := s.ValidateToken(r.Context(), raw)
		if err != nil {
			deny(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		p := &Principal{UserID: token.UserID, Role: token.Role}
		if u, err := s.storage.GetUser(r.Context(), token.UserID); err == nil && u != nil {
			p.Role = u.Role
			p.TenantID = u.TenantID
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequirePermission rejects callers whose role does not grant act on obj.
func (s *Service) RequirePermission(obj, act string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		allowed, err := s.Enforce(p.UserID, obj, act)
		if err != nil {
			deny(w, http.StatusInternalServerError, "INTERNAL", "authorization check failed")
			return
		}
		if !allowed {
			deny(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
