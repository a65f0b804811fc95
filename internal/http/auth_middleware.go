package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
)

type authContextKey string

const contextKeyPrincipal authContextKey = "sat-principal"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request carries a valid bearer token before invoking
// the handler. The resolved principal comes from the user directory, not the
// token body, so privilege changes take effect immediately.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAdmin layers an admin check on top of requireAuth.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok {
			r.logger.Error("auth context missing after guard", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "authorization context missing")
			return
		}
		if !principal.IsAdmin {
			writeError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next(w, req)
	})
}

// ensureAuth validates the Authorization header and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, *domain.User, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeAuthError(w, "could not validate credentials")
		return req.Context(), nil, false
	}
	user, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeAuthError(w, "could not validate credentials")
		return req.Context(), nil, false
	}
	ctx := context.WithValue(req.Context(), contextKeyPrincipal, user)
	return ctx, user, true
}

// principalFromContext extracts the resolved user from context.
func principalFromContext(ctx context.Context) (*domain.User, bool) {
	value := ctx.Value(contextKeyPrincipal)
	if value == nil {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
