package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/auth"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

type authContextKey string

type authInfo struct {
	UserID      string
	Role        string
	DisplayName string
}

const contextKeyAuth authContextKey = "telemetry-auth-info"

// requireAuth ensures the request has a valid bearer token before invoking
// the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		next(w, req.WithContext(ctx))
	}
}

// requireRole layers a role allow-list on top of requireAuth.
func (r *Router) requireRole(roles []string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		info, _ := authInfoFromContext(req.Context())
		for _, role := range roles {
			if info.Role == role {
				next(w, req)
				return
			}
		}
		r.auditDenied(req, "role not permitted for resource")
		writeError(w, http.StatusForbidden, "insufficient role")
	})
}

// ensureAuth validates the Authorization header and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), authInfo{}, false
	}
	claims, err := auth.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), authInfo{}, false
	}
	info := authInfo{UserID: claims.UserID, Role: claims.Role, DisplayName: claims.DisplayName}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

// actorFromRequest converts auth context into a record actor. Anonymous
// traffic yields the zero actor.
func actorFromRequest(req *http.Request) domain.Actor {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		return domain.Actor{}
	}
	return domain.Actor{UserID: info.UserID, Role: info.Role, DisplayName: info.DisplayName}
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
