package api

import (
	"context"
	"net/http"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
)

// Session identifies the authenticated caller. Authentication itself is
// external; the API only needs to know who the session belongs to and
// whether they carry the admin role.
type Session struct {
	UserID string
	Role   domain.UserRole
}

// SessionResolver resolves a request to its session. Implementations live
// outside this package (cookie store, OIDC proxy, test stub); a nil
// session with a nil error means unauthenticated.
type SessionResolver interface {
	Resolve(r *http.Request) (*Session, error)
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// requireUser rejects unauthenticated requests and stashes the session in
// the request context for handlers downstream.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.sessions.Resolve(r)
		if err != nil {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if sess == nil || sess.UserID == "" {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

// requireAdmin gates the /admin surface.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		if sess == nil || sess.Role != domain.RoleAdmin {
			httputil.Error(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
