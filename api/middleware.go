package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/impala/lesson-engine/engine"
)

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// requestLogger logs one line per request once the response is written.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// ACTOR & ROLES
// =============================================================================

// The caller is identified by the X-Role and X-User-ID headers, set by the
// authenticating proxy in front of this service.
const (
	headerRole   = "X-Role"
	headerUserID = "X-User-ID"
)

type actor struct {
	Role   engine.Role
	UserID engine.UserID
}

type actorKey struct{}

func actorFrom(ctx context.Context) actor {
	a, _ := ctx.Value(actorKey{}).(actor)
	return a
}

// identify reads the caller's headers into the request context.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := actor{Role: engine.Role(r.Header.Get(headerRole))}
		if raw := r.Header.Get(headerUserID); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid "+headerUserID+" header", err)
				return
			}
			a.UserID = engine.UserID(id)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

// requireRole admits callers holding one of roles. Students and teachers
// must also say who they are, since they only see their own records.
func requireRole(roles ...engine.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actorFrom(r.Context())
			if !a.Role.Valid() {
				writeError(w, http.StatusUnauthorized, "Missing or unknown "+headerRole+" header", nil)
				return
			}
			allowed := false
			for _, role := range roles {
				if a.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "Role "+string(a.Role)+" may not do this", nil)
				return
			}
			if !a.Role.IsStaff() && a.UserID == 0 {
				writeError(w, http.StatusUnauthorized, "Missing "+headerUserID+" header", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var staffRoles = []engine.Role{engine.RoleDirector, engine.RoleSuperAdmin, engine.RoleAdmin}

func staff() func(http.Handler) http.Handler { return requireRole(staffRoles...) }

func staffOr(roles ...engine.Role) func(http.Handler) http.Handler {
	return requireRole(append(append([]engine.Role{}, staffRoles...), roles...)...)
}
