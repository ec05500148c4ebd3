package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type contextKey string

const ownerKey contextKey = "owner_id"

// AuthMiddleware verifies the bearer token and puts its subject into the
// request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}

			owner, err := auth.Verify(secret, token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerMiddleware rejects requests for a collection that does not belong to
// the authenticated caller.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "ownerID") != ownerFromContext(r.Context()) {
			respondError(w, http.StatusForbidden, "permission_denied", "collection belongs to another user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ownerFromContext(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerKey).(string); ok {
		return owner
	}
	return ""
}

// RequestLogger logs one line per request with logrus.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
