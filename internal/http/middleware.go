package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jhologic12/eshop-mvp/pkg/logger"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDHeader is set by the upstream auth layer once the caller is authenticated.
const UserIDHeader = "X-User-ID"

var ErrUnauthenticated = errors.New("missing user authentication")

// IdentityResolver turns a request into the id of the calling user.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderIdentity trusts a header written by the auth proxy in front of the API.
type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) Resolve(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = UserIDHeader
	}
	userID := strings.TrimSpace(r.Header.Get(name))
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// AuthMiddleware rejects requests without a resolvable user.
func AuthMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.Resolve(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			defer func() {
				log.Info(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(started),
					"request_id", middleware.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
