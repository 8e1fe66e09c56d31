package jobapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/neurobench/runtime/logger"
)

// LoggerMiddleware logs one line per request, in the teacher jobapi
// package's "METHOD\tpath\tduration" shape.
func LoggerMiddleware(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := time.Now()
			defer func() {
				l.Debug("[jobapi] %s\t%s\t%s", r.Method, r.URL.Path, time.Since(t))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware checks the Authorization header against token. An empty
// token disables auth entirely, for hosts binding to localhost only.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, errors.New("authorization header is required"), http.StatusUnauthorized)
				return
			}

			authType, reqToken, found := strings.Cut(auth, " ")
			if !found || authType != "Bearer" || reqToken != token {
				writeError(w, errors.New("invalid authorization header"), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HeadersMiddleware sets the common JSON response header. The SSE route
// overrides it with its own Content-Type.
func HeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
