package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/stager/internal/api/response"
)

// Recovery turns a handler panic into a 500 and logs it with the request's
// route and, once Authenticate has run, the caller's key prefix.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &requestInfo{}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey, info))

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			attrs := []any{
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					attrs = append(attrs, "route", p)
				}
			}
			prefix, ok := getKeyPrefix(r)
			if !ok {
				prefix, ok = info.keyPrefix, info.keyPrefix != ""
			}
			if ok {
				attrs = append(attrs, "key_prefix", prefix)
			}
			attrs = append(attrs, "stack", string(debug.Stack()))

			slog.ErrorContext(r.Context(), "panic recovered", attrs...)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
