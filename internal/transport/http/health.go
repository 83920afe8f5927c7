package http

import (
	"context"
	stdhttp "net/http"
	"time"
)

// HealthHandler reports basic liveness for the service.
func HealthHandler(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler reports whether the backing stores answer. A nil check is
// always ready.
func ReadyHandler(check func(ctx context.Context) error) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeError(w, stdhttp.StatusServiceUnavailable, codeNotReady, "not ready")
				return
			}
		}
		HealthHandler(w, r)
	}
}
