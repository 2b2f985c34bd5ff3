package middleware

import (
	"net/http"

	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id, minting one when absent,
// so every log line and downstream message can be correlated.
func (a *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.MustNew().String()
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(wrap.WithRequestID(r.Context(), id)))
	})
}
