package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions: clients and
// proxies may send one, and every response echoes the id that was used.
const HeaderRequestID = "X-Request-ID"

// requestIDKey is the context key under which RequestID stores the id.
type requestIDKey struct{}

// RequestIDFromContext returns the id stored by RequestID. It returns an
// empty string when the context did not pass through the middleware, for
// example in background workers.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID returns a middleware that gives every request a correlation id.
// A well-formed incoming X-Request-ID is reused so traces can span a gateway
// or load balancer. Anything else, including an oversized or binary header,
// is replaced with a fresh random UUID.
//
// The chosen id is:
//   - written to the X-Request-ID response header;
//   - stored in the request context for RequestIDFromContext, where
//     InjectLogger picks it up as the request_id log field.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// validRequestID accepts 1 to 128 bytes of printable ASCII (0x20-0x7E).
// Longer or binary values would bloat and corrupt log lines.
func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
