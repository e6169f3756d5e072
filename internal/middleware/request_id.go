package middleware

import (
	"net/http"
	"time"

	reqcontext "github.com/prajwalbharadwajbm/bidbeacon/internal/context"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware adds request IDs to incoming requests
type RequestIDMiddleware struct{}

// NewRequestIDMiddleware creates a new request ID middleware
func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

// Middleware returns the HTTP middleware function for request IDs. An
// upstream id is kept, otherwise a new one is generated.
func (m *RequestIDMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqcontext.NewRequestContext(r.Context(), r.UserAgent(), r.RemoteAddr)
		if upstream := r.Header.Get(RequestIDHeader); upstream != "" {
			ctx = reqcontext.WithRequestID(ctx, upstream)
		}
		ctx = reqcontext.WithStartTime(ctx, time.Now())

		w.Header().Set(RequestIDHeader, reqcontext.GetRequestID(ctx))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
