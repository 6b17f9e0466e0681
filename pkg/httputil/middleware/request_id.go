package middleware

import (
	"context"
	"net/http"

	"github.com/edgeflare/restlet/pkg/httputil"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// RequestID tags each request with an ID: the one already in the context, a
// valid UUID sent in X-Request-Id, or a new one. The ID is echoed in the
// response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, ok := httputil.RequestID(r)
		if !ok {
			if id, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
				reqID = id.String()
			} else {
				reqID = uuid.New().String()
			}
		}

		ctx := context.WithValue(r.Context(), httputil.RequestIDCtxKey, reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
