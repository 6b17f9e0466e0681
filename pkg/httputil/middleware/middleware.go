package middleware

import (
	"net/http"

	"github.com/edgeflare/restlet/pkg/httputil"
	"go.uber.org/zap"
)

// Chain wraps h so that middlewares run in the order given, the first one
// outermost.
func Chain(h http.Handler, middlewares ...httputil.Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Stack is the default middleware of a server, outermost first: request ID,
// CORS, metrics, then request logging unless logger is nil.
func Stack(logger *zap.Logger) httputil.Middleware {
	mws := []httputil.Middleware{RequestID, CORSWithOptions(nil), Metrics}
	if logger != nil {
		mws = append(mws, LoggerWithOptions(&LoggerOptions{Logger: logger}))
	}
	return func(next http.Handler) http.Handler {
		return Chain(next, mws...)
	}
}
