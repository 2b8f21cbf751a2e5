package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorWriter writes the response for a recovered panic
type ErrorWriter func(w http.ResponseWriter, r *http.Request, recovered interface{})

func writeInternalError(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"internal server error"}`))
}

// Recovery returns a middleware that recovers from panics, logs them and
// answers with a JSON 500
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return RecoveryWithWriter(logger, writeInternalError)
}

// RecoveryWithWriter is Recovery with a custom error response
func RecoveryWithWriter(logger *zap.Logger, writeError ErrorWriter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				logger.Error("panic recovered",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Any("error", recovered),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, r, recovered)
			}()

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}
