package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

func SetChain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	return h
}

// HTTPResponseTraceInjection copies the active trace id onto the
// response so scrapes can be correlated with traces.
func HTTPResponseTraceInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanContextFromContext(r.Context())
		if sc.HasTraceID() {
			w.Header().Set("X-Trace-Id", sc.TraceID().String())
		}

		next.ServeHTTP(w, r)
	})
}

type HTTPRequestLogger struct {
	logger        *logrus.Logger
	debug         bool
	errorMinLevel int
}

func NewHTTPRequestLogger(logger *logrus.Logger, debug bool, errorMinLevel int) *HTTPRequestLogger {
	return &HTTPRequestLogger{
		logger:        logger,
		debug:         debug,
		errorMinLevel: errorMinLevel,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (l *HTTPRequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		entry := l.logger.WithContext(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})

		switch {
		case rec.status >= l.errorMinLevel:
			entry.Error("http request")
		case l.debug:
			entry.Info("http request")
		}
	})
}
