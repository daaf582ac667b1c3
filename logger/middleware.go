package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns a chi-compatible middleware that logs each request
// at debug level, or warn when the response is a server error.
func RequestLogger(log *Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{r.Method, r.URL.Path, status, time.Since(start).Milliseconds(), ww.BytesWritten()}
			if status >= http.StatusInternalServerError {
				log.Warn("request %s %s %d %dms %dB", args...)
				return
			}
			log.Debug("request %s %s %d %dms %dB", args...)
		})
	}
}
