package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seenimoa/b3fetch/internal/logger"
)

// requestLogger logs one structured entry per request.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logger.Field{
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", status),
				logger.Duration("duration", time.Since(start)),
				logger.Int("bytes", ww.BytesWritten()),
				logger.String("client_ip", r.RemoteAddr),
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				fields = append(fields, logger.String("request_id", id))
			}
			if q := r.URL.RawQuery; q != "" {
				fields = append(fields, logger.String("query", q))
			}
			if !strings.HasPrefix(r.URL.Path, "/health") && !strings.HasPrefix(r.URL.Path, "/metrics") {
				fields = append(fields, logger.String("user_agent", r.UserAgent()))
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("HTTP request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("HTTP request", fields...)
			default:
				log.Info("HTTP request", fields...)
			}
		})
	}
}
