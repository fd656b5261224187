package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRequestLogger logs each request on the way in and again once the rest
// of the chain returns. The completion line carries the user id that auth
// resolved into the shared metadata, so a websocket session can be tied
// back to its upgrade request.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}
			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
			)

			start := time.Now()
			next.ServeHTTP(w, r)

			// Auth runs after this middleware and writes into the shared
			// metadata, so the user id is only known on the way out.
			var userID string
			if ok {
				userID = reqMeta.UserID
			}
			logger.Info("Request finished",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("userID", userID),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
