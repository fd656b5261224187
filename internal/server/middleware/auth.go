package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines our custom JWT claims structure. Subject carries the
// user id; Name is the display name shown to room peers.
type AppClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// extractToken finds the credential in, by preference: the Authorization
// header, the session cookie, the token query parameter. The query fallback
// exists because browser websocket clients cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie("session-token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// NewAuthMiddleware rejects requests without a valid HMAC-signed token.
// Auth failure is the one hard error of the engine: the connection is
// refused before any room state exists.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("JWT token missing in request", "ip", reqMeta.IP)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Parse and validate the JWT token with HMAC signing
			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			// Reject token if invalid
			if err != nil || !token.Valid {
				logger.Warn("Invalid JWT token presented", "ip", reqMeta.IP, slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok {
				logger.Error("Failed to parse custom JWT claims", slog.Any("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim", "ip", reqMeta.IP)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.UserName = claims.Name
			if reqMeta.UserName == "" {
				reqMeta.UserName = claims.Subject
			}
			next.ServeHTTP(w, r)
		})
	}
}
