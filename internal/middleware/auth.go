package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/adaptest/backend/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates the Bearer token and puts the user ID into the
// request context under "user_id".
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "Missing or malformed Authorization header")
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return auth.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			unauthorized(w, "Invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(w, "Invalid token claims")
			return
		}
		rawID, ok := claims["user_id"].(float64)
		if !ok {
			unauthorized(w, "Invalid token claims")
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", int64(rawID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
