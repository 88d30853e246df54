package auth

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// RequireAuth middleware checks for a valid bearer token in the Authorization
// header. The token is compared against the configured secret key in constant
// time. Returns 401 Unauthorized if authentication fails.
func RequireAuth(secretKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")

		if authHeader == "" {
			log.Println("Auth: No Authorization header present")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Parse Authorization header: "Bearer <token>" (RFC 7235)
		// Use strings.Fields to handle multiple spaces and trim whitespace
		// Bearer scheme is case-insensitive per RFC 7235
		fields := strings.Fields(authHeader)
		if len(fields) < 2 {
			log.Println("Auth: Invalid Authorization header format")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !strings.EqualFold(fields[0], "Bearer") {
			log.Println("Auth: Invalid Authorization header format")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.Join(fields[1:], " "))
		if err := ValidateToken(token, secretKey); err != nil {
			log.Printf("Auth: Token validation failed: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ValidateToken compares the presented token against the configured secret
// key in constant time.
func ValidateToken(token, secretKey string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is empty")
	}

	if secretKey == "" {
		return fmt.Errorf("no secret key configured")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(secretKey)) != 1 {
		return fmt.Errorf("token mismatch")
	}

	return nil
}
