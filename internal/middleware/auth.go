package middleware

import (
	"crypto/subtle"
	"net/http"
)

const (
	// HeaderName carries the API key on API requests.
	HeaderName = "X-API-Key"
	// CookieName carries the API key after /auth/login.
	CookieName = "api_key"
)

// publicPaths are reachable without a key.
var publicPaths = map[string]bool{
	"/healthz":    true,
	"/auth/login": true,
}

// AuthMiddleware sprawdza klucz API z nagłówka X-API-Key albo z cookie 'api_key'.
// Pusty klucz wyłącza uwierzytelnianie.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderName)
			if key == "" {
				if cookie, err := r.Cookie(CookieName); err == nil {
					key = cookie.Value
				}
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
