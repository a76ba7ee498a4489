package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS matches original_source/main.rs's CorsLayer: any origin, the
// gateway's method set, any header.
func CORS(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	return c.Handler(next)
}
