package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns a configuration for local web frontends.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}
}

// NewCORSConfig fills the defaults around the configured origins.
func NewCORSConfig(origins []string, credentials bool) CORSConfig {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = credentials
	return cfg
}

// CORS creates a CORS middleware with the provided configuration. With no
// origins configured, cross-origin requests get no CORS headers at all.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	if len(cfg.AllowOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		AllowCredentials: cfg.AllowCredentials,
		AllowWildcard:    true,
		MaxAge:           cfg.MaxAge,
	})
}

// OriginAllowed reports whether a browser origin may open a websocket.
// Requests without an Origin header come from non-browser clients and are
// allowed.
func (cfg CORSConfig) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range cfg.AllowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
