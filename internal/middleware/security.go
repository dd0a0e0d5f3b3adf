// security.go sets the protective response headers of the directory API.
// Every route answers JSON, so the policy denies framing and content sniffing.
// Responses that depend on who is calling are kept out of shared caches.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds the parts of the header policy that vary by deployment
type SecurityHeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge time.Duration
	// HSTSIncludeSubdomains adds includeSubDomains to the HSTS header
	HSTSIncludeSubdomains bool
}

// APISecurityHeadersConfig returns the policy the server runs with
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,
	}
}

// jsonAPIHeaders are sent on every response
var jsonAPIHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
}

// SecurityHeadersMiddleware adds the directory's security headers to all responses.
//
// Search results differ per caller (member=true, guarded visibility for admins)
// and measures are only readable with a token, so any request carrying an
// Authorization header is answered with Cache-Control: private, no-store and
// Vary: Authorization.
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	hsts := ""
	if config.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge/time.Second), 10)
		if config.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		for _, h := range jsonAPIHeaders {
			c.Header(h[0], h[1])
		}
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}

		c.Writer.Header().Add("Vary", "Authorization")
		if c.GetHeader("Authorization") != "" {
			c.Header("Cache-Control", "private, no-store")
		}

		c.Next()
	}
}
