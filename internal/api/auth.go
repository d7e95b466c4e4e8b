package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// If a token is configured, all protected routes require:
// Authorization: Bearer <token>
//
// Public endpoints (health, metrics, websocket stream) are excluded.
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// An empty token allows all requests (dev mode), with a loud warning
// when the router runs in release mode.
func AuthMiddleware(token string) gin.HandlerFunc {
	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] API_AUTH_TOKEN is not set in release mode. " +
			"All protected endpoints are publicly accessible.")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			abortError(c, http.StatusUnauthorized, "MISSING_INPUT", "missing Authorization header")
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortError(c, http.StatusForbidden, "INVALID_STATE", "invalid Authorization header format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			abortError(c, http.StatusForbidden, "INVALID_STATE", "invalid token")
			return
		}
		c.Next()
	}
}
