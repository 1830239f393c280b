package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"braillescan/internal/pkg/jwtutil"
	"braillescan/internal/transport/http/response"
)

// BlobToken requires a valid ?token= issued for the requested key. With an
// empty secret the blobs are public and every request passes.
func BlobToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, "missing blob token")
			return
		}

		key := strings.TrimPrefix(c.Param("key"), "/")
		if err := jwtutil.VerifyKey(secret, token, key); err != nil {
			response.Abort(c, http.StatusForbidden, "invalid or expired blob token")
			return
		}
		c.Next()
	}
}
