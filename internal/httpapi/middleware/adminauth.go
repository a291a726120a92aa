package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatgate/internal/common"
)

// AdminAuth guards the admin group with a static bearer token. An empty
// configured token disables the whole group rather than opening it.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			common.Fail(c, http.StatusForbidden, 40300, "admin API disabled")
			c.Abort()
			return
		}
		h := c.GetHeader("Authorization")
		got, found := strings.CutPrefix(h, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			common.Fail(c, http.StatusUnauthorized, 40100, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
