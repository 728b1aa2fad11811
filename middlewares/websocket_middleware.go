package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const wsTokenKey = "ws_token"

// WebSocketToken pulls the token from the query string before the upgrade.
// Validation happens after the upgrade so failures can be reported with a
// close code the client understands.
func WebSocketToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = bearerToken(c)
		}
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(wsTokenKey, token)
		c.Next()
	}
}

func WebSocketTokenFrom(c *gin.Context) string {
	return c.GetString(wsTokenKey)
}
