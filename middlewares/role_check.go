package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/utils"
)

// RoleCheck lets only the listed staff roles through. It must run after
// AdminAuth.
func RoleCheck(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		admin := CurrentAdmin(c)
		if admin == nil {
			utils.RespondError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}
		if !allowed[admin.Role] {
			utils.RespondError(c, http.StatusForbidden, fmt.Errorf("%s role cannot do this", admin.Role))
			c.Abort()
			return
		}
		c.Next()
	}
}
