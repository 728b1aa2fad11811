package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

const (
	principalKey = "principal"
	adminKey     = "admin"
)

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// SessionAuth resolves a diner's ws_token into a live principal.
func SessionAuth(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			utils.RespondErrorCode(c, http.StatusUnauthorized, services.CodeInvalidToken, "Authorization header missing", nil)
			c.Abort()
			return
		}

		p, err := sessions.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			code := services.CodeInvalidToken
			if svcErr, ok := services.AsError(err); ok {
				code = svcErr.Code
				if svcErr.Kind == services.KindGone {
					status = http.StatusGone
				}
			} else {
				utils.ErrorLogger.WithError(err).Error("authenticate session token")
				status = http.StatusInternalServerError
				code = ""
			}
			utils.RespondErrorCode(c, status, code, "Invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// AdminAuth accepts staff tokens only; session tokens are rejected.
func AdminAuth(tokens *utils.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Authorization header missing"))
			c.Abort()
			return
		}

		claims := tokens.DecodeAdminToken(token)
		if claims == nil || claims.StaffID() == 0 {
			utils.RespondErrorCode(c, http.StatusUnauthorized, services.CodeInvalidToken, "Invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set(adminKey, &services.AdminPrincipal{
			StaffID:      claims.StaffID(),
			RestaurantID: claims.RestaurantID,
			Role:         claims.Role,
		})
		c.Next()
	}
}

func CurrentPrincipal(c *gin.Context) *services.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(*services.Principal)
	return principal
}

func CurrentAdmin(c *gin.Context) *services.AdminPrincipal {
	a, _ := c.Get(adminKey)
	admin, _ := a.(*services.AdminPrincipal)
	return admin
}
