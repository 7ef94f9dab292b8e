package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"heartpulse-billing/internal/config"
	"heartpulse-billing/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserAuthMiddleware authenticates the calling user from a bearer token and
// stores the resolved user id in the context. The identity link and backfill
// endpoints require it; the webhook endpoint does not (Apple calls that one).
func UserAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Fail(c, http.StatusUnauthorized, "Missing bearer token")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(config.AppConfig.AuthJWTSecret), nil
		})
		if err != nil || !token.Valid {
			response.Fail(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}

		userID, err := token.Claims.GetSubject()
		if err != nil || userID == "" {
			response.Fail(c, http.StatusUnauthorized, "Token has no subject")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}
