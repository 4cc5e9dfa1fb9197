package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/config"
	"solver-backend/internal/dto"
)

// ContextUserKey gin context key holding the authenticated subject
const ContextUserKey = "auth_user"

// JWTAuth validates the Bearer token on protected routes. When auth is
// disabled in configuration the middleware passes everything through.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := config.AppConfig
		if cfg == nil || !cfg.Auth.RequireAuth {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.Auth.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			log.WithError(err).WithField("path", c.Request.URL.Path).
				Warn("Rejected request with invalid token")
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				c.Set(ContextUserKey, sub)
			}
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	correlationID, _ := c.Get(ContextCorrelationKey)
	id, _ := correlationID.(string)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error:         message,
		Code:          "UNAUTHORIZED",
		CorrelationID: id,
	})
}
