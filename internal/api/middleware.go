package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/internal/auth"
)

const claimsKey = "claims"

// RequireOperator rejects requests without a valid operator bearer token
func RequireOperator(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var token string
			authHeader := c.Request().Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimSpace(authHeader[len("Bearer "):])
			}
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
				msg := "Invalid JWT token"
				if auth.IsExpired(err) {
					msg = "Expired JWT token"
				}
				return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_token", Message: msg})
			}

			if claims.Role != auth.RoleOperator {
				logger.Warn("Request rejected: invalid role", zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Only operator tokens are allowed",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func subject(c echo.Context) string {
	if claims, ok := c.Get(claimsKey).(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}
