package middleware

import (
	"net/http"
	"strings"

	"restaurant-service/pkg/jwtutil"
	"restaurant-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	restaurantIDKey = "restaurant_id"
	branchIDKey     = "branch_id"
)

// JWTAuthMiddleware validates the bearer token and puts the caller's restaurant, and branch
// when the token is bound to one, into the context
func JWTAuthMiddleware(jwtUtil *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid Authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := jwtUtil.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			if claims.TenantID == nil {
				log.Warn("JWT token does not contain tenant_id", zap.Uint("user_id", claims.UserID))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "token is not bound to a restaurant"})
			}

			c.Set("user_id", claims.UserID)
			c.Set("email", claims.Email)
			c.Set("user_role", claims.Role)
			c.Set(restaurantIDKey, *claims.TenantID)
			fields := []zap.Field{
				zap.Uint("restaurant_id", *claims.TenantID),
				zap.Uint("user_id", claims.UserID),
			}
			if claims.BranchID != nil {
				c.Set(branchIDKey, *claims.BranchID)
				fields = append(fields, zap.Uint("branch_id", *claims.BranchID))
			}
			c.Set("logger", log.With(fields...))

			return next(c)
		}
	}
}

// RestaurantIDFromContext returns the authenticated restaurant
func RestaurantIDFromContext(c echo.Context) (uint, bool) {
	id, ok := c.Get(restaurantIDKey).(uint)
	return id, ok
}

// BranchIDFromContext returns the branch the token is bound to, if any
func BranchIDFromContext(c echo.Context) *uint {
	id, ok := c.Get(branchIDKey).(uint)
	if !ok {
		return nil
	}
	return &id
}
