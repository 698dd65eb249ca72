package handler

import (
	"restaurant-service/internal/middleware"
	"restaurant-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
)

// Register mounts the public and the authenticated routes on e
func (h *Handler) Register(e *echo.Echo, jwtUtil *jwtutil.JWTUtil) {
	e.Validator = NewRequestValidator()

	e.GET("/health", HealthCheck)

	public := e.Group("/public/restaurants/:restaurant_id")
	public.GET("/menu", h.PublicMenu)
	public.POST("/orders", h.PublicCreateOrder)

	api := e.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(jwtUtil))

	api.GET("/menu", h.GetMenu)
	api.POST("/categories", h.CreateCategory)
	api.POST("/menu-items", h.CreateMenuItem)
	api.PUT("/menu-items/:id", h.UpdateMenuItem)
	api.PUT("/branches/:branch_id/overrides/:menu_item_id", h.SetOverride)
	api.DELETE("/branches/:branch_id/overrides/:menu_item_id", h.ClearOverride)

	api.POST("/ingredients", h.CreateIngredient)
	api.PUT("/branches/:branch_id/stock/:ingredient_id", h.SetBranchStock)
	api.POST("/stock/adjustments", h.AdjustStock)
	api.GET("/stock", h.ListStock)

	api.POST("/orders", h.CreateOrder)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/payments", h.RecordPayment)
}
