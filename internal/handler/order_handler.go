package handler

import (
	"net/http"
	"strconv"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/order"
	"restaurant-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderLineRequest struct {
	MenuItemID uint `json:"menu_item_id" validate:"required"`
	Quantity   int  `json:"quantity" validate:"required,gt=0"`
}

// OrderRequest places an order; Source is ignored on the public route
type OrderRequest struct {
	BranchID      *uint              `json:"branch_id" validate:"omitempty,gt=0"`
	Type          model.OrderType    `json:"type" validate:"required,oneof=dine_in takeaway delivery"`
	Source        model.OrderSource  `json:"source" validate:"omitempty,oneof=pos website"`
	TableID       *uint              `json:"table_id" validate:"omitempty,gt=0"`
	CustomerName  string             `json:"customer_name" validate:"max=120"`
	CustomerPhone string             `json:"customer_phone" validate:"max=40"`
	Notes         string             `json:"notes" validate:"max=1000"`
	Items         []OrderLineRequest `json:"items" validate:"required,min=1,dive"`
}

func (r OrderRequest) input(restaurantID uint, source model.OrderSource) order.CreateInput {
	lines := make([]order.LineInput, 0, len(r.Items))
	for _, l := range r.Items {
		lines = append(lines, order.LineInput{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
	}
	return order.CreateInput{
		RestaurantID:  restaurantID,
		BranchID:      r.BranchID,
		Type:          r.Type,
		Source:        source,
		TableID:       r.TableID,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Notes:         r.Notes,
		Items:         lines,
	}
}

type StatusRequest struct {
	Status model.OrderStatus `json:"status" validate:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type PaymentRequest struct {
	Method model.PaymentMethod `json:"method" validate:"required,oneof=cash card online"`
	Amount decimal.Decimal     `json:"amount"`
}

// CreateOrder places a staff order; the source defaults to pos
func (h *Handler) CreateOrder(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	var req OrderRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if bound := branchOf(c); bound != nil {
		if req.BranchID != nil && *req.BranchID != *bound {
			return fail(c, echo.NewHTTPError(http.StatusForbidden, "token is bound to another branch"))
		}
		req.BranchID = bound
	}
	source := req.Source
	if source == "" {
		source = model.SourcePOS
	}

	o, err := h.orders.Create(c.Request().Context(), req.input(rid, source))
	if err != nil {
		return fail(c, err)
	}

	log.Info("Order created successfully",
		zap.Uint("order_id", o.ID),
		zap.Int("order_number", o.OrderNumber),
		zap.String("total", o.Total.String()))
	return c.JSON(http.StatusCreated, o)
}

// PublicCreateOrder places a website order for an unauthenticated customer
func (h *Handler) PublicCreateOrder(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := pathUint(c, "restaurant_id")
	if err != nil {
		return fail(c, err)
	}
	var req OrderRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	o, err := h.orders.Create(c.Request().Context(), req.input(rid, model.SourceWebsite))
	if err != nil {
		return fail(c, err)
	}

	log.Info("Website order created",
		zap.Uint("restaurant_id", rid),
		zap.Uint("order_id", o.ID),
		zap.Int("order_number", o.OrderNumber))
	return c.JSON(http.StatusCreated, o)
}

// GetOrder returns one order of the caller's restaurant
func (h *Handler) GetOrder(c echo.Context) error {
	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return fail(c, err)
	}

	o, err := h.orders.Get(c.Request().Context(), rid, id)
	if err != nil {
		return fail(c, err)
	}
	if err := checkBound(c, o.BranchID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// ListOrders filters by branch, comma separated statuses and business day
func (h *Handler) ListOrders(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := branchScope(c)
	if err != nil {
		return fail(c, err)
	}

	filter := model.OrderFilter{
		BranchID:    branchID,
		BusinessDay: c.QueryParam("business_day"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, model.OrderStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return fail(c, err)
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return fail(c, err)
	}

	orders, err := h.orders.List(c.Request().Context(), rid, filter)
	if err != nil {
		return fail(c, err)
	}

	log.Info("Orders retrieved", zap.Int("count", len(orders)))
	return c.JSON(http.StatusOK, orders)
}

// UpdateOrderStatus moves an order through the kitchen workflow
func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req StatusRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := h.ownOrder(c, rid, id); err != nil {
		return fail(c, err)
	}

	o, err := h.orders.AdvanceStatus(c.Request().Context(), rid, id, model.OrderStatus(strings.ToUpper(string(req.Status))))
	if err != nil {
		return fail(c, err)
	}

	log.Info("Order status updated", zap.Uint("order_id", o.ID), zap.String("status", string(o.Status)))
	return c.JSON(http.StatusOK, o)
}

// CancelOrder cancels an order and puts its consumed stock back
func (h *Handler) CancelOrder(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req CancelRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := h.ownOrder(c, rid, id); err != nil {
		return fail(c, err)
	}

	o, err := h.orders.Cancel(c.Request().Context(), rid, id, req.Reason)
	if err != nil {
		return fail(c, err)
	}

	log.Info("Order cancelled", zap.Uint("order_id", o.ID))
	return c.JSON(http.StatusOK, o)
}

// RecordPayment settles an order
func (h *Handler) RecordPayment(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req PaymentRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := h.ownOrder(c, rid, id); err != nil {
		return fail(c, err)
	}

	o, err := h.orders.RecordPayment(c.Request().Context(), rid, id, order.PaymentInput{
		Method: req.Method,
		Amount: req.Amount,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Payment recorded",
		zap.Uint("order_id", o.ID),
		zap.String("method", string(req.Method)))
	return c.JSON(http.StatusOK, o)
}

// ownOrder loads the order for branch-bound tokens and refuses other branches' orders
func (h *Handler) ownOrder(c echo.Context, restaurantID, orderID uint) error {
	if branchOf(c) == nil {
		return nil
	}
	o, err := h.orders.Get(c.Request().Context(), restaurantID, orderID)
	if err != nil {
		return err
	}
	return checkBound(c, o.BranchID)
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	return v, nil
}
