package handler

import (
	"net/http"

	"restaurant-service/internal/inventory"
	"restaurant-service/internal/model"
	"restaurant-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type IngredientRequest struct {
	Name              string          `json:"name" validate:"required,max=120"`
	Unit              model.Unit      `json:"unit" validate:"required,oneof=g kg ml l pc"`
	BranchID          *uint           `json:"branch_id" validate:"omitempty,gt=0"`
	Stock             decimal.Decimal `json:"stock"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
}

type BranchStockRequest struct {
	Stock             decimal.Decimal `json:"stock"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
}

type StockDeltaRequest struct {
	IngredientID uint            `json:"ingredient_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// AdjustRequest applies signed corrections to the selected pool; Clamp floors removals at zero
type AdjustRequest struct {
	BranchID *uint               `json:"branch_id" validate:"omitempty,gt=0"`
	Clamp    bool                `json:"clamp"`
	Deltas   []StockDeltaRequest `json:"deltas" validate:"required,min=1,dive"`
}

// StockLevelResponse flags levels at or under their threshold
type StockLevelResponse struct {
	model.StockLevel
	Low bool `json:"low"`
}

// CreateIngredient defines an ingredient with its opening restaurant stock
func (h *Handler) CreateIngredient(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	var req IngredientRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := checkBound(c, req.BranchID); err != nil {
		return fail(c, err)
	}

	item, err := h.inventory.CreateIngredient(c.Request().Context(), inventory.CreateIngredientInput{
		RestaurantID:      rid,
		BranchID:          req.BranchID,
		Name:              req.Name,
		Unit:              req.Unit,
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
		CostPerUnit:       req.CostPerUnit,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Ingredient created successfully",
		zap.Uint("ingredient_id", item.ID),
		zap.String("name", item.Name))
	return c.JSON(http.StatusCreated, item)
}

// SetBranchStock creates or replaces a branch's stock row for an ingredient
func (h *Handler) SetBranchStock(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := h.pathBranch(c)
	if err != nil {
		return fail(c, err)
	}
	ingredientID, err := pathUint(c, "ingredient_id")
	if err != nil {
		return fail(c, err)
	}
	var req BranchStockRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	row, err := h.inventory.SetBranchStock(c.Request().Context(), inventory.SetBranchStockInput{
		RestaurantID:      rid,
		BranchID:          branchID,
		IngredientID:      ingredientID,
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
		CostPerUnit:       req.CostPerUnit,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Branch stock set",
		zap.Uint("branch_id", branchID),
		zap.Uint("ingredient_id", ingredientID),
		zap.String("stock", row.Stock.String()))
	return c.JSON(http.StatusOK, row)
}

// AdjustStock applies a batch of manual corrections atomically
func (h *Handler) AdjustStock(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	var req AdjustRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if bound := branchOf(c); bound != nil {
		if req.BranchID != nil && *req.BranchID != *bound {
			return fail(c, echo.NewHTTPError(http.StatusForbidden, "token is bound to another branch"))
		}
		req.BranchID = bound
	}

	deltas := make([]model.StockDelta, 0, len(req.Deltas))
	for _, d := range req.Deltas {
		deltas = append(deltas, model.StockDelta{IngredientID: d.IngredientID, Quantity: d.Quantity})
	}
	err = h.inventory.Adjust(c.Request().Context(), inventory.AdjustInput{
		RestaurantID: rid,
		BranchID:     req.BranchID,
		Deltas:       deltas,
		Clamp:        req.Clamp,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Stock adjusted", zap.Int("count", len(deltas)), zap.Bool("clamp", req.Clamp))
	return c.NoContent(http.StatusNoContent)
}

// ListStock returns the stock levels of the restaurant pool or one branch
func (h *Handler) ListStock(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := branchScope(c)
	if err != nil {
		return fail(c, err)
	}

	levels, err := h.inventory.ListStock(c.Request().Context(), rid, branchID)
	if err != nil {
		return fail(c, err)
	}

	out := make([]StockLevelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, StockLevelResponse{StockLevel: l, Low: l.Low()})
	}

	log.Info("Stock levels retrieved", zap.Int("count", len(out)))
	return c.JSON(http.StatusOK, out)
}
