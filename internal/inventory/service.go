package inventory

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the persistence the inventory admin operations need
type Store interface {
	store.TenantStore
	store.InventoryStore
}

// Service holds the administrative inventory operations
type Service struct {
	store  Store
	ledger *Ledger
	log    *zap.Logger
}

func NewService(s Store, ledger *Ledger, log *zap.Logger) *Service {
	return &Service{store: s, ledger: ledger, log: log}
}

type CreateIngredientInput struct {
	RestaurantID      uint
	BranchID          *uint
	Name              string
	Unit              model.Unit
	Stock             decimal.Decimal
	LowStockThreshold decimal.Decimal
	CostPerUnit       decimal.Decimal
}

func (s *Service) CreateIngredient(ctx context.Context, in CreateIngredientInput) (*model.InventoryItem, error) {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "is required")
	}
	if !in.Unit.Valid() {
		v.Add("unit", "must be one of g, kg, ml, l, pc")
	}
	checkNonNegative(v, "stock", in.Stock)
	checkNonNegative(v, "low_stock_threshold", in.LowStockThreshold)
	checkNonNegative(v, "cost_per_unit", in.CostPerUnit)
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	if in.BranchID != nil {
		if _, err := s.store.GetBranch(ctx, in.RestaurantID, *in.BranchID); err != nil {
			return nil, err
		}
	}

	item := &model.InventoryItem{
		RestaurantID:      in.RestaurantID,
		BranchID:          in.BranchID,
		Name:              strings.TrimSpace(in.Name),
		Unit:              in.Unit,
		Stock:             in.Stock,
		LowStockThreshold: in.LowStockThreshold,
		CostPerUnit:       in.CostPerUnit,
	}
	if err := s.store.CreateInventoryItem(ctx, item); err != nil {
		return nil, err
	}

	s.log.Info("Ingredient created",
		zap.Uint("restaurant_id", item.RestaurantID),
		zap.Uint("ingredient_id", item.ID),
		zap.String("name", item.Name))
	return item, nil
}

type SetBranchStockInput struct {
	RestaurantID      uint
	BranchID          uint
	IngredientID      uint
	Stock             decimal.Decimal
	LowStockThreshold decimal.Decimal
	CostPerUnit       decimal.Decimal
}

// SetBranchStock creates or overwrites the branch's row for one ingredient
func (s *Service) SetBranchStock(ctx context.Context, in SetBranchStockInput) (*model.BranchInventory, error) {
	v := &apperr.ValidationError{}
	checkNonNegative(v, "stock", in.Stock)
	checkNonNegative(v, "low_stock_threshold", in.LowStockThreshold)
	checkNonNegative(v, "cost_per_unit", in.CostPerUnit)
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetBranch(ctx, in.RestaurantID, in.BranchID); err != nil {
		return nil, err
	}
	items, err := s.store.GetInventoryItems(ctx, in.RestaurantID, []uint{in.IngredientID})
	if err != nil {
		return nil, err
	}
	branchID := in.BranchID
	if len(items) == 0 || !items[0].VisibleTo(&branchID) {
		return nil, apperr.NotFound("inventory_item", in.IngredientID)
	}

	row := &model.BranchInventory{
		RestaurantID:      in.RestaurantID,
		BranchID:          in.BranchID,
		InventoryItemID:   in.IngredientID,
		Stock:             in.Stock,
		LowStockThreshold: in.LowStockThreshold,
		CostPerUnit:       in.CostPerUnit,
	}
	if err := s.store.UpsertBranchInventory(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

type AdjustInput struct {
	RestaurantID uint
	BranchID     *uint
	Deltas       []model.StockDelta
	// Clamp lets removals stop at zero instead of failing
	Clamp bool
}

// Adjust applies manual stock corrections through the ledger
func (s *Service) Adjust(ctx context.Context, in AdjustInput) error {
	v := &apperr.ValidationError{}
	if len(in.Deltas) == 0 {
		v.Add("deltas", "at least one adjustment is required")
	}
	seen := make(map[uint]bool, len(in.Deltas))
	for i, d := range in.Deltas {
		if d.IngredientID == 0 {
			v.Add(fieldIndex("deltas", i, "ingredient_id"), "is required")
		}
		if seen[d.IngredientID] {
			v.Add(fieldIndex("deltas", i, "ingredient_id"), "appears more than once")
		}
		seen[d.IngredientID] = true
		if d.Quantity.IsZero() {
			v.Add(fieldIndex("deltas", i, "quantity"), "must not be zero")
		}
	}
	if err := v.OrNil(); err != nil {
		return err
	}

	if in.BranchID != nil {
		if _, err := s.store.GetBranch(ctx, in.RestaurantID, *in.BranchID); err != nil {
			return err
		}
	}
	return s.ledger.Adjust(ctx, s.ledger.Source(in.RestaurantID, in.BranchID), in.Deltas, in.Clamp)
}

// ListStock returns every level of the pool selected by branch presence, by ingredient id
func (s *Service) ListStock(ctx context.Context, restaurantID uint, branchID *uint) ([]model.StockLevel, error) {
	if branchID != nil {
		if _, err := s.store.GetBranch(ctx, restaurantID, *branchID); err != nil {
			return nil, err
		}
	}
	levels, err := s.ledger.Source(restaurantID, branchID).Levels(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.StockLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngredientID < out[j].IngredientID })
	return out, nil
}

func checkNonNegative(v *apperr.ValidationError, field string, d decimal.Decimal) {
	if d.IsNegative() {
		v.Add(field, "must not be negative")
	}
}

func fieldIndex(list string, i int, field string) string {
	return list + "[" + strconv.Itoa(i) + "]." + field
}
