package inventory

import (
	"context"
	"sort"

	"restaurant-service/internal/model"
	"restaurant-service/internal/store"

	"github.com/shopspring/decimal"
)

const (
	ScopeRestaurant = "restaurant"
	ScopeBranch     = "branch"
)

// StockSource is one stock pool. The pool is chosen once per request from branch presence
// and both the resolver and the ledger read through the same variant.
type StockSource interface {
	Scope() string
	RestaurantID() uint
	// BranchID is nil for the restaurant-level pool
	BranchID() *uint
	// Levels returns the current quantity of the given ingredients; nil means all of them.
	// An ingredient without a row in this pool is absent from the result.
	Levels(ctx context.Context, ids []uint) (map[uint]model.StockLevel, error)
	Apply(ctx context.Context, deltas []model.StockDelta, mode model.ApplyMode) error
}

// SourceFor picks the branch pool when a branch is given, else the legacy restaurant pool
func SourceFor(s store.InventoryStore, restaurantID uint, branchID *uint) StockSource {
	if branchID == nil {
		return restaurantScopedStock{store: s, restaurantID: restaurantID}
	}
	return branchScopedStock{store: s, restaurantID: restaurantID, branchID: *branchID}
}

type restaurantScopedStock struct {
	store        store.InventoryStore
	restaurantID uint
}

func (r restaurantScopedStock) Scope() string      { return ScopeRestaurant }
func (r restaurantScopedStock) RestaurantID() uint { return r.restaurantID }
func (r restaurantScopedStock) BranchID() *uint    { return nil }

func (r restaurantScopedStock) Levels(ctx context.Context, ids []uint) (map[uint]model.StockLevel, error) {
	return r.store.RestaurantStockLevels(ctx, r.restaurantID, ids)
}

func (r restaurantScopedStock) Apply(ctx context.Context, deltas []model.StockDelta, mode model.ApplyMode) error {
	return r.store.ApplyRestaurantStock(ctx, r.restaurantID, deltas, mode)
}

// branchScopedStock reads BranchInventory only; a missing row is zero stock
type branchScopedStock struct {
	store        store.InventoryStore
	restaurantID uint
	branchID     uint
}

func (b branchScopedStock) Scope() string      { return ScopeBranch }
func (b branchScopedStock) RestaurantID() uint { return b.restaurantID }

func (b branchScopedStock) BranchID() *uint {
	id := b.branchID
	return &id
}

func (b branchScopedStock) Levels(ctx context.Context, ids []uint) (map[uint]model.StockLevel, error) {
	return b.store.BranchStockLevels(ctx, b.restaurantID, b.branchID, ids)
}

func (b branchScopedStock) Apply(ctx context.Context, deltas []model.StockDelta, mode model.ApplyMode) error {
	return b.store.ApplyBranchStock(ctx, b.restaurantID, b.branchID, deltas, mode)
}

// Requirement is the total quantity needed per ingredient id
type Requirement map[uint]decimal.Decimal

// Add accumulates units sold of one recipe
func (r Requirement) Add(recipe []model.RecipeLine, units int) {
	n := decimal.NewFromInt(int64(units))
	for _, line := range recipe {
		r[line.InventoryItemID] = r[line.InventoryItemID].Add(line.Quantity.Mul(n))
	}
}

// IDs returns the ingredient ids in ascending order
func (r Requirement) IDs() []uint {
	ids := make([]uint, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// deltas turns the requirement into signed stock changes, skipping zero quantities
func (r Requirement) deltas(sign int64) []model.StockDelta {
	out := make([]model.StockDelta, 0, len(r))
	for _, id := range r.IDs() {
		qty := r[id]
		if qty.IsZero() {
			continue
		}
		out = append(out, model.StockDelta{IngredientID: id, Quantity: qty.Mul(decimal.NewFromInt(sign))})
	}
	return out
}

// Covers reports whether levels hold enough for one unit of the recipe, and which ingredients
// fall short. An ingredient missing from levels is short.
func Covers(recipe []model.RecipeLine, levels map[uint]model.StockLevel) (bool, []uint) {
	perUnit := Requirement{}
	perUnit.Add(recipe, 1)

	var short []uint
	for _, id := range perUnit.IDs() {
		level, ok := levels[id]
		if !ok || perUnit[id].GreaterThan(level.Quantity) {
			short = append(short, id)
		}
	}
	return len(short) == 0, short
}
