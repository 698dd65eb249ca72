// Package store defines the persistence contract shared by the postgres and in-memory backends.
//
// Lookups are always tenant-scoped: an entity owned by another restaurant is reported as
// apperr.NotFoundError, never returned. Uniqueness violations surface as apperr.ConflictError.
package store

import (
	"context"
	"errors"
	"time"

	"restaurant-service/internal/model"
)

var (
	// ErrStockGuard is returned by a guarded stock batch when any removal would go below
	// zero or hits a missing row. Nothing from the batch is applied.
	ErrStockGuard = errors.New("stock guard rejected the batch")

	// ErrStatusGuard is returned when an order is not in any of the expected statuses
	ErrStatusGuard = errors.New("order status changed concurrently")
)

type TenantStore interface {
	CreateRestaurant(ctx context.Context, r *model.Restaurant) error
	GetRestaurant(ctx context.Context, restaurantID uint) (*model.Restaurant, error)
	CreateBranch(ctx context.Context, b *model.Branch) error
	// GetBranch treats soft-deleted branches as absent
	GetBranch(ctx context.Context, restaurantID, branchID uint) (*model.Branch, error)
	CreateTable(ctx context.Context, t *model.Table) error
	GetTable(ctx context.Context, restaurantID, tableID uint) (*model.Table, error)
	SetTableAvailable(ctx context.Context, restaurantID, tableID uint, available bool) error
}

type CatalogStore interface {
	CreateCategory(ctx context.Context, c *model.Category) error
	GetCategory(ctx context.Context, restaurantID, categoryID uint) (*model.Category, error)
	// ListCategories returns restaurant-wide categories plus, when branchID is set, that branch's own
	ListCategories(ctx context.Context, restaurantID uint, branchID *uint) ([]model.Category, error)

	CreateMenuItem(ctx context.Context, m *model.MenuItem) error
	// UpdateMenuItem saves the item and replaces its recipe
	UpdateMenuItem(ctx context.Context, m *model.MenuItem) error
	GetMenuItem(ctx context.Context, restaurantID, menuItemID uint) (*model.MenuItem, error)
	// ListMenuItems has the same scoping as ListCategories. Recipes are loaded in position order.
	ListMenuItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.MenuItem, error)
	// GetMenuItems skips ids that do not exist in the restaurant
	GetMenuItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.MenuItem, error)
}

type OverrideStore interface {
	// UpsertOverride writes the single (branch, menu item) row, replacing price and availability
	UpsertOverride(ctx context.Context, o *model.BranchMenuItem) error
	DeleteOverride(ctx context.Context, restaurantID, branchID, menuItemID uint) error
	ListOverrides(ctx context.Context, restaurantID, branchID uint) ([]model.BranchMenuItem, error)
}

type InventoryStore interface {
	CreateInventoryItem(ctx context.Context, i *model.InventoryItem) error
	GetInventoryItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.InventoryItem, error)
	ListInventoryItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.InventoryItem, error)
	UpsertBranchInventory(ctx context.Context, bi *model.BranchInventory) error

	// RestaurantStockLevels reads the legacy pool. A nil ids slice means every ingredient.
	RestaurantStockLevels(ctx context.Context, restaurantID uint, ids []uint) (map[uint]model.StockLevel, error)
	// BranchStockLevels reads BranchInventory rows; ingredients without a row are absent from the result
	BranchStockLevels(ctx context.Context, restaurantID, branchID uint, ids []uint) (map[uint]model.StockLevel, error)

	// ApplyRestaurantStock and ApplyBranchStock apply every delta atomically, each one as an
	// in-place increment or decrement of its row. Ingredient ids must be unique within a batch.
	ApplyRestaurantStock(ctx context.Context, restaurantID uint, deltas []model.StockDelta, mode model.ApplyMode) error
	ApplyBranchStock(ctx context.Context, restaurantID, branchID uint, deltas []model.StockDelta, mode model.ApplyMode) error
}

// StatusChange is one guarded order status update
type StatusChange struct {
	From   []model.OrderStatus
	To     model.OrderStatus
	At     time.Time
	Reason string
}

type OrderStore interface {
	// CreateOrder assigns the next order number of (restaurant, business day) and inserts
	// the order with its items in one transaction
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, restaurantID, orderID uint) (*model.Order, error)
	ListOrders(ctx context.Context, restaurantID uint, filter model.OrderFilter) ([]model.Order, error)
	// TransitionOrder updates the status only while it is still one of change.From,
	// returning ErrStatusGuard otherwise
	TransitionOrder(ctx context.Context, restaurantID, orderID uint, change StatusChange) error
	// RecordPayment adds to the paid amount of a non-cancelled order and completes it when
	// still open. The updated order is returned.
	RecordPayment(ctx context.Context, restaurantID, orderID uint, p model.Payment) (*model.Order, error)
}

// Store is everything the core needs from one backend
type Store interface {
	TenantStore
	CatalogStore
	OverrideStore
	InventoryStore
	OrderStore
}
