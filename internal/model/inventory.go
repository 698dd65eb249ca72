package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Unit string

const (
	UnitGram       Unit = "g"
	UnitKilogram   Unit = "kg"
	UnitMilliliter Unit = "ml"
	UnitLiter      Unit = "l"
	UnitPiece      Unit = "pc"
)

// Valid reports whether u is one of the supported mass, volume or count units
func (u Unit) Valid() bool {
	switch u {
	case UnitGram, UnitKilogram, UnitMilliliter, UnitLiter, UnitPiece:
		return true
	}
	return false
}

// InventoryItem is an ingredient definition. Stock, LowStockThreshold and CostPerUnit are
// the legacy restaurant-level pool, used only when no branch context exists.
type InventoryItem struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	RestaurantID      uint            `json:"restaurant_id" gorm:"not null;uniqueIndex:idx_inventory_item_scope_name,priority:1"`
	BranchID          *uint           `json:"branch_id,omitempty" gorm:"index"`
	BranchScope       uint            `json:"-" gorm:"not null;default:0;uniqueIndex:idx_inventory_item_scope_name,priority:2"`
	Name              string          `json:"name" gorm:"type:varchar(150);not null"`
	NameKey           string          `json:"-" gorm:"type:varchar(150);not null;uniqueIndex:idx_inventory_item_scope_name,priority:3"`
	Unit              Unit            `json:"unit" gorm:"type:varchar(8);not null"`
	Stock             decimal.Decimal `json:"stock" gorm:"type:numeric(14,3);not null"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold" gorm:"type:numeric(14,3);not null"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit" gorm:"type:numeric(12,4);not null"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Normalize fills the derived uniqueness columns
func (i *InventoryItem) Normalize() {
	i.BranchScope = ScopeOf(i.BranchID)
	i.NameKey = NameKey(i.Name)
}

func (i *InventoryItem) BeforeSave(tx *gorm.DB) error {
	i.Normalize()
	return nil
}

// VisibleTo reports whether the ingredient definition may be used from the given branch scope
func (i InventoryItem) VisibleTo(branchID *uint) bool {
	return i.BranchID == nil || SameBranch(i.BranchID, branchID)
}

// BranchInventory is the authoritative stock of one ingredient at one branch
type BranchInventory struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	RestaurantID      uint            `json:"restaurant_id" gorm:"index;not null"`
	BranchID          uint            `json:"branch_id" gorm:"not null;uniqueIndex:idx_branch_inventory,priority:1"`
	InventoryItemID   uint            `json:"inventory_item_id" gorm:"not null;uniqueIndex:idx_branch_inventory,priority:2"`
	Stock             decimal.Decimal `json:"stock" gorm:"type:numeric(14,3);not null"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold" gorm:"type:numeric(14,3);not null"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit" gorm:"type:numeric(12,4);not null"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StockLevel is a read-only view of one ingredient's current quantity in one stock pool
type StockLevel struct {
	IngredientID      uint            `json:"ingredient_id"`
	Name              string          `json:"name"`
	Unit              Unit            `json:"unit"`
	Quantity          decimal.Decimal `json:"quantity"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
}

// Low reports whether the level sits at or under its threshold
func (l StockLevel) Low() bool {
	return l.Quantity.LessThanOrEqual(l.LowStockThreshold)
}

// StockDelta is a signed change to one ingredient: negative removes stock, positive adds it
type StockDelta struct {
	IngredientID uint
	Quantity     decimal.Decimal
}

// ApplyMode controls how removals behave when stock is short
type ApplyMode int

const (
	// ApplyGuarded fails the whole batch if any removal would take stock below zero
	// or targets a missing row.
	ApplyGuarded ApplyMode = iota
	// ApplyFloorAtZero clamps removals at zero and skips missing rows.
	ApplyFloorAtZero
)
