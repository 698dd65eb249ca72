package model

import (
	"strings"
	"time"
	_ "time/tzdata"

	"gorm.io/gorm"
)

// BranchRecoveryWindow is how long a soft-deleted branch may still be restored
const BranchRecoveryWindow = 48 * time.Hour

// Restaurant is the tenant root: it owns branches, catalog, inventory and orders
type Restaurant struct {
	ID                       uint      `json:"id" gorm:"primaryKey"`
	Name                     string    `json:"name" gorm:"type:varchar(150);not null"`
	Timezone                 string    `json:"timezone" gorm:"type:varchar(64);not null"`
	AllowOrderWhenOutOfStock bool      `json:"allow_order_when_out_of_stock" gorm:"not null"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Location returns the restaurant's business time zone, UTC when unset or unknown
func (r Restaurant) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BusinessDay formats t as the restaurant-local calendar day used for order numbering
func (r Restaurant) BusinessDay(t time.Time) string {
	return t.In(r.Location()).Format("2006-01-02")
}

type BranchStatus string

const (
	BranchActive      BranchStatus = "active"
	BranchInactive    BranchStatus = "inactive"
	BranchClosedToday BranchStatus = "closed_today"
)

// Branch belongs to exactly one restaurant and owns its own inventory ledger rows
type Branch struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	RestaurantID uint           `json:"restaurant_id" gorm:"index;not null"`
	Name         string         `json:"name" gorm:"type:varchar(150);not null"`
	Status       BranchStatus   `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// AcceptsOrders reports whether new orders may be placed at the branch
func (b Branch) AcceptsOrders() bool {
	return !b.DeletedAt.Valid && b.Status == BranchActive
}

// Restorable reports whether a soft-deleted branch is still inside its recovery window
func (b Branch) Restorable(now time.Time) bool {
	if !b.DeletedAt.Valid {
		return false
	}
	return now.Sub(b.DeletedAt.Time) <= BranchRecoveryWindow
}

// Table is a dine-in table; it is occupied by an open order and released when the order ends
type Table struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RestaurantID uint      `json:"restaurant_id" gorm:"index;not null"`
	BranchID     *uint     `json:"branch_id,omitempty" gorm:"index"`
	Label        string    `json:"label" gorm:"type:varchar(50);not null"`
	Available    bool      `json:"available" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScopeOf maps an optional branch to the non-null scope column used by unique indexes.
// Zero means restaurant-wide.
func ScopeOf(branchID *uint) uint {
	if branchID == nil {
		return 0
	}
	return *branchID
}

// NameKey is the case-insensitive form of a catalog or ingredient name
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameBranch reports whether two optional branch ids denote the same scope
func SameBranch(a, b *uint) bool {
	return ScopeOf(a) == ScopeOf(b)
}

// All lists every model for migrations
func All() []interface{} {
	return []interface{}{
		&Restaurant{},
		&Branch{},
		&Table{},
		&Category{},
		&MenuItem{},
		&MenuItemIngredient{},
		&BranchMenuItem{},
		&InventoryItem{},
		&BranchInventory{},
		&OrderSequence{},
		&Order{},
		&OrderItem{},
	}
}
