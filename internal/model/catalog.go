package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Category groups menu items; unique by (restaurant, branch scope, name) ignoring case
type Category struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	RestaurantID uint      `json:"restaurant_id" gorm:"not null;uniqueIndex:idx_category_scope_name,priority:1"`
	BranchID     *uint     `json:"branch_id,omitempty" gorm:"index"`
	BranchScope  uint      `json:"-" gorm:"not null;default:0;uniqueIndex:idx_category_scope_name,priority:2"`
	Name         string    `json:"name" gorm:"type:varchar(150);not null"`
	NameKey      string    `json:"-" gorm:"type:varchar(150);not null;uniqueIndex:idx_category_scope_name,priority:3"`
	SortOrder    int       `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Normalize fills the derived uniqueness columns
func (c *Category) Normalize() {
	c.BranchScope = ScopeOf(c.BranchID)
	c.NameKey = NameKey(c.Name)
}

func (c *Category) BeforeSave(tx *gorm.DB) error {
	c.Normalize()
	return nil
}

// MenuItem is a sellable item, restaurant-wide or scoped to one branch.
// Ingredients is the ordered recipe consumed per unit sold.
type MenuItem struct {
	ID                  uint                 `json:"id" gorm:"primaryKey"`
	RestaurantID        uint                 `json:"restaurant_id" gorm:"not null;uniqueIndex:idx_menu_item_scope_name,priority:1"`
	BranchID            *uint                `json:"branch_id,omitempty" gorm:"index"`
	BranchScope         uint                 `json:"-" gorm:"not null;default:0;uniqueIndex:idx_menu_item_scope_name,priority:2"`
	CategoryID          *uint                `json:"category_id,omitempty" gorm:"index"`
	Name                string               `json:"name" gorm:"type:varchar(150);not null"`
	NameKey             string               `json:"-" gorm:"type:varchar(150);not null;uniqueIndex:idx_menu_item_scope_name,priority:3"`
	Description         string               `json:"description" gorm:"type:text"`
	Price               decimal.Decimal      `json:"price" gorm:"type:numeric(12,2);not null"`
	Available           bool                 `json:"available" gorm:"not null"`
	AvailableEverywhere bool                 `json:"available_everywhere" gorm:"not null"`
	ShowOnWebsite       bool                 `json:"show_on_website" gorm:"not null"`
	Ingredients         []MenuItemIngredient `json:"ingredients" gorm:"foreignKey:MenuItemID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Normalize fills the derived uniqueness columns and recipe positions
func (m *MenuItem) Normalize() {
	m.BranchScope = ScopeOf(m.BranchID)
	m.NameKey = NameKey(m.Name)
	for i := range m.Ingredients {
		m.Ingredients[i].Position = i
	}
}

func (m *MenuItem) BeforeSave(tx *gorm.DB) error {
	m.Normalize()
	return nil
}

// Recipe returns the ingredient consumption of one unit sold
func (m MenuItem) Recipe() []RecipeLine {
	lines := make([]RecipeLine, 0, len(m.Ingredients))
	for _, ing := range m.Ingredients {
		lines = append(lines, RecipeLine{InventoryItemID: ing.InventoryItemID, Quantity: ing.Quantity})
	}
	return lines
}

// MenuItemIngredient is one (ingredient, quantity-per-unit-sold) pair of a recipe
type MenuItemIngredient struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	MenuItemID      uint            `json:"menu_item_id" gorm:"index;not null"`
	InventoryItemID uint            `json:"inventory_item_id" gorm:"index;not null"`
	Quantity        decimal.Decimal `json:"quantity" gorm:"type:numeric(14,3);not null"`
	Position        int             `json:"position" gorm:"not null"`
}

// BranchMenuItem is a branch's explicit price/availability opinion about a menu item.
// At most one row exists per (branch, menu item).
type BranchMenuItem struct {
	ID           uint                `json:"id" gorm:"primaryKey"`
	RestaurantID uint                `json:"restaurant_id" gorm:"index;not null"`
	BranchID     uint                `json:"branch_id" gorm:"not null;uniqueIndex:idx_branch_menu_item,priority:1"`
	MenuItemID   uint                `json:"menu_item_id" gorm:"not null;uniqueIndex:idx_branch_menu_item,priority:2"`
	Price        decimal.NullDecimal `json:"price" gorm:"type:numeric(12,2)"`
	Available    bool                `json:"available" gorm:"not null"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}
