package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	StatusUnprocessed OrderStatus = "UNPROCESSED"
	StatusPending     OrderStatus = "PENDING"
	StatusReady       OrderStatus = "READY"
	StatusCompleted   OrderStatus = "COMPLETED"
	StatusCancelled   OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// NonTerminalStatuses lists every status an order may be cancelled from
var NonTerminalStatuses = []OrderStatus{StatusUnprocessed, StatusPending, StatusReady}

type OrderType string

const (
	OrderDineIn   OrderType = "dine_in"
	OrderTakeaway OrderType = "takeaway"
	OrderDelivery OrderType = "delivery"
)

type OrderSource string

const (
	SourcePOS     OrderSource = "pos"
	SourceWebsite OrderSource = "website"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
)

// RecipeLine is one ingredient consumption of one unit sold
type RecipeLine struct {
	InventoryItemID uint            `json:"inventory_item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
}

// Order holds a denormalized snapshot of its lines taken at order time
type Order struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	RestaurantID  uint            `json:"restaurant_id" gorm:"not null;uniqueIndex:idx_order_number,priority:1"`
	BranchID      *uint           `json:"branch_id,omitempty" gorm:"index"`
	BusinessDay   string          `json:"business_day" gorm:"type:varchar(10);not null;uniqueIndex:idx_order_number,priority:2"`
	OrderNumber   int             `json:"order_number" gorm:"not null;uniqueIndex:idx_order_number,priority:3"`
	Type          OrderType       `json:"type" gorm:"type:varchar(16);not null"`
	Source        OrderSource     `json:"source" gorm:"type:varchar(16);not null"`
	Status        OrderStatus     `json:"status" gorm:"type:varchar(16);not null;index"`
	TableID       *uint           `json:"table_id,omitempty" gorm:"index"`
	CustomerName  string          `json:"customer_name" gorm:"type:varchar(150)"`
	CustomerPhone string          `json:"customer_phone" gorm:"type:varchar(50)"`
	Notes         string          `json:"notes" gorm:"type:text"`
	Items         []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Subtotal      decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	Total         decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty" gorm:"type:varchar(16)"`
	AmountPaid    decimal.Decimal `json:"amount_paid" gorm:"type:numeric(12,2);not null"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty" gorm:"type:text"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderItem is the snapshot of one cart line. Recipe is the per-unit consumption captured
// at creation; a nil Recipe marks a row written before recipes were snapshotted.
type OrderItem struct {
	ID         uint                            `json:"id" gorm:"primaryKey"`
	OrderID    uint                            `json:"order_id" gorm:"index;not null"`
	MenuItemID uint                            `json:"menu_item_id" gorm:"index;not null"`
	Name       string                          `json:"name" gorm:"type:varchar(150);not null"`
	UnitPrice  decimal.Decimal                 `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	Quantity   int                             `json:"quantity" gorm:"not null"`
	LineTotal  decimal.Decimal                 `json:"line_total" gorm:"type:numeric(12,2);not null"`
	Recipe     datatypes.JSONSlice[RecipeLine] `json:"recipe,omitempty"`
}

// OrderSequence holds the last order number handed out per restaurant and business day
type OrderSequence struct {
	ID           uint   `gorm:"primaryKey"`
	RestaurantID uint   `gorm:"not null;uniqueIndex:idx_order_sequence,priority:1"`
	BusinessDay  string `gorm:"type:varchar(10);not null;uniqueIndex:idx_order_sequence,priority:2"`
	LastNumber   int    `gorm:"not null"`
}

// OrderFilter narrows order listings
type OrderFilter struct {
	BranchID    *uint
	Statuses    []OrderStatus
	BusinessDay string
	Limit       int
	Offset      int
}

// Payment is one payment record against an order
type Payment struct {
	Method PaymentMethod
	Amount decimal.Decimal
	At     time.Time
}
