// Package events publishes order and stock notifications after the state change has committed.
package events

import (
	"context"
	"sync"
	"time"

	"restaurant-service/internal/model"
	"restaurant-service/prometheus"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Type string

const (
	OrderCreated       Type = "OrderCreated"
	OrderCancelled     Type = "OrderCancelled"
	OrderStatusChanged Type = "OrderStatusChanged"
	OrderPaid          Type = "OrderPaid"
	StockLow           Type = "StockLow"
)

// OrderPayload summarises an order without its recipe snapshot
type OrderPayload struct {
	OrderID     uint              `json:"order_id"`
	OrderNumber int               `json:"order_number"`
	BusinessDay string            `json:"business_day"`
	Status      model.OrderStatus `json:"status"`
	Previous    model.OrderStatus `json:"previous_status,omitempty"`
	Source      model.OrderSource `json:"source"`
	Type        model.OrderType   `json:"type"`
	Total       decimal.Decimal   `json:"total"`
	AmountPaid  decimal.Decimal   `json:"amount_paid"`
}

type StockPayload struct {
	Levels []model.StockLevel `json:"levels"`
}

// Event is the envelope written to the broker
type Event struct {
	ID           string        `json:"id"`
	Type         Type          `json:"type"`
	RestaurantID uint          `json:"restaurant_id"`
	BranchID     *uint         `json:"branch_id,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
	Order        *OrderPayload `json:"order,omitempty"`
	Stock        *StockPayload `json:"stock,omitempty"`
}

func newEvent(t Type, restaurantID uint, branchID *uint, at time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		RestaurantID: restaurantID,
		BranchID:     branchID,
		OccurredAt:   at.UTC(),
	}
}

// ForOrder builds an order event; previous is empty unless the status changed
func ForOrder(t Type, o *model.Order, previous model.OrderStatus, at time.Time) Event {
	e := newEvent(t, o.RestaurantID, o.BranchID, at)
	e.Order = &OrderPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BusinessDay: o.BusinessDay,
		Status:      o.Status,
		Previous:    previous,
		Source:      o.Source,
		Type:        o.Type,
		Total:       o.Total,
		AmountPaid:  o.AmountPaid,
	}
	return e
}

func ForLowStock(restaurantID uint, branchID *uint, levels []model.StockLevel, at time.Time) Event {
	e := newEvent(StockLow, restaurantID, branchID, at)
	e.Stock = &StockPayload{Levels: levels}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Emit publishes without failing the caller; the state change it reports has already committed
func Emit(ctx context.Context, p Publisher, log *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		prometheus.RecordEventPublishError(string(e.Type))
		log.Warn("Failed to publish event",
			zap.String("event_type", string(e.Type)),
			zap.String("event_id", e.ID),
			zap.Uint("restaurant_id", e.RestaurantID),
			zap.Error(err))
	}
}

// Nop drops every event; used when no brokers are configured
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters the recorded events
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
