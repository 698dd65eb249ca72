// Package order runs the order lifecycle: creation against the effective menu with stock
// deduction, status changes, payments and cancellation with stock reversal.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/catalog"
	"restaurant-service/internal/events"
	"restaurant-service/internal/inventory"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/pkg/logger"
	"restaurant-service/prometheus"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store is the persistence the order lifecycle needs
type Store interface {
	store.TenantStore
	store.CatalogStore
	store.OrderStore
}

type Manager struct {
	store     Store
	ledger    *inventory.Ledger
	resolver  *catalog.Resolver
	publisher events.Publisher
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewManager(s Store, ledger *inventory.Ledger, resolver *catalog.Resolver, publisher events.Publisher, log *zap.Logger) *Manager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Manager{
		store:     s,
		ledger:    ledger,
		resolver:  resolver,
		publisher: publisher,
		log:       log,
		tracer:    otel.Tracer("restaurant-service/order"),
		now:       time.Now,
	}
}

// LineInput is one cart line
type LineInput struct {
	MenuItemID uint
	Quantity   int
}

type CreateInput struct {
	RestaurantID  uint
	BranchID      *uint
	Type          model.OrderType
	Source        model.OrderSource
	TableID       *uint
	CustomerName  string
	CustomerPhone string
	Notes         string
	Items         []LineInput
}

func validOrderType(t model.OrderType) bool {
	return t == model.OrderDineIn || t == model.OrderTakeaway || t == model.OrderDelivery
}

func validSource(s model.OrderSource) bool {
	return s == model.SourcePOS || s == model.SourceWebsite
}

func validPaymentMethod(m model.PaymentMethod) bool {
	return m == model.PaymentCash || m == model.PaymentCard || m == model.PaymentOnline
}

func linesField(i int, field string) string {
	return "items[" + strconv.Itoa(i) + "]." + field
}

func (in CreateInput) validate() error {
	v := &apperr.ValidationError{}
	if len(in.Items) == 0 {
		v.Add("items", "at least one item is required")
	}
	for i, line := range in.Items {
		if line.MenuItemID == 0 {
			v.Add(linesField(i, "menu_item_id"), "is required")
		}
		if line.Quantity <= 0 {
			v.Add(linesField(i, "quantity"), "must be greater than zero")
		}
	}
	if !validOrderType(in.Type) {
		v.Add("type", "must be one of dine_in, takeaway, delivery")
	}
	if !validSource(in.Source) {
		v.Add("source", "must be one of pos, website")
	}
	if in.TableID != nil && in.Type != model.OrderDineIn {
		v.Add("table_id", "only dine-in orders take a table")
	}
	return v.OrNil()
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create validates the cart against the current effective menu, deducts the stock it
// consumes and persists the order. Nothing is deducted unless every line is valid, and a
// failed insert puts the deducted stock back.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*model.Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.create", trace.WithAttributes(
		attribute.Int("restaurant.id", int(in.RestaurantID)),
		attribute.String("order.source", string(in.Source)),
		attribute.Int("order.lines", len(in.Items)),
	))
	defer span.End()
	log := logger.Ctx(ctx, m.log)

	if err := in.validate(); err != nil {
		return nil, fail(span, err)
	}

	restaurant, err := m.store.GetRestaurant(ctx, in.RestaurantID)
	if err != nil {
		return nil, fail(span, err)
	}
	if in.BranchID != nil {
		span.SetAttributes(attribute.Int("branch.id", int(*in.BranchID)))
		branch, err := m.store.GetBranch(ctx, in.RestaurantID, *in.BranchID)
		if err != nil {
			return nil, fail(span, err)
		}
		if !branch.AcceptsOrders() {
			return nil, fail(span, apperr.Invalid("branch_id", "branch is %s and not taking orders", branch.Status))
		}
	}
	if in.TableID != nil {
		if err := m.checkTable(ctx, in); err != nil {
			return nil, fail(span, err)
		}
	}

	src := m.ledger.Source(in.RestaurantID, in.BranchID)
	ids := make([]uint, 0, len(in.Items))
	for _, line := range in.Items {
		ids = append(ids, line.MenuItemID)
	}
	resolved, err := m.resolver.ResolveItems(ctx, src, ids)
	if err != nil {
		return nil, fail(span, err)
	}

	o := &model.Order{
		RestaurantID:  in.RestaurantID,
		BranchID:      in.BranchID,
		Type:          in.Type,
		Source:        in.Source,
		Status:        model.StatusUnprocessed,
		TableID:       in.TableID,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Notes:         in.Notes,
		Subtotal:      decimal.Zero,
		AmountPaid:    decimal.Zero,
	}
	required := inventory.Requirement{}
	v := &apperr.ValidationError{}
	for i, line := range in.Items {
		item, ok := resolved[line.MenuItemID]
		switch {
		case !ok:
			v.Add(linesField(i, "menu_item_id"), "unknown menu item %d", line.MenuItemID)
			continue
		case !item.ConfiguredAvailable:
			v.Add(linesField(i, "menu_item_id"), "%s is not available", item.Name)
			continue
		case in.Source == model.SourceWebsite && !item.ShowOnWebsite:
			v.Add(linesField(i, "menu_item_id"), "%s is not sold online", item.Name)
			continue
		}

		lineTotal := item.EffectivePrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		o.Items = append(o.Items, model.OrderItem{
			MenuItemID: item.ID,
			Name:       item.Name,
			UnitPrice:  item.EffectivePrice,
			Quantity:   line.Quantity,
			LineTotal:  lineTotal,
			Recipe:     append([]model.RecipeLine{}, item.Recipe...),
		})
		o.Subtotal = o.Subtotal.Add(lineTotal)
		required.Add(item.Recipe, line.Quantity)
	}
	if err := v.OrNil(); err != nil {
		return nil, fail(span, err)
	}
	o.Total = o.Subtotal

	// from the first stock write on, a dropped request must not strand a deduction
	ctx = context.WithoutCancel(ctx)

	// stock errors reach the caller unchanged
	if err := m.ledger.CheckAndDeduct(ctx, src, required, inventory.PolicyOf(restaurant)); err != nil {
		if apperr.Kind(err) == "insufficient_stock" {
			span.SetAttributes(attribute.Bool("order.insufficient_stock", true))
		}
		return nil, fail(span, err)
	}

	now := m.now()
	o.BusinessDay = restaurant.BusinessDay(now)
	if err := m.store.CreateOrder(ctx, o); err != nil {
		if rerr := m.ledger.Restore(ctx, src, required); rerr != nil {
			log.Error("Failed to restore stock after order insert failed",
				zap.Uint("restaurant_id", in.RestaurantID),
				zap.Error(rerr))
		}
		return nil, fail(span, fmt.Errorf("create order: %w", err))
	}

	if o.TableID != nil {
		m.setTable(ctx, o, false)
	}

	prometheus.RecordOrderCreated(string(o.Source), string(o.Type))
	span.SetAttributes(attribute.Int("order.id", int(o.ID)), attribute.Int("order.number", o.OrderNumber))
	log.Info("Order created",
		zap.Uint("restaurant_id", o.RestaurantID),
		zap.Uint("branch_id", model.ScopeOf(o.BranchID)),
		zap.Uint("order_id", o.ID),
		zap.Int("order_number", o.OrderNumber),
		zap.String("business_day", o.BusinessDay),
		zap.String("total", o.Total.String()))
	events.Emit(ctx, m.publisher, log, events.ForOrder(events.OrderCreated, o, "", now))
	return o, nil
}

// checkTable requires a free table of the order's branch
func (m *Manager) checkTable(ctx context.Context, in CreateInput) error {
	t, err := m.store.GetTable(ctx, in.RestaurantID, *in.TableID)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return apperr.Invalid("table_id", "unknown table %d", *in.TableID)
		}
		return err
	}
	if !model.SameBranch(t.BranchID, in.BranchID) {
		return apperr.Invalid("table_id", "table %d belongs to another branch", t.ID)
	}
	if !t.Available {
		return apperr.Invalid("table_id", "table %s is occupied", t.Label)
	}
	return nil
}

// setTable marks the order's table; the order change has already committed, so a failure
// is only logged
func (m *Manager) setTable(ctx context.Context, o *model.Order, available bool) {
	if o.TableID == nil {
		return
	}
	if err := m.store.SetTableAvailable(ctx, o.RestaurantID, *o.TableID, available); err != nil {
		m.log.Warn("Failed to update table availability",
			zap.Uint("order_id", o.ID),
			zap.Uint("table_id", *o.TableID),
			zap.Bool("available", available),
			zap.Error(err))
	}
}

// stateError reports the order's current status after a guarded update lost a race
func (m *Manager) stateError(ctx context.Context, restaurantID, orderID uint, attempted string) error {
	o, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return err
	}
	return &apperr.StateError{Current: string(o.Status), Attempted: attempted}
}

// Cancel puts a non-terminal order's stock back and moves it to CANCELLED. When the guarded
// status change loses to another writer the restored stock is taken back, so the reversal
// lands at most once per order.
func (m *Manager) Cancel(ctx context.Context, restaurantID, orderID uint, reason string) (*model.Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.cancel", trace.WithAttributes(
		attribute.Int("restaurant.id", int(restaurantID)),
		attribute.Int("order.id", int(orderID)),
	))
	defer span.End()
	log := logger.Ctx(ctx, m.log)

	o, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, fail(span, err)
	}
	if o.Status.Terminal() {
		return nil, fail(span, &apperr.StateError{Current: string(o.Status), Attempted: string(model.StatusCancelled)})
	}

	required, err := m.consumption(ctx, o)
	if err != nil {
		return nil, fail(span, err)
	}

	// stock goes back before the status changes, so a failed restore leaves the order open
	// and the cancel can be retried
	ctx = context.WithoutCancel(ctx)
	src := m.ledger.Source(o.RestaurantID, o.BranchID)
	if err := m.ledger.Restore(ctx, src, required); err != nil {
		return nil, fail(span, fmt.Errorf("restore stock for order %d: %w", orderID, err))
	}

	now := m.now()
	err = m.store.TransitionOrder(ctx, restaurantID, orderID, store.StatusChange{
		From:   model.NonTerminalStatuses,
		To:     model.StatusCancelled,
		At:     now,
		Reason: strings.TrimSpace(reason),
	})
	if err != nil {
		m.takeBack(ctx, o, src, required)
		if errors.Is(err, store.ErrStatusGuard) {
			return nil, fail(span, m.stateError(ctx, restaurantID, orderID, string(model.StatusCancelled)))
		}
		return nil, fail(span, fmt.Errorf("cancel order: %w", err))
	}
	previous := o.Status

	m.setTable(ctx, o, true)
	prometheus.RecordOrderCancelled()
	prometheus.RecordOrderTransition(string(previous), string(model.StatusCancelled))

	cancelled, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, fail(span, err)
	}
	log.Info("Order cancelled",
		zap.Uint("restaurant_id", restaurantID),
		zap.Uint("order_id", orderID),
		zap.String("previous_status", string(previous)),
		zap.String("reason", cancelled.CancelReason))
	events.Emit(ctx, m.publisher, log, events.ForOrder(events.OrderCancelled, cancelled, previous, now))
	return cancelled, nil
}

// takeBack deducts again what a cancel restored when the status change did not happen.
// The order still holds that stock, so the deduction floors at zero instead of failing.
func (m *Manager) takeBack(ctx context.Context, o *model.Order, src inventory.StockSource, required inventory.Requirement) {
	err := m.ledger.CheckAndDeduct(ctx, src, required, inventory.Policy{AllowOrderWhenOutOfStock: true})
	if err != nil {
		m.log.Error("Failed to take back stock restored for a cancel that did not apply",
			zap.Uint("restaurant_id", o.RestaurantID),
			zap.Uint("order_id", o.ID),
			zap.Error(err))
	}
}

// consumption rebuilds what the order deducted from its own line snapshots. Lines written
// without a recipe snapshot fall back to the menu item's current recipe.
func (m *Manager) consumption(ctx context.Context, o *model.Order) (inventory.Requirement, error) {
	required := inventory.Requirement{}
	var legacy []uint
	for _, it := range o.Items {
		if it.Recipe == nil {
			legacy = append(legacy, it.MenuItemID)
			continue
		}
		required.Add(it.Recipe, it.Quantity)
	}
	if len(legacy) == 0 {
		return required, nil
	}

	m.log.Warn("Restoring from current recipes for lines without a snapshot",
		zap.Uint("order_id", o.ID),
		zap.Int("lines", len(legacy)))
	items, err := m.store.GetMenuItems(ctx, o.RestaurantID, legacy)
	if err != nil {
		return nil, fmt.Errorf("load current recipes: %w", err)
	}
	recipes := make(map[uint][]model.RecipeLine, len(items))
	for _, mi := range items {
		recipes[mi.ID] = mi.Recipe()
	}
	for _, it := range o.Items {
		if it.Recipe == nil {
			required.Add(recipes[it.MenuItemID], it.Quantity)
		}
	}
	return required, nil
}

var statusRank = map[model.OrderStatus]int{
	model.StatusUnprocessed: 0,
	model.StatusPending:     1,
	model.StatusReady:       2,
	model.StatusCompleted:   3,
}

// AdvanceStatus moves an open order forward any number of steps or back by one.
// Moving to CANCELLED is a cancellation and restores stock.
func (m *Manager) AdvanceStatus(ctx context.Context, restaurantID, orderID uint, to model.OrderStatus) (*model.Order, error) {
	log := logger.Ctx(ctx, m.log)
	if to == model.StatusCancelled {
		return m.Cancel(ctx, restaurantID, orderID, "")
	}
	target, ok := statusRank[to]
	if !ok {
		return nil, apperr.Invalid("status", "unknown status %q", to)
	}

	o, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, err
	}
	current := statusRank[o.Status]
	if o.Status.Terminal() || target == current || target < current-1 {
		return nil, &apperr.StateError{Current: string(o.Status), Attempted: string(to)}
	}

	now := m.now()
	err = m.store.TransitionOrder(ctx, restaurantID, orderID, store.StatusChange{
		From: []model.OrderStatus{o.Status},
		To:   to,
		At:   now,
	})
	if errors.Is(err, store.ErrStatusGuard) {
		return nil, m.stateError(ctx, restaurantID, orderID, string(to))
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if to == model.StatusCompleted {
		m.setTable(ctx, o, true)
	}
	prometheus.RecordOrderTransition(string(o.Status), string(to))

	updated, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, err
	}
	log.Info("Order status changed",
		zap.Uint("restaurant_id", restaurantID),
		zap.Uint("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)))
	events.Emit(ctx, m.publisher, log, events.ForOrder(events.OrderStatusChanged, updated, o.Status, now))
	return updated, nil
}

type PaymentInput struct {
	Method model.PaymentMethod
	Amount decimal.Decimal
}

// RecordPayment adds a payment to an order that is not cancelled. The first payment of an
// open order completes it and frees its table.
func (m *Manager) RecordPayment(ctx context.Context, restaurantID, orderID uint, in PaymentInput) (*model.Order, error) {
	log := logger.Ctx(ctx, m.log)
	v := &apperr.ValidationError{}
	if !validPaymentMethod(in.Method) {
		v.Add("method", "must be one of cash, card, online")
	}
	if !in.Amount.IsPositive() {
		v.Add("amount", "must be greater than zero")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	o, err := m.store.GetOrder(ctx, restaurantID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == model.StatusCancelled {
		return nil, &apperr.StateError{Current: string(o.Status), Attempted: "PAID"}
	}

	now := m.now()
	paid, err := m.store.RecordPayment(ctx, restaurantID, orderID, model.Payment{Method: in.Method, Amount: in.Amount, At: now})
	if errors.Is(err, store.ErrStatusGuard) {
		return nil, m.stateError(ctx, restaurantID, orderID, "PAID")
	}
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	prometheus.RecordPayment(string(in.Method))
	log.Info("Payment recorded",
		zap.Uint("restaurant_id", restaurantID),
		zap.Uint("order_id", orderID),
		zap.String("method", string(in.Method)),
		zap.String("amount", in.Amount.String()),
		zap.String("amount_paid", paid.AmountPaid.String()))

	if !o.Status.Terminal() && paid.Status == model.StatusCompleted {
		m.setTable(ctx, paid, true)
		prometheus.RecordOrderTransition(string(o.Status), string(model.StatusCompleted))
		events.Emit(ctx, m.publisher, log, events.ForOrder(events.OrderStatusChanged, paid, o.Status, now))
	}
	events.Emit(ctx, m.publisher, log, events.ForOrder(events.OrderPaid, paid, "", now))
	return paid, nil
}

func (m *Manager) Get(ctx context.Context, restaurantID, orderID uint) (*model.Order, error) {
	return m.store.GetOrder(ctx, restaurantID, orderID)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// List returns the restaurant's orders, newest first
func (m *Manager) List(ctx context.Context, restaurantID uint, filter model.OrderFilter) ([]model.Order, error) {
	v := &apperr.ValidationError{}
	for _, st := range filter.Statuses {
		if _, ok := statusRank[st]; !ok && st != model.StatusCancelled {
			v.Add("status", "unknown status %q", st)
		}
	}
	if filter.Offset < 0 {
		v.Add("offset", "must not be negative")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	defer prometheus.TrackDBOperation("list_orders")(time.Now())
	return m.store.ListOrders(ctx, restaurantID, filter)
}
