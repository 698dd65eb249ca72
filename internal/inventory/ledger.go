package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/events"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/prometheus"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	movementDeduct  = "deduct"
	movementRestore = "restore"
	movementAdjust  = "adjust"
)

// Policy is the restaurant's stock policy, passed in per call
type Policy struct {
	// AllowOrderWhenOutOfStock skips the sufficiency block; removals then floor at zero
	AllowOrderWhenOutOfStock bool
}

func PolicyOf(r *model.Restaurant) Policy {
	return Policy{AllowOrderWhenOutOfStock: r.AllowOrderWhenOutOfStock}
}

// Ledger deducts and restores ingredient stock.
//
// Deduction is a read-only pre-check followed by one transaction of guarded in-place
// decrements. If a concurrent writer drains a row between the two, the guard rolls the
// whole batch back and the shortfall is re-read and reported.
type Ledger struct {
	store     store.InventoryStore
	publisher events.Publisher
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewLedger(s store.InventoryStore, publisher events.Publisher, log *zap.Logger) *Ledger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Ledger{
		store:     s,
		publisher: publisher,
		log:       log,
		tracer:    otel.Tracer("restaurant-service/inventory"),
		now:       time.Now,
	}
}

// Source returns the stock pool for the request's branch context
func (l *Ledger) Source(restaurantID uint, branchID *uint) StockSource {
	return SourceFor(l.store, restaurantID, branchID)
}

func (l *Ledger) startSpan(ctx context.Context, name string, src StockSource, required int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.Int("restaurant.id", int(src.RestaurantID())),
		attribute.String("inventory.scope", src.Scope()),
		attribute.Int("inventory.ingredients", required),
	}
	if b := src.BranchID(); b != nil {
		attrs = append(attrs, attribute.Int("branch.id", int(*b)))
	}
	return l.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CheckAndDeduct removes required from src all or nothing. When any ingredient is short
// nothing is written and an *apperr.InsufficientStockError lists every short ingredient.
func (l *Ledger) CheckAndDeduct(ctx context.Context, src StockSource, required Requirement, policy Policy) error {
	ctx, span := l.startSpan(ctx, "inventory.check_and_deduct", src, len(required))
	defer span.End()

	deltas := required.deltas(-1)
	if len(deltas) == 0 {
		return nil
	}

	if policy.AllowOrderWhenOutOfStock {
		if err := src.Apply(ctx, deltas, model.ApplyFloorAtZero); err != nil {
			return fail(span, fmt.Errorf("deduct stock: %w", err))
		}
		span.SetAttributes(attribute.Bool("inventory.stock_check_skipped", true))
		l.applied(ctx, src, movementDeduct, required.IDs())
		return nil
	}

	levels, err := src.Levels(ctx, required.IDs())
	if err != nil {
		return fail(span, fmt.Errorf("read stock levels: %w", err))
	}
	short, err := l.shortfalls(ctx, src, required, levels)
	if err != nil {
		return fail(span, err)
	}
	if len(short) > 0 {
		return fail(span, l.reject(src, short))
	}

	err = src.Apply(ctx, deltas, model.ApplyGuarded)
	if errors.Is(err, store.ErrStockGuard) {
		l.log.Info("Stock changed between check and deduction",
			zap.Uint("restaurant_id", src.RestaurantID()),
			zap.String("scope", src.Scope()))

		levels, err = src.Levels(ctx, required.IDs())
		if err != nil {
			return fail(span, fmt.Errorf("read stock levels: %w", err))
		}
		short, err = l.shortfalls(ctx, src, required, levels)
		if err != nil {
			return fail(span, err)
		}
		if len(short) > 0 {
			return fail(span, l.reject(src, short))
		}
		// the competing writer has already put the stock back
		return fail(span, apperr.Conflict("inventory", "stock changed during deduction"))
	}
	if err != nil {
		return fail(span, fmt.Errorf("deduct stock: %w", err))
	}

	span.SetStatus(codes.Ok, "stock deducted")
	l.applied(ctx, src, movementDeduct, required.IDs())
	return nil
}

// Restore re-adds quantities removed by an earlier deduction. Callers guarantee it runs at
// most once per deduction. Ingredients without a row in src are skipped.
func (l *Ledger) Restore(ctx context.Context, src StockSource, required Requirement) error {
	ctx, span := l.startSpan(ctx, "inventory.restore", src, len(required))
	defer span.End()

	deltas := required.deltas(1)
	if len(deltas) == 0 {
		return nil
	}
	if err := src.Apply(ctx, deltas, model.ApplyGuarded); err != nil {
		return fail(span, fmt.Errorf("restore stock: %w", err))
	}
	span.SetStatus(codes.Ok, "stock restored")
	l.applied(ctx, src, movementRestore, required.IDs())
	return nil
}

// Adjust applies manual corrections. Removals past zero are rejected unless clamp is set,
// in which case they stop at zero.
func (l *Ledger) Adjust(ctx context.Context, src StockSource, deltas []model.StockDelta, clamp bool) error {
	ctx, span := l.startSpan(ctx, "inventory.adjust", src, len(deltas))
	defer span.End()

	if len(deltas) == 0 {
		return nil
	}
	mode := model.ApplyGuarded
	if clamp {
		mode = model.ApplyFloorAtZero
	}

	ids := make([]uint, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.IngredientID)
	}

	err := src.Apply(ctx, deltas, mode)
	if errors.Is(err, store.ErrStockGuard) {
		removal := Requirement{}
		for _, d := range deltas {
			if d.Quantity.IsNegative() {
				removal[d.IngredientID] = d.Quantity.Neg()
			}
		}
		levels, lerr := src.Levels(ctx, removal.IDs())
		if lerr != nil {
			return fail(span, fmt.Errorf("read stock levels: %w", lerr))
		}
		short, serr := l.shortfalls(ctx, src, removal, levels)
		if serr != nil {
			return fail(span, serr)
		}
		if len(short) == 0 {
			return fail(span, apperr.Conflict("inventory", "stock changed during adjustment"))
		}
		return fail(span, l.reject(src, short))
	}
	if err != nil {
		return fail(span, fmt.Errorf("adjust stock: %w", err))
	}

	l.applied(ctx, src, movementAdjust, ids)
	return nil
}

// shortfalls lists every ingredient whose level cannot cover required, with its name
func (l *Ledger) shortfalls(ctx context.Context, src StockSource, required Requirement, levels map[uint]model.StockLevel) ([]apperr.Shortfall, error) {
	var (
		out     []apperr.Shortfall
		unnamed []uint
	)
	for _, id := range required.IDs() {
		need := required[id]
		if !need.IsPositive() {
			continue
		}
		level, ok := levels[id]
		if ok && !need.GreaterThan(level.Quantity) {
			continue
		}
		s := apperr.Shortfall{IngredientID: id, Required: need, Available: decimal.Zero}
		if ok {
			s.Name = level.Name
			s.Available = level.Quantity
		} else {
			unnamed = append(unnamed, id)
		}
		out = append(out, s)
	}
	if len(unnamed) == 0 {
		return out, nil
	}

	items, err := l.store.GetInventoryItems(ctx, src.RestaurantID(), unnamed)
	if err != nil {
		return nil, fmt.Errorf("load ingredient names: %w", err)
	}
	names := make(map[uint]string, len(items))
	for _, it := range items {
		names[it.ID] = it.Name
	}
	for i := range out {
		if out[i].Name == "" {
			out[i].Name = names[out[i].IngredientID]
		}
	}
	return out, nil
}

func (l *Ledger) reject(src StockSource, short []apperr.Shortfall) error {
	prometheus.RecordInsufficientStock()
	fields := []zap.Field{
		zap.Uint("restaurant_id", src.RestaurantID()),
		zap.String("scope", src.Scope()),
		zap.Int("short_ingredients", len(short)),
	}
	for _, s := range short {
		fields = append(fields, zap.String(fmt.Sprintf("ingredient_%d", s.IngredientID),
			fmt.Sprintf("required=%s available=%s", s.Required, s.Available)))
	}
	l.log.Info("Insufficient stock", fields...)
	return &apperr.InsufficientStockError{Shortfalls: short}
}

// applied records the movement and refreshes low-stock signals for the touched ingredients.
// The movement has committed, so failures here are only logged.
func (l *Ledger) applied(ctx context.Context, src StockSource, kind string, ids []uint) {
	prometheus.RecordStockMovement(kind, src.Scope())

	levels, err := src.Levels(ctx, ids)
	if err != nil {
		l.log.Warn("Failed to read stock after movement", zap.String("kind", kind), zap.Error(err))
		return
	}

	branchLabel := model.ScopeOf(src.BranchID())
	var low []model.StockLevel
	for _, id := range ids {
		level, ok := levels[id]
		if !ok {
			continue
		}
		if level.Low() {
			qty, _ := level.Quantity.Float64()
			prometheus.UpdateLowStock(src.RestaurantID(), branchLabel, id, qty)
			low = append(low, level)
		} else {
			prometheus.ClearLowStock(src.RestaurantID(), branchLabel, id)
		}
	}
	if len(low) == 0 || kind == movementRestore {
		return
	}

	for _, level := range low {
		l.log.Warn("Ingredient at or below low-stock threshold",
			zap.Uint("restaurant_id", src.RestaurantID()),
			zap.Uint("branch_id", branchLabel),
			zap.Uint("ingredient_id", level.IngredientID),
			zap.String("ingredient", level.Name),
			zap.String("quantity", level.Quantity.String()),
			zap.String("threshold", level.LowStockThreshold.String()))
	}
	events.Emit(ctx, l.publisher, l.log, events.ForLowStock(src.RestaurantID(), src.BranchID(), low, l.now()))
}
