package catalog

import (
	"context"
	"fmt"
	"time"

	"restaurant-service/internal/inventory"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/prometheus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store is the persistence the resolver and catalog admin operations read
type Store interface {
	store.TenantStore
	store.CatalogStore
	store.OverrideStore
	store.InventoryStore
}

// Menu is the resolved, filtered menu of one branch context
type Menu struct {
	RestaurantID uint                `json:"restaurant_id"`
	BranchID     *uint               `json:"branch_id,omitempty"`
	Items        []EffectiveMenuItem `json:"items"`
	Categories   []CategoryGroup     `json:"categories"`
}

// Resolver reads catalog, overrides and stock for a branch context and resolves them.
// Effective availability is always derived at read time; nothing is cached.
type Resolver struct {
	store  Store
	log    *zap.Logger
	tracer trace.Tracer
}

func NewResolver(s Store, log *zap.Logger) *Resolver {
	return &Resolver{
		store:  s,
		log:    log,
		tracer: otel.Tracer("restaurant-service/catalog"),
	}
}

// ResolveMenu returns the effective menu of the restaurant, seen from branchID when set
func (r *Resolver) ResolveMenu(ctx context.Context, restaurantID uint, branchID *uint, f Filters) (*Menu, error) {
	ctx, span := r.tracer.Start(ctx, "catalog.resolve_menu",
		trace.WithAttributes(attribute.Int("restaurant.id", int(restaurantID))))
	defer span.End()
	defer prometheus.TrackDBOperation("resolve_menu")(time.Now())

	if _, err := r.store.GetRestaurant(ctx, restaurantID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if branchID != nil {
		span.SetAttributes(attribute.Int("branch.id", int(*branchID)))
		if _, err := r.store.GetBranch(ctx, restaurantID, *branchID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	items, err := r.store.ListMenuItems(ctx, restaurantID, branchID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	categories, err := r.store.ListCategories(ctx, restaurantID, branchID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list categories: %w", err)
	}

	src := inventory.SourceFor(r.store, restaurantID, branchID)
	snap, err := r.snapshot(ctx, src, items)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resolved := Filter(Resolve(snap), f)
	prometheus.RecordMenuResolution(src.Scope())
	span.SetAttributes(attribute.Int("catalog.items", len(resolved)))

	r.log.Debug("Menu resolved",
		zap.Uint("restaurant_id", restaurantID),
		zap.Uint("branch_id", model.ScopeOf(branchID)),
		zap.Int("items", len(resolved)))

	return &Menu{
		RestaurantID: restaurantID,
		BranchID:     branchID,
		Items:        resolved,
		Categories:   Group(categories, resolved, f.ExcludeEmpty),
	}, nil
}

// ResolveItems resolves the given menu items against src, the same stock pool the caller
// will deduct from. Ids that are unknown or scoped to another branch are absent from the result.
func (r *Resolver) ResolveItems(ctx context.Context, src inventory.StockSource, ids []uint) (map[uint]EffectiveMenuItem, error) {
	ctx, span := r.tracer.Start(ctx, "catalog.resolve_items",
		trace.WithAttributes(
			attribute.Int("restaurant.id", int(src.RestaurantID())),
			attribute.String("inventory.scope", src.Scope()),
		))
	defer span.End()

	found, err := r.store.GetMenuItems(ctx, src.RestaurantID(), ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load menu items: %w", err)
	}
	items := found[:0]
	for _, m := range found {
		if inScope(m.BranchID, src.BranchID()) {
			items = append(items, m)
		}
	}

	snap, err := r.snapshot(ctx, src, items)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make(map[uint]EffectiveMenuItem, len(items))
	for _, e := range Resolve(snap) {
		out[e.ID] = e
	}
	prometheus.RecordMenuResolution(src.Scope())
	return out, nil
}

// snapshot loads the overrides and stock levels needed to resolve items from src
func (r *Resolver) snapshot(ctx context.Context, src inventory.StockSource, items []model.MenuItem) (Snapshot, error) {
	snap := Snapshot{BranchID: src.BranchID(), Items: items}

	if b := src.BranchID(); b != nil {
		overrides, err := r.store.ListOverrides(ctx, src.RestaurantID(), *b)
		if err != nil {
			return snap, fmt.Errorf("list overrides: %w", err)
		}
		snap.Overrides = make(map[uint]model.BranchMenuItem, len(overrides))
		for _, o := range overrides {
			snap.Overrides[o.MenuItemID] = o
		}
	}

	ids := recipeIngredients(items)
	if len(ids) == 0 {
		return snap, nil
	}
	levels, err := src.Levels(ctx, ids)
	if err != nil {
		return snap, fmt.Errorf("read stock levels: %w", err)
	}
	snap.Levels = levels
	return snap, nil
}
