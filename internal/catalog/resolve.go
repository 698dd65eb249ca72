// Package catalog merges the base menu, branch overrides and ingredient stock into the
// effective menu, and holds the administrative catalog operations.
package catalog

import (
	"sort"
	"strings"

	"restaurant-service/internal/inventory"
	"restaurant-service/internal/model"

	"github.com/shopspring/decimal"
)

// EffectiveMenuItem is one menu item as seen from a branch context
type EffectiveMenuItem struct {
	ID                  uint                `json:"id"`
	RestaurantID        uint                `json:"restaurant_id"`
	BranchID            *uint               `json:"branch_id,omitempty"`
	CategoryID          *uint               `json:"category_id,omitempty"`
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	ShowOnWebsite       bool                `json:"show_on_website"`
	AvailableEverywhere bool                `json:"available_everywhere"`
	BasePrice           decimal.Decimal     `json:"base_price"`
	OverridePrice       decimal.NullDecimal `json:"override_price"`
	EffectivePrice      decimal.Decimal     `json:"effective_price"`
	BaseAvailable       bool                `json:"base_available"`
	HasOverride         bool                `json:"has_override"`
	OverrideAvailable   *bool               `json:"override_available,omitempty"`
	// ConfiguredAvailable is availability before the stock check
	ConfiguredAvailable bool                `json:"configured_available"`
	Sufficient          bool                `json:"sufficient"`
	ShortIngredients    []uint              `json:"short_ingredients,omitempty"`
	EffectiveAvailable  bool                `json:"effective_available"`
	Recipe              []model.RecipeLine  `json:"-"`
}

// Snapshot is everything one resolution reads, taken from a single branch context
type Snapshot struct {
	BranchID  *uint
	Items     []model.MenuItem
	Overrides map[uint]model.BranchMenuItem
	Levels    map[uint]model.StockLevel
}

// Resolve computes the effective view of every item in the snapshot, in input order.
// Items flagged not available everywhere are dropped from a branch menu unless the branch
// has an override for them.
func Resolve(s Snapshot) []EffectiveMenuItem {
	out := make([]EffectiveMenuItem, 0, len(s.Items))
	for _, m := range s.Items {
		override, hasOverride := s.Overrides[m.ID]
		if s.BranchID != nil && !m.AvailableEverywhere && !hasOverride {
			continue
		}

		e := EffectiveMenuItem{
			ID:                  m.ID,
			RestaurantID:        m.RestaurantID,
			BranchID:            m.BranchID,
			CategoryID:          m.CategoryID,
			Name:                m.Name,
			Description:         m.Description,
			ShowOnWebsite:       m.ShowOnWebsite,
			AvailableEverywhere: m.AvailableEverywhere,
			BasePrice:           m.Price,
			EffectivePrice:      m.Price,
			BaseAvailable:       m.Available,
			Recipe:              m.Recipe(),
		}

		e.ConfiguredAvailable = m.Available && (m.AvailableEverywhere || s.BranchID == nil)
		if hasOverride {
			e.HasOverride = true
			available := override.Available
			e.OverrideAvailable = &available
			e.ConfiguredAvailable = available
			if override.Price.Valid {
				e.OverridePrice = override.Price
				e.EffectivePrice = override.Price.Decimal
			}
		}

		e.Sufficient, e.ShortIngredients = inventory.Covers(e.Recipe, s.Levels)
		e.EffectiveAvailable = e.ConfiguredAvailable && e.Sufficient
		out = append(out, e)
	}
	return out
}

// Filters narrows a resolved menu
type Filters struct {
	CategoryID    *uint
	OnlyAvailable bool
	WebsiteOnly   bool
	// Search matches a case-insensitive substring of the name
	Search       string
	ExcludeEmpty bool
}

func (f Filters) keep(e EffectiveMenuItem) bool {
	if f.CategoryID != nil && (e.CategoryID == nil || *e.CategoryID != *f.CategoryID) {
		return false
	}
	if f.OnlyAvailable && !e.EffectiveAvailable {
		return false
	}
	if f.WebsiteOnly && !e.ShowOnWebsite {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !strings.Contains(strings.ToLower(e.Name), q) {
		return false
	}
	return true
}

// Filter returns the items f keeps, in order
func Filter(items []EffectiveMenuItem, f Filters) []EffectiveMenuItem {
	out := make([]EffectiveMenuItem, 0, len(items))
	for _, e := range items {
		if f.keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// CategoryGroup is one category of the resolved menu. Category is nil for uncategorized items.
type CategoryGroup struct {
	Category *model.Category     `json:"category"`
	Items    []EffectiveMenuItem `json:"items"`
}

// Group buckets items by category, ordered by sort order then id, with uncategorized items
// last. Items pointing at a category outside the list count as uncategorized.
func Group(categories []model.Category, items []EffectiveMenuItem, excludeEmpty bool) []CategoryGroup {
	sorted := append([]model.Category(nil), categories...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SortOrder != sorted[j].SortOrder {
			return sorted[i].SortOrder < sorted[j].SortOrder
		}
		return sorted[i].ID < sorted[j].ID
	})

	index := make(map[uint]int, len(sorted))
	groups := make([]CategoryGroup, 0, len(sorted)+1)
	for i := range sorted {
		index[sorted[i].ID] = i
		groups = append(groups, CategoryGroup{Category: &sorted[i], Items: []EffectiveMenuItem{}})
	}

	var loose []EffectiveMenuItem
	for _, e := range items {
		if e.CategoryID != nil {
			if i, ok := index[*e.CategoryID]; ok {
				groups[i].Items = append(groups[i].Items, e)
				continue
			}
		}
		loose = append(loose, e)
	}
	if len(loose) > 0 {
		groups = append(groups, CategoryGroup{Items: loose})
	}

	if !excludeEmpty {
		return groups
	}
	kept := groups[:0]
	for _, g := range groups {
		if len(g.Items) > 0 {
			kept = append(kept, g)
		}
	}
	return kept
}

// inScope reports whether an item defined at itemBranch is visible from the requested branch
func inScope(itemBranch, requested *uint) bool {
	return itemBranch == nil || (requested != nil && *itemBranch == *requested)
}

// recipeIngredients collects every ingredient id referenced by the items, ascending
func recipeIngredients(items []model.MenuItem) []uint {
	req := inventory.Requirement{}
	for _, m := range items {
		req.Add(m.Recipe(), 1)
	}
	return req.IDs()
}
