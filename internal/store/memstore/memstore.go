// Package memstore is an in-process store.Store. Every operation runs under one lock, which
// makes multi-row stock batches atomic the same way a database transaction does.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"

	"github.com/shopspring/decimal"
)

type pairKey struct {
	branchID uint
	itemID   uint
}

type sequenceKey struct {
	restaurantID uint
	businessDay  string
}

// Store keeps every record in maps keyed by id
type Store struct {
	mu  sync.RWMutex
	ids uint
	now func() time.Time

	restaurants map[uint]model.Restaurant
	branches    map[uint]model.Branch
	tables      map[uint]model.Table
	categories  map[uint]model.Category
	menuItems   map[uint]model.MenuItem
	overrides   map[pairKey]model.BranchMenuItem
	ingredients map[uint]model.InventoryItem
	branchStock map[pairKey]model.BranchInventory
	orders      map[uint]model.Order
	sequences   map[sequenceKey]int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:         time.Now,
		restaurants: make(map[uint]model.Restaurant),
		branches:    make(map[uint]model.Branch),
		tables:      make(map[uint]model.Table),
		categories:  make(map[uint]model.Category),
		menuItems:   make(map[uint]model.MenuItem),
		overrides:   make(map[pairKey]model.BranchMenuItem),
		ingredients: make(map[uint]model.InventoryItem),
		branchStock: make(map[pairKey]model.BranchInventory),
		orders:      make(map[uint]model.Order),
		sequences:   make(map[sequenceKey]int),
	}
}

// nextID must be called with the write lock held
func (s *Store) nextID() uint {
	s.ids++
	return s.ids
}

func copyUint(p *uint) *uint {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Tenants

func (s *Store) CreateRestaurant(ctx context.Context, r *model.Restaurant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r.ID = s.nextID()
	r.CreatedAt, r.UpdatedAt = now, now
	s.restaurants[r.ID] = *r
	return nil
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID uint) (*model.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.restaurants[restaurantID]
	if !ok {
		return nil, apperr.NotFound("restaurant", restaurantID)
	}
	return &r, nil
}

func (s *Store) CreateBranch(ctx context.Context, b *model.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.restaurants[b.RestaurantID]; !ok {
		return apperr.NotFound("restaurant", b.RestaurantID)
	}
	now := s.now()
	b.ID = s.nextID()
	b.CreatedAt, b.UpdatedAt = now, now
	s.branches[b.ID] = *b
	return nil
}

func (s *Store) GetBranch(ctx context.Context, restaurantID, branchID uint) (*model.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[branchID]
	if !ok || b.RestaurantID != restaurantID || b.DeletedAt.Valid {
		return nil, apperr.NotFound("branch", branchID)
	}
	return &b, nil
}

func (s *Store) CreateTable(ctx context.Context, t *model.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t.ID = s.nextID()
	t.CreatedAt, t.UpdatedAt = now, now
	stored := *t
	stored.BranchID = copyUint(t.BranchID)
	s.tables[t.ID] = stored
	return nil
}

func (s *Store) GetTable(ctx context.Context, restaurantID, tableID uint) (*model.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[tableID]
	if !ok || t.RestaurantID != restaurantID {
		return nil, apperr.NotFound("table", tableID)
	}
	t.BranchID = copyUint(t.BranchID)
	return &t, nil
}

func (s *Store) SetTableAvailable(ctx context.Context, restaurantID, tableID uint, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok || t.RestaurantID != restaurantID {
		return apperr.NotFound("table", tableID)
	}
	t.Available = available
	t.UpdatedAt = s.now()
	s.tables[tableID] = t
	return nil
}

// Catalog

func (s *Store) CreateCategory(ctx context.Context, c *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Normalize()
	for _, existing := range s.categories {
		if existing.RestaurantID == c.RestaurantID && existing.BranchScope == c.BranchScope && existing.NameKey == c.NameKey {
			return apperr.Conflict("category", "name already used in this scope")
		}
	}
	now := s.now()
	c.ID = s.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := *c
	stored.BranchID = copyUint(c.BranchID)
	s.categories[c.ID] = stored
	return nil
}

func (s *Store) GetCategory(ctx context.Context, restaurantID, categoryID uint) (*model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[categoryID]
	if !ok || c.RestaurantID != restaurantID {
		return nil, apperr.NotFound("category", categoryID)
	}
	c.BranchID = copyUint(c.BranchID)
	return &c, nil
}

func inScope(itemBranch, requested *uint) bool {
	return itemBranch == nil || (requested != nil && *itemBranch == *requested)
}

func (s *Store) ListCategories(ctx context.Context, restaurantID uint, branchID *uint) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Category
	for _, c := range s.categories {
		if c.RestaurantID == restaurantID && inScope(c.BranchID, branchID) {
			c.BranchID = copyUint(c.BranchID)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) menuNameTaken(m *model.MenuItem) bool {
	for _, existing := range s.menuItems {
		if existing.ID != m.ID && existing.RestaurantID == m.RestaurantID &&
			existing.BranchScope == m.BranchScope && existing.NameKey == m.NameKey {
			return true
		}
	}
	return false
}

func (s *Store) storeMenuItem(m *model.MenuItem) {
	for i := range m.Ingredients {
		if m.Ingredients[i].ID == 0 {
			m.Ingredients[i].ID = s.nextID()
		}
		m.Ingredients[i].MenuItemID = m.ID
	}
	s.menuItems[m.ID] = cloneMenuItem(*m)
}

func (s *Store) CreateMenuItem(ctx context.Context, m *model.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Normalize()
	if s.menuNameTaken(m) {
		return apperr.Conflict("menu_item", "name already used in this scope")
	}
	now := s.now()
	m.ID = s.nextID()
	m.CreatedAt, m.UpdatedAt = now, now
	s.storeMenuItem(m)
	return nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, m *model.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.menuItems[m.ID]
	if !ok || existing.RestaurantID != m.RestaurantID {
		return apperr.NotFound("menu_item", m.ID)
	}
	m.Normalize()
	if s.menuNameTaken(m) {
		return apperr.Conflict("menu_item", "name already used in this scope")
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = s.now()
	for i := range m.Ingredients {
		m.Ingredients[i].ID = 0
	}
	s.storeMenuItem(m)
	return nil
}

func (s *Store) GetMenuItem(ctx context.Context, restaurantID, menuItemID uint) (*model.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.menuItems[menuItemID]
	if !ok || m.RestaurantID != restaurantID {
		return nil, apperr.NotFound("menu_item", menuItemID)
	}
	m = cloneMenuItem(m)
	return &m, nil
}

func (s *Store) ListMenuItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MenuItem
	for _, m := range s.menuItems {
		if m.RestaurantID == restaurantID && inScope(m.BranchID, branchID) {
			out = append(out, cloneMenuItem(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetMenuItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MenuItem
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if m, ok := s.menuItems[id]; ok && m.RestaurantID == restaurantID {
			out = append(out, cloneMenuItem(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneMenuItem(m model.MenuItem) model.MenuItem {
	m.BranchID = copyUint(m.BranchID)
	m.CategoryID = copyUint(m.CategoryID)
	m.Ingredients = append([]model.MenuItemIngredient(nil), m.Ingredients...)
	return m
}

// Overrides

func (s *Store) UpsertOverride(ctx context.Context, o *model.BranchMenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{branchID: o.BranchID, itemID: o.MenuItemID}
	now := s.now()
	if existing, ok := s.overrides[key]; ok {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	} else {
		o.ID = s.nextID()
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.overrides[key] = *o
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, restaurantID, branchID, menuItemID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{branchID: branchID, itemID: menuItemID}
	existing, ok := s.overrides[key]
	if !ok || existing.RestaurantID != restaurantID {
		return apperr.NotFound("branch_menu_item", menuItemID)
	}
	delete(s.overrides, key)
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, restaurantID, branchID uint) ([]model.BranchMenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.BranchMenuItem
	for key, o := range s.overrides {
		if key.branchID == branchID && o.RestaurantID == restaurantID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuItemID < out[j].MenuItemID })
	return out, nil
}

// Inventory

func (s *Store) CreateInventoryItem(ctx context.Context, i *model.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i.Normalize()
	for _, existing := range s.ingredients {
		if existing.RestaurantID == i.RestaurantID && existing.BranchScope == i.BranchScope && existing.NameKey == i.NameKey {
			return apperr.Conflict("inventory_item", "name already used in this scope")
		}
	}
	now := s.now()
	i.ID = s.nextID()
	i.CreatedAt, i.UpdatedAt = now, now
	stored := *i
	stored.BranchID = copyUint(i.BranchID)
	s.ingredients[i.ID] = stored
	return nil
}

func (s *Store) GetInventoryItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.InventoryItem
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if i, ok := s.ingredients[id]; ok && i.RestaurantID == restaurantID {
			i.BranchID = copyUint(i.BranchID)
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.InventoryItem
	for _, i := range s.ingredients {
		if i.RestaurantID == restaurantID && inScope(i.BranchID, branchID) {
			i.BranchID = copyUint(i.BranchID)
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) UpsertBranchInventory(ctx context.Context, bi *model.BranchInventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, ok := s.ingredients[bi.InventoryItemID]
	if !ok || ing.RestaurantID != bi.RestaurantID {
		return apperr.NotFound("inventory_item", bi.InventoryItemID)
	}
	key := pairKey{branchID: bi.BranchID, itemID: bi.InventoryItemID}
	now := s.now()
	if existing, ok := s.branchStock[key]; ok {
		bi.ID = existing.ID
		bi.CreatedAt = existing.CreatedAt
	} else {
		bi.ID = s.nextID()
		bi.CreatedAt = now
	}
	bi.UpdatedAt = now
	s.branchStock[key] = *bi
	return nil
}

func wanted(ids []uint) func(uint) bool {
	if ids == nil {
		return func(uint) bool { return true }
	}
	set := make(map[uint]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id uint) bool { return set[id] }
}

func (s *Store) RestaurantStockLevels(ctx context.Context, restaurantID uint, ids []uint) (map[uint]model.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := wanted(ids)
	out := make(map[uint]model.StockLevel)
	for id, i := range s.ingredients {
		if i.RestaurantID != restaurantID || !want(id) {
			continue
		}
		out[id] = model.StockLevel{
			IngredientID:      id,
			Name:              i.Name,
			Unit:              i.Unit,
			Quantity:          i.Stock,
			LowStockThreshold: i.LowStockThreshold,
		}
	}
	return out, nil
}

func (s *Store) BranchStockLevels(ctx context.Context, restaurantID, branchID uint, ids []uint) (map[uint]model.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := wanted(ids)
	out := make(map[uint]model.StockLevel)
	for key, bi := range s.branchStock {
		if key.branchID != branchID || bi.RestaurantID != restaurantID || !want(key.itemID) {
			continue
		}
		ing := s.ingredients[key.itemID]
		out[key.itemID] = model.StockLevel{
			IngredientID:      key.itemID,
			Name:              ing.Name,
			Unit:              ing.Unit,
			Quantity:          bi.Stock,
			LowStockThreshold: bi.LowStockThreshold,
		}
	}
	return out, nil
}

// counter is one stock row as seen by applyDeltas
type counter struct {
	get func() (decimal.Decimal, bool)
	set func(decimal.Decimal)
}

// applyDeltas validates the whole batch before writing anything, so a guard failure
// leaves every row untouched
func applyDeltas(deltas []model.StockDelta, mode model.ApplyMode, row func(id uint) counter) error {
	if mode == model.ApplyGuarded {
		for _, d := range deltas {
			if !d.Quantity.IsNegative() {
				continue
			}
			current, ok := row(d.IngredientID).get()
			if !ok || current.Add(d.Quantity).IsNegative() {
				return store.ErrStockGuard
			}
		}
	}
	for _, d := range deltas {
		c := row(d.IngredientID)
		current, ok := c.get()
		if !ok {
			continue
		}
		next := current.Add(d.Quantity)
		if next.IsNegative() {
			next = decimal.Zero
		}
		c.set(next)
	}
	return nil
}

func (s *Store) ApplyRestaurantStock(ctx context.Context, restaurantID uint, deltas []model.StockDelta, mode model.ApplyMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return applyDeltas(deltas, mode, func(id uint) counter {
		return counter{
			get: func() (decimal.Decimal, bool) {
				i, ok := s.ingredients[id]
				if !ok || i.RestaurantID != restaurantID {
					return decimal.Zero, false
				}
				return i.Stock, true
			},
			set: func(v decimal.Decimal) {
				i := s.ingredients[id]
				i.Stock = v
				i.UpdatedAt = now
				s.ingredients[id] = i
			},
		}
	})
}

func (s *Store) ApplyBranchStock(ctx context.Context, restaurantID, branchID uint, deltas []model.StockDelta, mode model.ApplyMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return applyDeltas(deltas, mode, func(id uint) counter {
		key := pairKey{branchID: branchID, itemID: id}
		return counter{
			get: func() (decimal.Decimal, bool) {
				bi, ok := s.branchStock[key]
				if !ok || bi.RestaurantID != restaurantID {
					return decimal.Zero, false
				}
				return bi.Stock, true
			},
			set: func(v decimal.Decimal) {
				bi := s.branchStock[key]
				bi.Stock = v
				bi.UpdatedAt = now
				s.branchStock[key] = bi
			},
		}
	})
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sequenceKey{restaurantID: o.RestaurantID, businessDay: o.BusinessDay}
	s.sequences[key]++
	o.OrderNumber = s.sequences[key]

	now := s.now()
	o.ID = s.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Items {
		o.Items[i].ID = s.nextID()
		o.Items[i].OrderID = o.ID
	}
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, restaurantID, orderID uint) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok || o.RestaurantID != restaurantID {
		return nil, apperr.NotFound("order", orderID)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, restaurantID uint, filter model.OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[model.OrderStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var out []model.Order
	for _, o := range s.orders {
		if o.RestaurantID != restaurantID {
			continue
		}
		if filter.BranchID != nil && !model.SameBranch(o.BranchID, filter.BranchID) {
			continue
		}
		if len(statuses) > 0 && !statuses[o.Status] {
			continue
		}
		if filter.BusinessDay != "" && o.BusinessDay != filter.BusinessDay {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func statusIn(status model.OrderStatus, set []model.OrderStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Store) TransitionOrder(ctx context.Context, restaurantID, orderID uint, change store.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.RestaurantID != restaurantID {
		return apperr.NotFound("order", orderID)
	}
	if !statusIn(o.Status, change.From) {
		return store.ErrStatusGuard
	}
	o.Status = change.To
	o.UpdatedAt = change.At
	switch change.To {
	case model.StatusCompleted:
		at := change.At
		o.CompletedAt = &at
	case model.StatusCancelled:
		at := change.At
		o.CancelledAt = &at
		o.CancelReason = change.Reason
	}
	s.orders[orderID] = o
	return nil
}

func (s *Store) RecordPayment(ctx context.Context, restaurantID, orderID uint, p model.Payment) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.RestaurantID != restaurantID {
		return nil, apperr.NotFound("order", orderID)
	}
	if o.Status == model.StatusCancelled {
		return nil, store.ErrStatusGuard
	}
	method := p.Method
	o.PaymentMethod = &method
	o.AmountPaid = o.AmountPaid.Add(p.Amount)
	if o.PaidAt == nil {
		at := p.At
		o.PaidAt = &at
	}
	if !o.Status.Terminal() {
		at := p.At
		o.Status = model.StatusCompleted
		o.CompletedAt = &at
	}
	o.UpdatedAt = p.At
	s.orders[orderID] = o

	out := cloneOrder(o)
	return &out, nil
}

func cloneOrder(o model.Order) model.Order {
	o.BranchID = copyUint(o.BranchID)
	o.TableID = copyUint(o.TableID)
	o.PaidAt = copyTime(o.PaidAt)
	o.CompletedAt = copyTime(o.CompletedAt)
	o.CancelledAt = copyTime(o.CancelledAt)
	if o.PaymentMethod != nil {
		m := *o.PaymentMethod
		o.PaymentMethod = &m
	}
	items := make([]model.OrderItem, len(o.Items))
	for i, it := range o.Items {
		if it.Recipe != nil {
			it.Recipe = append(make([]model.RecipeLine, 0, len(it.Recipe)), it.Recipe...)
		}
		items[i] = it
	}
	o.Items = items
	return o
}
