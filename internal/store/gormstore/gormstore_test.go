package gormstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/pkg/database"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return New(db)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func requireQty(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %d, got %s", want, got)
}

type fixture struct {
	restaurant *model.Restaurant
	branch     *model.Branch
	beef       *model.InventoryItem
	bun        *model.InventoryItem
}

func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	r := &model.Restaurant{Name: "Diner", Timezone: "UTC"}
	require.NoError(t, s.CreateRestaurant(ctx, r))
	b := &model.Branch{RestaurantID: r.ID, Name: "Main", Status: model.BranchActive}
	require.NoError(t, s.CreateBranch(ctx, b))

	beef := &model.InventoryItem{RestaurantID: r.ID, Name: "Beef", Unit: model.UnitGram, Stock: dec(1000)}
	bun := &model.InventoryItem{RestaurantID: r.ID, Name: "Bun", Unit: model.UnitPiece, Stock: dec(10)}
	require.NoError(t, s.CreateInventoryItem(ctx, beef))
	require.NoError(t, s.CreateInventoryItem(ctx, bun))

	require.NoError(t, s.UpsertBranchInventory(ctx, &model.BranchInventory{
		RestaurantID: r.ID, BranchID: b.ID, InventoryItemID: beef.ID, Stock: dec(500), LowStockThreshold: dec(100),
	}))
	require.NoError(t, s.UpsertBranchInventory(ctx, &model.BranchInventory{
		RestaurantID: r.ID, BranchID: b.ID, InventoryItemID: bun.ID, Stock: dec(50),
	}))
	return fixture{restaurant: r, branch: b, beef: beef, bun: bun}
}

func TestApplyBranchStockGuardRollsBackWholeBatch(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	// beef alone would pass; the bun shortfall must undo it
	err := s.ApplyBranchStock(ctx, f.restaurant.ID, f.branch.ID, []model.StockDelta{
		{IngredientID: f.beef.ID, Quantity: dec(-100)},
		{IngredientID: f.bun.ID, Quantity: dec(-100)},
	}, model.ApplyGuarded)
	require.ErrorIs(t, err, store.ErrStockGuard)

	levels, err := s.BranchStockLevels(ctx, f.restaurant.ID, f.branch.ID, nil)
	require.NoError(t, err)
	requireQty(t, 500, levels[f.beef.ID].Quantity)
	requireQty(t, 50, levels[f.bun.ID].Quantity)
	require.Equal(t, "Beef", levels[f.beef.ID].Name)

	require.NoError(t, s.ApplyBranchStock(ctx, f.restaurant.ID, f.branch.ID, []model.StockDelta{
		{IngredientID: f.beef.ID, Quantity: dec(-100)},
		{IngredientID: f.bun.ID, Quantity: dec(-20)},
	}, model.ApplyGuarded))

	levels, err = s.BranchStockLevels(ctx, f.restaurant.ID, f.branch.ID, []uint{f.beef.ID, f.bun.ID})
	require.NoError(t, err)
	requireQty(t, 400, levels[f.beef.ID].Quantity)
	requireQty(t, 30, levels[f.bun.ID].Quantity)
}

func TestApplyBranchStockMissingRowFailsGuard(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	other := &model.Branch{RestaurantID: f.restaurant.ID, Name: "Annex", Status: model.BranchActive}
	require.NoError(t, s.CreateBranch(ctx, other))

	err := s.ApplyBranchStock(ctx, f.restaurant.ID, other.ID, []model.StockDelta{
		{IngredientID: f.beef.ID, Quantity: dec(-1)},
	}, model.ApplyGuarded)
	require.ErrorIs(t, err, store.ErrStockGuard)

	// restoring into a missing row is skipped rather than creating it
	require.NoError(t, s.ApplyBranchStock(ctx, f.restaurant.ID, other.ID, []model.StockDelta{
		{IngredientID: f.beef.ID, Quantity: dec(5)},
	}, model.ApplyGuarded))
	levels, err := s.BranchStockLevels(ctx, f.restaurant.ID, other.ID, nil)
	require.NoError(t, err)
	require.Empty(t, levels)
}

func TestConcurrentBranchRemovalsNeverOversell(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		rejected int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ApplyBranchStock(ctx, f.restaurant.ID, f.branch.ID, []model.StockDelta{
				{IngredientID: f.beef.ID, Quantity: dec(-100)},
			}, model.ApplyGuarded)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, store.ErrStockGuard):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 5, applied)
	require.Equal(t, callers-5, rejected)
	levels, err := s.BranchStockLevels(ctx, f.restaurant.ID, f.branch.ID, []uint{f.beef.ID})
	require.NoError(t, err)
	requireQty(t, 0, levels[f.beef.ID].Quantity)
}

func TestApplyRestaurantStockFloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.ApplyRestaurantStock(ctx, f.restaurant.ID, []model.StockDelta{
		{IngredientID: f.bun.ID, Quantity: dec(-25)},
		{IngredientID: f.beef.ID, Quantity: dec(-200)},
		{IngredientID: 9999, Quantity: dec(-1)},
	}, model.ApplyFloorAtZero))

	levels, err := s.RestaurantStockLevels(ctx, f.restaurant.ID, nil)
	require.NoError(t, err)
	requireQty(t, 0, levels[f.bun.ID].Quantity)
	requireQty(t, 800, levels[f.beef.ID].Quantity)
}

func TestApplyRestaurantStockIgnoresOtherTenant(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	other := &model.Restaurant{Name: "Rival"}
	require.NoError(t, s.CreateRestaurant(ctx, other))

	err := s.ApplyRestaurantStock(ctx, other.ID, []model.StockDelta{
		{IngredientID: f.beef.ID, Quantity: dec(-1)},
	}, model.ApplyGuarded)
	require.ErrorIs(t, err, store.ErrStockGuard)
}

func TestMenuItemNameUniquePerScope(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	item := &model.MenuItem{
		RestaurantID: f.restaurant.ID, Name: "Burger", Price: dec(12), Available: true, AvailableEverywhere: true,
		Ingredients: []model.MenuItemIngredient{{InventoryItemID: f.beef.ID, Quantity: dec(200)}},
	}
	require.NoError(t, s.CreateMenuItem(ctx, item))

	dup := &model.MenuItem{RestaurantID: f.restaurant.ID, Name: "  burger ", Price: dec(10)}
	err := s.CreateMenuItem(ctx, dup)
	var conflict *apperr.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)

	branchOnly := &model.MenuItem{RestaurantID: f.restaurant.ID, BranchID: &f.branch.ID, Name: "Burger", Price: dec(11)}
	require.NoError(t, s.CreateMenuItem(ctx, branchOnly))

	items, err := s.ListMenuItems(ctx, f.restaurant.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = s.ListMenuItems(ctx, f.restaurant.ID, &f.branch.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Len(t, items[0].Ingredients, 1)
}

func TestUpdateMenuItemReplacesRecipe(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	item := &model.MenuItem{
		RestaurantID: f.restaurant.ID, Name: "Burger", Price: dec(12), Available: true,
		Ingredients: []model.MenuItemIngredient{{InventoryItemID: f.beef.ID, Quantity: dec(200)}},
	}
	require.NoError(t, s.CreateMenuItem(ctx, item))

	item.Price = dec(14)
	item.Ingredients = []model.MenuItemIngredient{
		{InventoryItemID: f.bun.ID, Quantity: dec(1)},
		{InventoryItemID: f.beef.ID, Quantity: dec(150)},
	}
	require.NoError(t, s.UpdateMenuItem(ctx, item))

	got, err := s.GetMenuItem(ctx, f.restaurant.ID, item.ID)
	require.NoError(t, err)
	requireQty(t, 14, got.Price)
	require.Len(t, got.Ingredients, 2)
	require.Equal(t, f.bun.ID, got.Ingredients[0].InventoryItemID)
	require.Equal(t, f.beef.ID, got.Ingredients[1].InventoryItemID)

	_, err = s.GetMenuItem(ctx, f.restaurant.ID+100, item.ID)
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestUpsertOverrideKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	item := &model.MenuItem{RestaurantID: f.restaurant.ID, Name: "Pizza", Price: dec(20)}
	require.NoError(t, s.CreateMenuItem(ctx, item))

	first := &model.BranchMenuItem{RestaurantID: f.restaurant.ID, BranchID: f.branch.ID, MenuItemID: item.ID, Available: true}
	require.NoError(t, s.UpsertOverride(ctx, first))
	second := &model.BranchMenuItem{
		RestaurantID: f.restaurant.ID, BranchID: f.branch.ID, MenuItemID: item.ID,
		Price: decimal.NewNullDecimal(dec(18)),
	}
	require.NoError(t, s.UpsertOverride(ctx, second))
	require.Equal(t, first.ID, second.ID)

	overrides, err := s.ListOverrides(ctx, f.restaurant.ID, f.branch.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.False(t, overrides[0].Available)
	requireQty(t, 18, overrides[0].Price.Decimal)

	require.NoError(t, s.DeleteOverride(ctx, f.restaurant.ID, f.branch.ID, item.ID))
	err = s.DeleteOverride(ctx, f.restaurant.ID, f.branch.ID, item.ID)
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestSoftDeletedBranchIsNotFound(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	gone := &model.Branch{
		RestaurantID: f.restaurant.ID, Name: "Closed", Status: model.BranchActive,
		DeletedAt: gorm.DeletedAt{Time: time.Now(), Valid: true},
	}
	require.NoError(t, s.CreateBranch(ctx, gone))

	_, err := s.GetBranch(ctx, f.restaurant.ID, gone.ID)
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = s.GetBranch(ctx, f.restaurant.ID+1, f.branch.ID)
	require.True(t, errors.As(err, &notFound))
}

func newOrder(restaurantID uint, day string) *model.Order {
	return &model.Order{
		RestaurantID: restaurantID,
		BusinessDay:  day,
		Type:         model.OrderTakeaway,
		Source:       model.SourcePOS,
		Status:       model.StatusUnprocessed,
		Subtotal:     dec(24),
		Total:        dec(24),
		Items: []model.OrderItem{{
			MenuItemID: 1, Name: "Burger", UnitPrice: dec(12), Quantity: 2, LineTotal: dec(24),
			Recipe: []model.RecipeLine{{InventoryItemID: 7, Quantity: dec(200)}},
		}},
	}
}

func TestCreateOrderNumbersPerRestaurantAndDay(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	other := &model.Restaurant{Name: "Rival"}
	require.NoError(t, s.CreateRestaurant(ctx, other))

	a := newOrder(f.restaurant.ID, "2026-10-15")
	b := newOrder(f.restaurant.ID, "2026-10-15")
	c := newOrder(f.restaurant.ID, "2026-10-16")
	d := newOrder(other.ID, "2026-10-15")
	for _, o := range []*model.Order{a, b, c, d} {
		require.NoError(t, s.CreateOrder(ctx, o))
	}
	require.Equal(t, 1, a.OrderNumber)
	require.Equal(t, 2, b.OrderNumber)
	require.Equal(t, 1, c.OrderNumber)
	require.Equal(t, 1, d.OrderNumber)

	got, err := s.GetOrder(ctx, f.restaurant.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Len(t, got.Items[0].Recipe, 1)
	require.Equal(t, uint(7), got.Items[0].Recipe[0].InventoryItemID)
	requireQty(t, 200, got.Items[0].Recipe[0].Quantity)

	orders, err := s.ListOrders(ctx, f.restaurant.ID, model.OrderFilter{BusinessDay: "2026-10-15"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, b.ID, orders[0].ID)
}

func TestTransitionOrderIsGuarded(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	o := newOrder(f.restaurant.ID, "2026-10-15")
	require.NoError(t, s.CreateOrder(ctx, o))

	cancel := store.StatusChange{
		From: model.NonTerminalStatuses, To: model.StatusCancelled, At: time.Now(), Reason: "customer left",
	}
	require.NoError(t, s.TransitionOrder(ctx, f.restaurant.ID, o.ID, cancel))
	require.ErrorIs(t, s.TransitionOrder(ctx, f.restaurant.ID, o.ID, cancel), store.ErrStatusGuard)

	got, err := s.GetOrder(ctx, f.restaurant.ID, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	require.Equal(t, "customer left", got.CancelReason)

	err = s.TransitionOrder(ctx, f.restaurant.ID, o.ID+100, cancel)
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestRecordPaymentCompletesOpenOrder(t *testing.T) {
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	o := newOrder(f.restaurant.ID, "2026-10-15")
	require.NoError(t, s.CreateOrder(ctx, o))

	paid, err := s.RecordPayment(ctx, f.restaurant.ID, o.ID, model.Payment{Method: model.PaymentCash, Amount: dec(20), At: time.Now()})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, paid.Status)
	require.NotNil(t, paid.CompletedAt)
	require.NotNil(t, paid.PaidAt)
	requireQty(t, 20, paid.AmountPaid)

	paid, err = s.RecordPayment(ctx, f.restaurant.ID, o.ID, model.Payment{Method: model.PaymentCard, Amount: dec(4), At: time.Now()})
	require.NoError(t, err)
	requireQty(t, 24, paid.AmountPaid)
	require.Equal(t, model.PaymentCard, *paid.PaymentMethod)

	cancelled := newOrder(f.restaurant.ID, "2026-10-15")
	require.NoError(t, s.CreateOrder(ctx, cancelled))
	require.NoError(t, s.TransitionOrder(ctx, f.restaurant.ID, cancelled.ID, store.StatusChange{
		From: model.NonTerminalStatuses, To: model.StatusCancelled, At: time.Now(),
	}))
	_, err = s.RecordPayment(ctx, f.restaurant.ID, cancelled.ID, model.Payment{Method: model.PaymentCash, Amount: dec(1), At: time.Now()})
	require.ErrorIs(t, err, store.ErrStatusGuard)
}
