package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/catalog"
	"restaurant-service/internal/events"
	"restaurant-service/internal/inventory"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/internal/store/memstore"
	"restaurant-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	store    *memstore.Store
	manager  *Manager
	recorder *events.Recorder
	clock    time.Time
	rid      uint
	branch   uint
	beef     uint
	burger   uint
	table    uint
}

func newFixture(t *testing.T, allowOutOfStock bool) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	log := zap.NewNop()

	r := &model.Restaurant{Name: "Diner", Timezone: "Asia/Bangkok", AllowOrderWhenOutOfStock: allowOutOfStock}
	require.NoError(t, s.CreateRestaurant(ctx, r))
	b := &model.Branch{RestaurantID: r.ID, Name: "Main", Status: model.BranchActive}
	require.NoError(t, s.CreateBranch(ctx, b))
	tbl := &model.Table{RestaurantID: r.ID, BranchID: &b.ID, Label: "T1", Available: true}
	require.NoError(t, s.CreateTable(ctx, tbl))

	beef := &model.InventoryItem{RestaurantID: r.ID, Name: "Beef", Unit: model.UnitGram}
	require.NoError(t, s.CreateInventoryItem(ctx, beef))
	require.NoError(t, s.UpsertBranchInventory(ctx, &model.BranchInventory{
		RestaurantID: r.ID, BranchID: b.ID, InventoryItemID: beef.ID, Stock: dec(500),
	}))

	burger := &model.MenuItem{
		RestaurantID: r.ID, Name: "Burger", Price: dec(9),
		Available: true, AvailableEverywhere: true, ShowOnWebsite: true,
		Ingredients: []model.MenuItemIngredient{{InventoryItemID: beef.ID, Quantity: dec(200)}},
	}
	require.NoError(t, s.CreateMenuItem(ctx, burger))

	rec := &events.Recorder{}
	f := &fixture{
		store:    s,
		recorder: rec,
		clock:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		rid:      r.ID,
		branch:   b.ID,
		beef:     beef.ID,
		burger:   burger.ID,
		table:    tbl.ID,
	}
	ledger := inventory.NewLedger(s, rec, log)
	f.manager = NewManager(s, ledger, catalog.NewResolver(s, log), rec, log)
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) beefStock(t *testing.T) decimal.Decimal {
	t.Helper()
	levels, err := f.store.BranchStockLevels(context.Background(), f.rid, f.branch, []uint{f.beef})
	require.NoError(t, err)
	return levels[f.beef].Quantity
}

func (f *fixture) requireBeef(t *testing.T, want int64) {
	t.Helper()
	got := f.beefStock(t)
	require.Truef(t, got.Equal(dec(want)), "beef stock: want %d, got %s", want, got)
}

func (f *fixture) burgers(n int) CreateInput {
	return CreateInput{
		RestaurantID: f.rid,
		BranchID:     &f.branch,
		Type:         model.OrderTakeaway,
		Source:       model.SourcePOS,
		Items:        []LineInput{{MenuItemID: f.burger, Quantity: n}},
	}
}

func TestBurgerOrdersDeductRejectAndRestore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.manager.Create(ctx, f.burgers(2))
	require.NoError(t, err)
	require.Equal(t, model.StatusUnprocessed, first.Status)
	require.Equal(t, 1, first.OrderNumber)
	require.Equal(t, "2026-03-14", first.BusinessDay)
	require.True(t, first.Total.Equal(dec(18)))
	require.Len(t, first.Items, 1)
	require.Equal(t, "Burger", first.Items[0].Name)
	require.Len(t, first.Items[0].Recipe, 1)
	f.requireBeef(t, 100)

	_, err = f.manager.Create(ctx, f.burgers(1))
	var short *apperr.InsufficientStockError
	require.True(t, errors.As(err, &short), "got %v", err)
	require.Len(t, short.Shortfalls, 1)
	require.Equal(t, f.beef, short.Shortfalls[0].IngredientID)
	require.Equal(t, "Beef", short.Shortfalls[0].Name)
	require.True(t, short.Shortfalls[0].Required.Equal(dec(200)))
	require.True(t, short.Shortfalls[0].Available.Equal(dec(100)))
	f.requireBeef(t, 100)

	orders, err := f.manager.List(ctx, f.rid, model.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	cancelled, err := f.manager.Cancel(ctx, f.rid, first.ID, "customer left")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, cancelled.Status)
	require.Equal(t, "customer left", cancelled.CancelReason)
	f.requireBeef(t, 500)

	require.Len(t, f.recorder.OfType(events.OrderCreated), 1)
	require.Len(t, f.recorder.OfType(events.OrderCancelled), 1)
}

func TestCancellingTwiceIsStateErrorWithoutStockChange(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	o, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.NoError(t, err)
	f.requireBeef(t, 500)

	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	var state *apperr.StateError
	require.True(t, errors.As(err, &state))
	require.Equal(t, string(model.StatusCancelled), state.Current)
	f.requireBeef(t, 500)

	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusCancelled)
	require.True(t, errors.As(err, &state))
	f.requireBeef(t, 500)
}

func TestCancelRestoresWhatWasDeductedAfterRecipeChange(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	o, err := f.manager.Create(ctx, f.burgers(2))
	require.NoError(t, err)
	f.requireBeef(t, 100)

	item, err := f.store.GetMenuItem(ctx, f.rid, f.burger)
	require.NoError(t, err)
	item.Ingredients = []model.MenuItemIngredient{{InventoryItemID: f.beef, Quantity: dec(50)}}
	require.NoError(t, f.store.UpdateMenuItem(ctx, item))

	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.NoError(t, err)
	f.requireBeef(t, 500)
}

func TestCancelWithoutRecipeSnapshotUsesCurrentRecipe(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	legacy := &model.Order{
		RestaurantID: f.rid, BranchID: &f.branch, BusinessDay: "2026-03-13",
		Type: model.OrderTakeaway, Source: model.SourcePOS, Status: model.StatusPending,
		Items: []model.OrderItem{{MenuItemID: f.burger, Name: "Burger", UnitPrice: dec(9), Quantity: 1, LineTotal: dec(9)}},
	}
	require.NoError(t, f.store.CreateOrder(ctx, legacy))

	_, err := f.manager.Cancel(ctx, f.rid, legacy.ID, "")
	require.NoError(t, err)
	f.requireBeef(t, 700)
}

func TestInvalidLinesAreRejectedBeforeDeduction(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	hidden := &model.MenuItem{RestaurantID: f.rid, Name: "Staff Meal", Price: dec(1), Available: true, AvailableEverywhere: true}
	off := &model.MenuItem{RestaurantID: f.rid, Name: "Seasonal", Price: dec(1), AvailableEverywhere: true}
	require.NoError(t, f.store.CreateMenuItem(ctx, hidden))
	require.NoError(t, f.store.CreateMenuItem(ctx, off))

	in := f.burgers(1)
	in.Items = append(in.Items, LineInput{MenuItemID: 999, Quantity: 1}, LineInput{MenuItemID: off.ID, Quantity: 1})
	_, err := f.manager.Create(ctx, in)
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	require.Len(t, invalid.Fields, 2)
	require.Equal(t, "items[1].menu_item_id", invalid.Fields[0].Field)
	f.requireBeef(t, 500)

	web := f.burgers(1)
	web.Source = model.SourceWebsite
	web.Items = append(web.Items, LineInput{MenuItemID: hidden.ID, Quantity: 1})
	_, err = f.manager.Create(ctx, web)
	require.True(t, errors.As(err, &invalid))
	f.requireBeef(t, 500)

	_, err = f.manager.Create(ctx, CreateInput{RestaurantID: f.rid, Type: "drive_thru", Source: model.SourcePOS})
	require.True(t, errors.As(err, &invalid))
	require.Len(t, invalid.Fields, 2)
}

func TestOnlyOneOrderGetsTheLastPortion(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertBranchInventory(ctx, &model.BranchInventory{
		RestaurantID: f.rid, BranchID: f.branch, InventoryItemID: f.beef, Stock: dec(200),
	}))

	const clients = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		short   int
	)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Create(ctx, f.burgers(1))
			var stockErr *apperr.InsufficientStockError
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.As(err, &stockErr) {
				short++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, clients-1, short)
	f.requireBeef(t, 0)
}

func TestOutOfStockPolicyFloorsAtZero(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, f.burgers(3))
	require.NoError(t, err)
	f.requireBeef(t, 0)
}

type failingOrders struct {
	*memstore.Store
}

func (failingOrders) CreateOrder(context.Context, *model.Order) error {
	return errors.New("connection reset")
}

func TestFailedInsertPutsStockBack(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	log := zap.NewNop()

	ledger := inventory.NewLedger(f.store, nil, log)
	m := NewManager(failingOrders{f.store}, ledger, catalog.NewResolver(f.store, log), nil, log)

	_, err := m.Create(ctx, f.burgers(2))
	require.ErrorContains(t, err, "connection reset")
	f.requireBeef(t, 500)
}

// droppedRequestStore cancels the caller's context right after every stock write and
// refuses work on a cancelled context, like a SQL driver would
type droppedRequestStore struct {
	*memstore.Store
	cancel     context.CancelFunc
	failInsert bool
}

func (s *droppedRequestStore) ApplyBranchStock(ctx context.Context, restaurantID, branchID uint, deltas []model.StockDelta, mode model.ApplyMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.Store.ApplyBranchStock(ctx, restaurantID, branchID, deltas, mode)
	s.cancel()
	return err
}

func (s *droppedRequestStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failInsert {
		return errors.New("connection reset")
	}
	return s.Store.CreateOrder(ctx, o)
}

func (s *droppedRequestStore) TransitionOrder(ctx context.Context, restaurantID, orderID uint, change store.StatusChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.TransitionOrder(ctx, restaurantID, orderID, change)
}

func newDroppedRequestManager(f *fixture) (*Manager, *droppedRequestStore) {
	log := zap.NewNop()
	s := &droppedRequestStore{Store: f.store}
	m := NewManager(s, inventory.NewLedger(s, nil, log), catalog.NewResolver(s, log), nil, log)
	m.now = func() time.Time { return f.clock }
	return m, s
}

func TestDroppedRequestStillFinishesStockWork(t *testing.T) {
	f := newFixture(t, false)
	m, s := newDroppedRequestManager(f)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	o, err := m.Create(ctx, f.burgers(2))
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	f.requireBeef(t, 100)

	ctx, cancel = context.WithCancel(context.Background())
	s.cancel = cancel
	cancelled, err := m.Cancel(ctx, f.rid, o.ID, "customer left")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, cancelled.Status)
	f.requireBeef(t, 500)
}

func TestDroppedRequestStillCompensatesFailedInsert(t *testing.T) {
	f := newFixture(t, false)
	m, s := newDroppedRequestManager(f)
	s.failInsert = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	_, err := m.Create(ctx, f.burgers(2))
	require.ErrorContains(t, err, "connection reset")
	f.requireBeef(t, 500)
}

type brokenRestoreStore struct {
	*memstore.Store
}

func (brokenRestoreStore) ApplyBranchStock(context.Context, uint, uint, []model.StockDelta, model.ApplyMode) error {
	return errors.New("disk full")
}

func TestFailedRestoreLeavesOrderOpen(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	log := zap.NewNop()

	o, err := f.manager.Create(ctx, f.burgers(2))
	require.NoError(t, err)

	broken := brokenRestoreStore{f.store}
	m := NewManager(broken, inventory.NewLedger(broken, nil, log), catalog.NewResolver(broken, log), nil, log)
	_, err = m.Cancel(ctx, f.rid, o.ID, "")
	require.ErrorContains(t, err, "disk full")

	still, err := f.store.GetOrder(ctx, f.rid, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusUnprocessed, still.Status)
	f.requireBeef(t, 100)

	// the retry goes through once storage recovers
	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.NoError(t, err)
	f.requireBeef(t, 500)
}

// completedFirstStore lets the order complete between the stock restore and the cancel
type completedFirstStore struct {
	*memstore.Store
	at time.Time
}

func (s completedFirstStore) TransitionOrder(ctx context.Context, restaurantID, orderID uint, change store.StatusChange) error {
	if change.To == model.StatusCancelled {
		if err := s.Store.TransitionOrder(ctx, restaurantID, orderID, store.StatusChange{
			From: model.NonTerminalStatuses, To: model.StatusCompleted, At: s.at,
		}); err != nil {
			return err
		}
	}
	return s.Store.TransitionOrder(ctx, restaurantID, orderID, change)
}

func TestCancelLosingTheRaceTakesStockBack(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	log := zap.NewNop()

	o, err := f.manager.Create(ctx, f.burgers(2))
	require.NoError(t, err)
	f.requireBeef(t, 100)

	racing := completedFirstStore{Store: f.store, at: f.clock}
	m := NewManager(racing, inventory.NewLedger(racing, nil, log), catalog.NewResolver(racing, log), nil, log)
	_, err = m.Cancel(ctx, f.rid, o.ID, "")
	var state *apperr.StateError
	require.True(t, errors.As(err, &state))
	require.Equal(t, string(model.StatusCompleted), state.Current)
	f.requireBeef(t, 100)
}

func TestLifecycleLogsThroughRequestLogger(t *testing.T) {
	f := newFixture(t, false)
	core, logs := observer.New(zap.InfoLevel)
	ctx := logger.WithLogger(context.Background(), zap.New(core).With(zap.String("request_id", "req-7")))

	o, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.NoError(t, err)

	for _, msg := range []string{"Order created", "Order cancelled"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		require.Equal(t, "req-7", entries[0].ContextMap()["request_id"])
	}
}

func TestOrderNumbersRestartEachBusinessDay(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	b, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, []int{a.OrderNumber, b.OrderNumber})

	// 18:00 UTC is already the next day in Bangkok
	f.clock = f.clock.Add(8 * time.Hour)
	c, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	require.Equal(t, 1, c.OrderNumber)
	require.Equal(t, "2026-03-15", c.BusinessDay)
}

func TestStatusMovesForwardOrBackOneStep(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	in := f.burgers(1)
	in.Type = model.OrderDineIn
	in.TableID = &f.table
	o, err := f.manager.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusReady)
	require.NoError(t, err)

	var state *apperr.StateError
	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusUnprocessed)
	require.True(t, errors.As(err, &state))
	require.Equal(t, string(model.StatusReady), state.Current)

	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusReady)
	require.True(t, errors.As(err, &state))

	back, err := f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusPending)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, back.Status)

	done, err := f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	tbl, err := f.store.GetTable(ctx, f.rid, f.table)
	require.NoError(t, err)
	require.True(t, tbl.Available)

	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, model.StatusPending)
	require.True(t, errors.As(err, &state))
	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.True(t, errors.As(err, &state))
	f.requireBeef(t, 300)

	_, err = f.manager.AdvanceStatus(ctx, f.rid, o.ID, "SERVED")
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid))

	changes := f.recorder.OfType(events.OrderStatusChanged)
	require.Len(t, changes, 3)
	require.Equal(t, model.StatusReady, changes[1].Order.Previous)
}

func TestPaymentCompletesOrderAndFreesTable(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	in := f.burgers(2)
	in.Type = model.OrderDineIn
	in.TableID = &f.table
	o, err := f.manager.Create(ctx, in)
	require.NoError(t, err)

	tbl, err := f.store.GetTable(ctx, f.rid, f.table)
	require.NoError(t, err)
	require.False(t, tbl.Available)

	_, err = f.manager.Create(ctx, in)
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid))
	f.requireBeef(t, 100)

	_, err = f.manager.RecordPayment(ctx, f.rid, o.ID, PaymentInput{Method: "cheque", Amount: dec(0)})
	require.True(t, errors.As(err, &invalid))
	require.Len(t, invalid.Fields, 2)

	paid, err := f.manager.RecordPayment(ctx, f.rid, o.ID, PaymentInput{Method: model.PaymentCash, Amount: dec(18)})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, paid.Status)
	require.True(t, paid.AmountPaid.Equal(dec(18)))
	require.Equal(t, model.PaymentCash, *paid.PaymentMethod)

	tbl, err = f.store.GetTable(ctx, f.rid, f.table)
	require.NoError(t, err)
	require.True(t, tbl.Available)
	require.Len(t, f.recorder.OfType(events.OrderPaid), 1)
	require.Len(t, f.recorder.OfType(events.OrderStatusChanged), 1)

	// a second payment on a completed order only adds to the amount
	paid, err = f.manager.RecordPayment(ctx, f.rid, o.ID, PaymentInput{Method: model.PaymentCard, Amount: dec(2)})
	require.NoError(t, err)
	require.True(t, paid.AmountPaid.Equal(dec(20)))
	require.Len(t, f.recorder.OfType(events.OrderStatusChanged), 1)
}

func TestPaymentOnCancelledOrderIsStateError(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	o, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)
	_, err = f.manager.Cancel(ctx, f.rid, o.ID, "")
	require.NoError(t, err)

	_, err = f.manager.RecordPayment(ctx, f.rid, o.ID, PaymentInput{Method: model.PaymentCard, Amount: dec(9)})
	var state *apperr.StateError
	require.True(t, errors.As(err, &state))
	require.Equal(t, string(model.StatusCancelled), state.Current)
}

func TestClosedBranchAndForeignTenantAreRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	closed := &model.Branch{RestaurantID: f.rid, Name: "Pop-up", Status: model.BranchClosedToday}
	require.NoError(t, f.store.CreateBranch(ctx, closed))
	in := f.burgers(1)
	in.BranchID = &closed.ID
	_, err := f.manager.Create(ctx, in)
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid))

	o, err := f.manager.Create(ctx, f.burgers(1))
	require.NoError(t, err)

	other := &model.Restaurant{Name: "Rival"}
	require.NoError(t, f.store.CreateRestaurant(ctx, other))
	var notFound *apperr.NotFoundError
	_, err = f.manager.Get(ctx, other.ID, o.ID)
	require.True(t, errors.As(err, &notFound))
	_, err = f.manager.Cancel(ctx, other.ID, o.ID, "")
	require.True(t, errors.As(err, &notFound))
	f.requireBeef(t, 300)

	in = f.burgers(1)
	in.RestaurantID = other.ID
	_, err = f.manager.Create(ctx, in)
	require.True(t, errors.As(err, &notFound))
}
