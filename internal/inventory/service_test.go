package inventory

import (
	"context"
	"errors"
	"testing"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateIngredientValidatesAndRejectsDuplicates(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.store, e.ledger, zap.NewNop())
	ctx := context.Background()

	_, err := svc.CreateIngredient(ctx, CreateIngredientInput{RestaurantID: e.restaurant.ID, Unit: "cups", Stock: dec(-1)})
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid))
	require.Len(t, invalid.Fields, 3)

	_, err = svc.CreateIngredient(ctx, CreateIngredientInput{RestaurantID: e.restaurant.ID, Name: " BEEF ", Unit: model.UnitGram})
	var conflict *apperr.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)

	local, err := svc.CreateIngredient(ctx, CreateIngredientInput{
		RestaurantID: e.restaurant.ID, BranchID: &e.branch.ID, Name: "Beef", Unit: model.UnitGram,
	})
	require.NoError(t, err)
	require.Equal(t, "Beef", local.Name)
}

func TestSetBranchStockRespectsIngredientScope(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.store, e.ledger, zap.NewNop())
	ctx := context.Background()

	annex := &model.Branch{RestaurantID: e.restaurant.ID, Name: "Annex", Status: model.BranchActive}
	require.NoError(t, e.store.CreateBranch(ctx, annex))
	truffle, err := svc.CreateIngredient(ctx, CreateIngredientInput{
		RestaurantID: e.restaurant.ID, BranchID: &annex.ID, Name: "Truffle", Unit: model.UnitGram,
	})
	require.NoError(t, err)

	_, err = svc.SetBranchStock(ctx, SetBranchStockInput{
		RestaurantID: e.restaurant.ID, BranchID: e.branch.ID, IngredientID: truffle.ID, Stock: dec(5),
	})
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))

	row, err := svc.SetBranchStock(ctx, SetBranchStockInput{
		RestaurantID: e.restaurant.ID, BranchID: annex.ID, IngredientID: truffle.ID, Stock: dec(5),
	})
	require.NoError(t, err)
	requireQty(t, 5, row.Stock)

	levels, err := svc.ListStock(ctx, e.restaurant.ID, &annex.ID)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Equal(t, "Truffle", levels[0].Name)
}

func TestAdjustGuardsAndClamps(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.store, e.ledger, zap.NewNop())
	ctx := context.Background()

	err := svc.Adjust(ctx, AdjustInput{
		RestaurantID: e.restaurant.ID, BranchID: &e.branch.ID,
		Deltas: []model.StockDelta{{IngredientID: e.cheese.ID, Quantity: dec(-100)}},
	})
	var short *apperr.InsufficientStockError
	require.True(t, errors.As(err, &short), "got %v", err)
	requireQty(t, 60, e.branchStock(t, e.cheese.ID))

	require.NoError(t, svc.Adjust(ctx, AdjustInput{
		RestaurantID: e.restaurant.ID, BranchID: &e.branch.ID, Clamp: true,
		Deltas: []model.StockDelta{
			{IngredientID: e.cheese.ID, Quantity: dec(-100)},
			{IngredientID: e.beef.ID, Quantity: dec(25)},
		},
	}))
	requireQty(t, 0, e.branchStock(t, e.cheese.ID))
	requireQty(t, 525, e.branchStock(t, e.beef.ID))

	err = svc.Adjust(ctx, AdjustInput{
		RestaurantID: e.restaurant.ID,
		Deltas:       []model.StockDelta{{IngredientID: e.beef.ID}, {IngredientID: e.beef.ID, Quantity: dec(1)}},
	})
	var invalid *apperr.ValidationError
	require.True(t, errors.As(err, &invalid))
	require.Len(t, invalid.Fields, 2)
}

func TestListStockRejectsForeignBranch(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.store, e.ledger, zap.NewNop())
	ctx := context.Background()

	other := &model.Restaurant{Name: "Rival"}
	require.NoError(t, e.store.CreateRestaurant(ctx, other))

	_, err := svc.ListStock(ctx, other.ID, &e.branch.ID)
	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))

	levels, err := svc.ListStock(ctx, e.restaurant.ID, nil)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	require.Equal(t, e.beef.ID, levels[0].IngredientID)
}
