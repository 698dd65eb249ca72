package gormstore

import (
	"context"
	"sort"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateInventoryItem(ctx context.Context, i *model.InventoryItem) error {
	err := s.db.WithContext(ctx).Create(i).Error
	if isDuplicate(err) {
		return apperr.Conflict("inventory_item", "name already used in this scope")
	}
	return err
}

func (s *Store) GetInventoryItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.InventoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []model.InventoryItem
	err := s.db.WithContext(ctx).
		Where("restaurant_id = ? AND id IN ?", restaurantID, ids).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.InventoryItem, error) {
	var items []model.InventoryItem
	q := scopeBranch(s.db.WithContext(ctx).Where("restaurant_id = ?", restaurantID), branchID)
	if err := q.Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertBranchInventory(ctx context.Context, bi *model.BranchInventory) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.InventoryItem{}).
		Where("id = ? AND restaurant_id = ?", bi.InventoryItemID, bi.RestaurantID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.NotFound("inventory_item", bi.InventoryItemID)
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch_id"}, {Name: "inventory_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stock", "low_stock_threshold", "cost_per_unit", "updated_at"}),
	}).Create(bi).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("branch_id = ? AND inventory_item_id = ?", bi.BranchID, bi.InventoryItemID).
		First(bi).Error
}

func levelsByID(levels []model.StockLevel) map[uint]model.StockLevel {
	out := make(map[uint]model.StockLevel, len(levels))
	for _, l := range levels {
		out[l.IngredientID] = l
	}
	return out
}

func (s *Store) RestaurantStockLevels(ctx context.Context, restaurantID uint, ids []uint) (map[uint]model.StockLevel, error) {
	defer prometheus.TrackDBOperation("restaurant_stock_levels")(time.Now())

	var levels []model.StockLevel
	q := s.db.WithContext(ctx).Model(&model.InventoryItem{}).
		Select("id AS ingredient_id, name, unit, stock AS quantity, low_stock_threshold").
		Where("restaurant_id = ?", restaurantID)
	if ids != nil {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Scan(&levels).Error; err != nil {
		return nil, err
	}
	return levelsByID(levels), nil
}

func (s *Store) BranchStockLevels(ctx context.Context, restaurantID, branchID uint, ids []uint) (map[uint]model.StockLevel, error) {
	defer prometheus.TrackDBOperation("branch_stock_levels")(time.Now())

	var levels []model.StockLevel
	q := s.db.WithContext(ctx).Table("branch_inventories AS bi").
		Select("bi.inventory_item_id AS ingredient_id, ii.name AS name, ii.unit AS unit, bi.stock AS quantity, bi.low_stock_threshold AS low_stock_threshold").
		Joins("JOIN inventory_items ii ON ii.id = bi.inventory_item_id").
		Where("bi.restaurant_id = ? AND bi.branch_id = ?", restaurantID, branchID)
	if ids != nil {
		q = q.Where("bi.inventory_item_id IN ?", ids)
	}
	if err := q.Scan(&levels).Error; err != nil {
		return nil, err
	}
	return levelsByID(levels), nil
}

// applyDeltas runs inside the caller's transaction with ids in ascending order so concurrent
// batches lock rows in the same sequence. Every change is a single UPDATE on the row itself.
// UpdateColumns skips the model save hooks, which would otherwise normalize an empty struct.
func applyDeltas(rows func(id uint) *gorm.DB, deltas []model.StockDelta, mode model.ApplyMode) error {
	now := time.Now()
	sorted := append([]model.StockDelta(nil), deltas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IngredientID < sorted[j].IngredientID })

	for _, d := range sorted {
		if d.Quantity.IsZero() {
			continue
		}
		if !d.Quantity.IsNegative() {
			if err := rows(d.IngredientID).UpdateColumns(map[string]interface{}{
				"stock":      gorm.Expr("stock + ?", d.Quantity),
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
			continue
		}

		qty := d.Quantity.Neg()
		if mode == model.ApplyFloorAtZero {
			err := rows(d.IngredientID).UpdateColumns(map[string]interface{}{
				"stock":      gorm.Expr("CASE WHEN stock > ? THEN stock - ? ELSE 0 END", qty, qty),
				"updated_at": now,
			}).Error
			if err != nil {
				return err
			}
			continue
		}

		res := rows(d.IngredientID).Where("stock >= ?", qty).UpdateColumns(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrStockGuard
		}
	}
	return nil
}

func (s *Store) ApplyRestaurantStock(ctx context.Context, restaurantID uint, deltas []model.StockDelta, mode model.ApplyMode) error {
	defer prometheus.TrackDBOperation("apply_restaurant_stock")(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyDeltas(func(id uint) *gorm.DB {
			return tx.Model(&model.InventoryItem{}).Where("id = ? AND restaurant_id = ?", id, restaurantID)
		}, deltas, mode)
	})
}

func (s *Store) ApplyBranchStock(ctx context.Context, restaurantID, branchID uint, deltas []model.StockDelta, mode model.ApplyMode) error {
	defer prometheus.TrackDBOperation("apply_branch_stock")(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyDeltas(func(id uint) *gorm.DB {
			return tx.Model(&model.BranchInventory{}).
				Where("restaurant_id = ? AND branch_id = ? AND inventory_item_id = ?", restaurantID, branchID, id)
		}, deltas, mode)
	})
}
