package gormstore

import (
	"context"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func orderedIngredients(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func (s *Store) CreateCategory(ctx context.Context, c *model.Category) error {
	return mapError(s.db.WithContext(ctx).Create(c).Error, "category", 0)
}

func (s *Store) GetCategory(ctx context.Context, restaurantID, categoryID uint) (*model.Category, error) {
	var c model.Category
	err := s.db.WithContext(ctx).
		Where("id = ? AND restaurant_id = ?", categoryID, restaurantID).
		First(&c).Error
	if err != nil {
		return nil, mapError(err, "category", categoryID)
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, restaurantID uint, branchID *uint) ([]model.Category, error) {
	var categories []model.Category
	q := scopeBranch(s.db.WithContext(ctx).Where("restaurant_id = ?", restaurantID), branchID)
	if err := q.Order("id").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateMenuItem(ctx context.Context, m *model.MenuItem) error {
	defer prometheus.TrackDBOperation("create_menu_item")(time.Now())
	return mapError(s.db.WithContext(ctx).Create(m).Error, "menu_item", 0)
}

func (s *Store) UpdateMenuItem(ctx context.Context, m *model.MenuItem) error {
	defer prometheus.TrackDBOperation("update_menu_item")(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.MenuItem
		if err := tx.Where("id = ? AND restaurant_id = ?", m.ID, m.RestaurantID).First(&existing).Error; err != nil {
			return mapError(err, "menu_item", m.ID)
		}
		m.CreatedAt = existing.CreatedAt

		if err := tx.Omit(clause.Associations).Save(m).Error; err != nil {
			return mapError(err, "menu_item", m.ID)
		}
		if err := tx.Where("menu_item_id = ?", m.ID).Delete(&model.MenuItemIngredient{}).Error; err != nil {
			return err
		}
		if len(m.Ingredients) == 0 {
			return nil
		}
		for i := range m.Ingredients {
			m.Ingredients[i].ID = 0
			m.Ingredients[i].MenuItemID = m.ID
		}
		return tx.Create(&m.Ingredients).Error
	})
}

func (s *Store) GetMenuItem(ctx context.Context, restaurantID, menuItemID uint) (*model.MenuItem, error) {
	var m model.MenuItem
	err := s.db.WithContext(ctx).
		Preload("Ingredients", orderedIngredients).
		Where("id = ? AND restaurant_id = ?", menuItemID, restaurantID).
		First(&m).Error
	if err != nil {
		return nil, mapError(err, "menu_item", menuItemID)
	}
	return &m, nil
}

func (s *Store) ListMenuItems(ctx context.Context, restaurantID uint, branchID *uint) ([]model.MenuItem, error) {
	defer prometheus.TrackDBOperation("list_menu_items")(time.Now())

	var items []model.MenuItem
	q := s.db.WithContext(ctx).
		Preload("Ingredients", orderedIngredients).
		Where("restaurant_id = ?", restaurantID)
	if err := scopeBranch(q, branchID).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetMenuItems(ctx context.Context, restaurantID uint, ids []uint) ([]model.MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []model.MenuItem
	err := s.db.WithContext(ctx).
		Preload("Ingredients", orderedIngredients).
		Where("restaurant_id = ? AND id IN ?", restaurantID, ids).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertOverride(ctx context.Context, o *model.BranchMenuItem) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch_id"}, {Name: "menu_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "available", "updated_at"}),
	}).Create(o).Error
	if err != nil {
		return err
	}
	// the conflict path does not report the existing row's id on every dialect
	return s.db.WithContext(ctx).
		Where("branch_id = ? AND menu_item_id = ?", o.BranchID, o.MenuItemID).
		First(o).Error
}

func (s *Store) DeleteOverride(ctx context.Context, restaurantID, branchID, menuItemID uint) error {
	res := s.db.WithContext(ctx).
		Where("restaurant_id = ? AND branch_id = ? AND menu_item_id = ?", restaurantID, branchID, menuItemID).
		Delete(&model.BranchMenuItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("branch_menu_item", menuItemID)
	}
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, restaurantID, branchID uint) ([]model.BranchMenuItem, error) {
	var overrides []model.BranchMenuItem
	err := s.db.WithContext(ctx).
		Where("restaurant_id = ? AND branch_id = ?", restaurantID, branchID).
		Order("menu_item_id").
		Find(&overrides).Error
	if err != nil {
		return nil, err
	}
	return overrides, nil
}
