package gormstore

import (
	"context"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/prometheus"
)

func (s *Store) CreateRestaurant(ctx context.Context, r *model.Restaurant) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID uint) (*model.Restaurant, error) {
	defer prometheus.TrackDBOperation("get_restaurant")(time.Now())

	var r model.Restaurant
	if err := s.db.WithContext(ctx).First(&r, restaurantID).Error; err != nil {
		return nil, mapError(err, "restaurant", restaurantID)
	}
	return &r, nil
}

func (s *Store) CreateBranch(ctx context.Context, b *model.Branch) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *Store) GetBranch(ctx context.Context, restaurantID, branchID uint) (*model.Branch, error) {
	var b model.Branch
	err := s.db.WithContext(ctx).
		Where("id = ? AND restaurant_id = ?", branchID, restaurantID).
		First(&b).Error
	if err != nil {
		return nil, mapError(err, "branch", branchID)
	}
	return &b, nil
}

func (s *Store) CreateTable(ctx context.Context, t *model.Table) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTable(ctx context.Context, restaurantID, tableID uint) (*model.Table, error) {
	var t model.Table
	err := s.db.WithContext(ctx).
		Where("id = ? AND restaurant_id = ?", tableID, restaurantID).
		First(&t).Error
	if err != nil {
		return nil, mapError(err, "table", tableID)
	}
	return &t, nil
}

func (s *Store) SetTableAvailable(ctx context.Context, restaurantID, tableID uint, available bool) error {
	res := s.db.WithContext(ctx).Model(&model.Table{}).
		Where("id = ? AND restaurant_id = ?", tableID, restaurantID).
		Update("available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("table", tableID)
	}
	return nil
}
