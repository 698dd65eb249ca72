package gormstore

import (
	"context"
	"fmt"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"
	"restaurant-service/internal/store"
	"restaurant-service/prometheus"

	"gorm.io/gorm"
)

// two writers opening the same business day race on the sequence insert; the loser retries
const maxSequenceAttempts = 3

func nextOrderNumber(tx *gorm.DB, restaurantID uint, businessDay string) (int, error) {
	res := tx.Model(&model.OrderSequence{}).
		Where("restaurant_id = ? AND business_day = ?", restaurantID, businessDay).
		Update("last_number", gorm.Expr("last_number + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		seq := model.OrderSequence{RestaurantID: restaurantID, BusinessDay: businessDay, LastNumber: 1}
		if err := tx.Create(&seq).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}

	var number int
	err := tx.Model(&model.OrderSequence{}).
		Select("last_number").
		Where("restaurant_id = ? AND business_day = ?", restaurantID, businessDay).
		Scan(&number).Error
	return number, err
}

func resetOrderIDs(o *model.Order) {
	o.ID = 0
	for i := range o.Items {
		o.Items[i].ID = 0
		o.Items[i].OrderID = 0
	}
}

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	defer prometheus.TrackDBOperation("create_order")(time.Now())

	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			number, err := nextOrderNumber(tx, o.RestaurantID, o.BusinessDay)
			if err != nil {
				return err
			}
			o.OrderNumber = number
			return tx.Create(o).Error
		})
		if err == nil {
			return nil
		}
		resetOrderIDs(o)
		if !isDuplicate(err) {
			return fmt.Errorf("insert order: %w", err)
		}
	}
	return apperr.Conflict("order", "order number sequence is contended, retry")
}

func (s *Store) GetOrder(ctx context.Context, restaurantID, orderID uint) (*model.Order, error) {
	var o model.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ? AND restaurant_id = ?", orderID, restaurantID).
		First(&o).Error
	if err != nil {
		return nil, mapError(err, "order", orderID)
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, restaurantID uint, filter model.OrderFilter) ([]model.Order, error) {
	defer prometheus.TrackDBOperation("list_orders")(time.Now())

	q := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("restaurant_id = ?", restaurantID)
	if filter.BranchID != nil {
		q = q.Where("branch_id = ?", *filter.BranchID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.BusinessDay != "" {
		q = q.Where("business_day = ?", filter.BusinessDay)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var orders []model.Order
	if err := q.Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// guardMiss tells a missing order apart from one whose status moved on
func (s *Store) guardMiss(ctx context.Context, restaurantID, orderID uint) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND restaurant_id = ?", orderID, restaurantID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.NotFound("order", orderID)
	}
	return store.ErrStatusGuard
}

func (s *Store) TransitionOrder(ctx context.Context, restaurantID, orderID uint, change store.StatusChange) error {
	defer prometheus.TrackDBOperation("transition_order")(time.Now())

	updates := map[string]interface{}{"status": change.To, "updated_at": change.At}
	switch change.To {
	case model.StatusCompleted:
		updates["completed_at"] = change.At
	case model.StatusCancelled:
		updates["cancelled_at"] = change.At
		updates["cancel_reason"] = change.Reason
	}

	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND restaurant_id = ? AND status IN ?", orderID, restaurantID, change.From).
		UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.guardMiss(ctx, restaurantID, orderID)
	}
	return nil
}

func (s *Store) RecordPayment(ctx context.Context, restaurantID, orderID uint, p model.Payment) (*model.Order, error) {
	defer prometheus.TrackDBOperation("record_payment")(time.Now())

	// every right-hand side reads the pre-update row
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND restaurant_id = ? AND status <> ?", orderID, restaurantID, model.StatusCancelled).
		UpdateColumns(map[string]interface{}{
			"amount_paid":    gorm.Expr("amount_paid + ?", p.Amount),
			"payment_method": p.Method,
			"paid_at":        gorm.Expr("COALESCE(paid_at, ?)", p.At),
			"completed_at":   gorm.Expr("CASE WHEN status IN ? THEN ? ELSE completed_at END", model.NonTerminalStatuses, p.At),
			"status":         gorm.Expr("CASE WHEN status IN ? THEN ? ELSE status END", model.NonTerminalStatuses, model.StatusCompleted),
			"updated_at":     p.At,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.guardMiss(ctx, restaurantID, orderID)
	}

	return s.GetOrder(ctx, restaurantID, orderID)
}
