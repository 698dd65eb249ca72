// Package gormstore implements store.Store on gorm, postgres in production.
package gormstore

import (
	"errors"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/store"

	"gorm.io/gorm"
)

// Store wraps a gorm handle; every method scopes its queries by restaurant id
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// isDuplicate recognises unique violations whether or not the dialector translates them
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// mapError converts gorm errors on a single entity into the core taxonomy
func mapError(err error, entity string, id uint) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(entity, id)
	case isDuplicate(err):
		return apperr.Conflict(entity, "name already used in this scope")
	}
	return err
}

// scopeBranch keeps restaurant-wide rows plus the requested branch's own rows
func scopeBranch(q *gorm.DB, branchID *uint) *gorm.DB {
	if branchID == nil {
		return q.Where("branch_id IS NULL")
	}
	return q.Where("(branch_id IS NULL OR branch_id = ?)", *branchID)
}
