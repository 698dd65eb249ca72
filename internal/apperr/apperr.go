package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldError describes one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports bad or missing input and unknown references
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it carries at least one field error
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-field ValidationError
func Invalid(field, format string, args ...interface{}) error {
	v := &ValidationError{}
	v.Add(field, format, args...)
	return v
}

// Shortfall is one ingredient that cannot cover the requested quantity
type Shortfall struct {
	IngredientID uint            `json:"ingredient_id"`
	Name         string          `json:"name"`
	Required     decimal.Decimal `json:"required"`
	Available    decimal.Decimal `json:"available"`
}

// InsufficientStockError lists every short ingredient of a rejected deduction
type InsufficientStockError struct {
	Shortfalls []Shortfall `json:"shortfalls"`
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("#%d", s.IngredientID)
		}
		parts = append(parts, fmt.Sprintf("%s required=%s available=%s", name, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// NotFoundError hides whether the entity is absent or owned by another tenant
type NotFoundError struct {
	Entity string `json:"entity"`
	ID     uint   `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func NotFound(entity string, id uint) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError is a uniqueness violation; callers may retry
type ConflictError struct {
	Entity  string `json:"entity"`
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Message)
}

func Conflict(entity, message string) error {
	return &ConflictError{Entity: entity, Message: message}
}

// StateError rejects a transition and echoes the current state back
type StateError struct {
	Current   string `json:"current"`
	Attempted string `json:"attempted"`
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.Current, e.Attempted)
}

// HTTPStatus maps an error from the core to a response code
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		notFound   *NotFoundError
		conflict   *ConflictError
		state      *StateError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &stock):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &state):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may repeat the request unchanged
func Retryable(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// Kind returns a short machine-readable name for the error class
func Kind(err error) string {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		notFound   *NotFoundError
		conflict   *ConflictError
		state      *StateError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &state):
		return "state"
	}
	return "internal"
}
