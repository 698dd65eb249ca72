package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/catalog"
	"restaurant-service/internal/inventory"
	mid "restaurant-service/internal/middleware"
	"restaurant-service/internal/order"
	"restaurant-service/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler adapts the core services to HTTP
type Handler struct {
	resolver  *catalog.Resolver
	catalog   *catalog.Service
	inventory *inventory.Service
	orders    *order.Manager
}

func New(resolver *catalog.Resolver, catalogService *catalog.Service, inventoryService *inventory.Service, orders *order.Manager) *Handler {
	return &Handler{
		resolver:  resolver,
		catalog:   catalogService,
		inventory: inventoryService,
		orders:    orders,
	}
}

// RequestValidator runs the validate tags of request payloads
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate returns an *apperr.ValidationError listing every failed field
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &apperr.ValidationError{}
	for _, fe := range fieldErrs {
		out.Add(fieldPath(fe), "failed %s", describeTag(fe))
	}
	return out
}

// fieldPath drops the request struct name from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// bind decodes and validates the request body
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Invalid("body", "invalid request data")
	}
	return c.Validate(req)
}

// respondError writes err with the status its class maps to
func respondError(c echo.Context, err error) error {
	log := logger.FromContext(c)
	status := apperr.HTTPStatus(err)
	body := echo.Map{
		"error":     err.Error(),
		"kind":      apperr.Kind(err),
		"retryable": apperr.Retryable(err),
	}

	var (
		validation *apperr.ValidationError
		stock      *apperr.InsufficientStockError
		state      *apperr.StateError
	)
	switch {
	case errors.As(err, &validation):
		body["fields"] = validation.Fields
	case errors.As(err, &stock):
		body["shortfalls"] = stock.Shortfalls
	case errors.As(err, &state):
		body["current_status"] = state.Current
	}

	if status == http.StatusInternalServerError {
		log.Error("Request failed", zap.Error(err))
		body["error"] = "internal server error"
	} else {
		log.Info("Request rejected", zap.Int("status", status), zap.String("kind", apperr.Kind(err)), zap.Error(err))
	}
	return c.JSON(status, body)
}

func restaurantID(c echo.Context) (uint, error) {
	id, ok := mid.RestaurantIDFromContext(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "missing restaurant context")
	}
	return id, nil
}

// branchScope picks the request's branch: the token's branch when bound to one, else the
// optional branch_id query parameter
func branchScope(c echo.Context) (*uint, error) {
	bound := branchOf(c)
	requested, err := optionalUint(c.QueryParam("branch_id"), "branch_id")
	if err != nil {
		return nil, err
	}
	if bound == nil {
		return requested, nil
	}
	if requested != nil && *requested != *bound {
		return nil, echo.NewHTTPError(http.StatusForbidden, "token is bound to another branch")
	}
	return bound, nil
}

func branchOf(c echo.Context) *uint {
	return mid.BranchIDFromContext(c)
}

// checkBound refuses records outside the token's branch; restaurant-wide records count as outside
func checkBound(c echo.Context, branchID *uint) error {
	bound := branchOf(c)
	if bound == nil || (branchID != nil && *branchID == *bound) {
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "token is bound to another branch")
}

func pathUint(c echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return uint(v), nil
}

func optionalUint(raw, name string) (*uint, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, apperr.Invalid(name, "must be a positive integer")
	}
	id := uint(v)
	return &id, nil
}

func optionalBool(raw, name string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Invalid(name, "must be a boolean")
	}
	return v, nil
}

// fail sends err, passing echo's own HTTP errors through untouched
func fail(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, echo.Map{"error": he.Message})
	}
	return respondError(c, err)
}
