package prometheus

import (
	"strconv"
	"time"

	"restaurant-service/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors stay nil until InitMetrics runs; every recorder below is a no-op before that,
// so packages can be exercised in tests without touching the default registry.
var (
	// Order metrics
	OrdersCreatedCounter     *prometheus.CounterVec
	OrdersCancelledCounter   prometheus.Counter
	OrderTransitionsCounter  *prometheus.CounterVec
	PaymentsRecordedCounter  *prometheus.CounterVec
	InsufficientStockCounter prometheus.Counter

	// Inventory metrics
	StockMovementsCounter *prometheus.CounterVec
	LowStockGauge         *prometheus.GaugeVec

	// Catalog metrics
	MenuResolutionsCounter *prometheus.CounterVec

	// Event metrics
	EventPublishErrorsCounter *prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(config *config.Config) {
	prefix := config.Metrics.Prefix

	OrdersCreatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_orders_created_total",
			Help: "Total number of orders created",
		},
		[]string{"source", "type"},
	)

	OrdersCancelledCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		},
	)

	OrderTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_order_transitions_total",
			Help: "Total number of order status transitions",
		},
		[]string{"from", "to"},
	)

	PaymentsRecordedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_payments_recorded_total",
			Help: "Total number of payments recorded against orders",
		},
		[]string{"method"},
	)

	InsufficientStockCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_insufficient_stock_rejections_total",
			Help: "Total number of deductions rejected for insufficient stock",
		},
	)

	StockMovementsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_stock_movements_total",
			Help: "Total number of applied stock movements",
		},
		[]string{"kind", "scope"},
	)

	LowStockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_low_stock_ingredients",
			Help: "Current stock of ingredients at or below their low-stock threshold",
		},
		[]string{"restaurant_id", "branch_id", "ingredient_id"},
	)

	MenuResolutionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_menu_resolutions_total",
			Help: "Total number of effective menu resolutions",
		},
		[]string{"scope"},
	)

	EventPublishErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_event_publish_errors_total",
			Help: "Total number of events that could not be published",
		},
		[]string{"topic"},
	)

	DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if DbOperationDuration == nil {
			return
		}
		DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// RecordOrderCreated increments the counter for created orders
func RecordOrderCreated(source, orderType string) {
	if OrdersCreatedCounter != nil {
		OrdersCreatedCounter.WithLabelValues(source, orderType).Inc()
	}
}

func RecordOrderCancelled() {
	if OrdersCancelledCounter != nil {
		OrdersCancelledCounter.Inc()
	}
}

func RecordOrderTransition(from, to string) {
	if OrderTransitionsCounter != nil {
		OrderTransitionsCounter.WithLabelValues(from, to).Inc()
	}
}

func RecordPayment(method string) {
	if PaymentsRecordedCounter != nil {
		PaymentsRecordedCounter.WithLabelValues(method).Inc()
	}
}

func RecordInsufficientStock() {
	if InsufficientStockCounter != nil {
		InsufficientStockCounter.Inc()
	}
}

// RecordStockMovement counts one applied deduct, restore or adjust batch
func RecordStockMovement(kind, scope string) {
	if StockMovementsCounter != nil {
		StockMovementsCounter.WithLabelValues(kind, scope).Inc()
	}
}

// UpdateLowStock sets the gauge for an ingredient at or below its threshold.
// branchID 0 is the restaurant-level pool.
func UpdateLowStock(restaurantID, branchID, ingredientID uint, quantity float64) {
	if LowStockGauge == nil {
		return
	}
	LowStockGauge.WithLabelValues(
		strconv.FormatUint(uint64(restaurantID), 10),
		strconv.FormatUint(uint64(branchID), 10),
		strconv.FormatUint(uint64(ingredientID), 10),
	).Set(quantity)
}

// ClearLowStock drops the gauge series once the ingredient is back above threshold
func ClearLowStock(restaurantID, branchID, ingredientID uint) {
	if LowStockGauge == nil {
		return
	}
	LowStockGauge.DeleteLabelValues(
		strconv.FormatUint(uint64(restaurantID), 10),
		strconv.FormatUint(uint64(branchID), 10),
		strconv.FormatUint(uint64(ingredientID), 10),
	)
}

func RecordMenuResolution(scope string) {
	if MenuResolutionsCounter != nil {
		MenuResolutionsCounter.WithLabelValues(scope).Inc()
	}
}

func RecordEventPublishError(topic string) {
	if EventPublishErrorsCounter != nil {
		EventPublishErrorsCounter.WithLabelValues(topic).Inc()
	}
}
