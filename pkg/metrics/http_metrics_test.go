package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByCategory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics("restaurant-service", reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })

	for _, path := range []string{"/ok", "/ok", "/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("restaurant-service", "2xx", "GET", "/ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("restaurant-service", "4xx", "GET", "/missing")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("restaurant-service", "GET", "/missing", "404")))
}
