package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())
	e.GET("/api/data/:domain", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/broken", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway) })

	before := promtest.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/data/:domain", "200"))
	for _, path := range []string{"/api/data/grades", "/api/data/homework"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	after := promtest.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/data/:domain", "200"))
	assert.Equal(t, before+2, after, "labelled by route, not path")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/broken", nil))
	assert.Equal(t, float64(1), promtest.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/broken", "502")))
}

func TestPathPattern(t *testing.T) {
	tests := map[string]string{
		"login.awp":                "login.awp",
		"eleves/42/notes.awp":      "eleves/:id/notes.awp",
		"E/42/emploidutemps.awp":   "E/:id/emploidutemps.awp",
		"eleves/42/messages/7.awp": "eleves/:id/messages/:id.awp",
		"connexion/doubleauth.awp": "connexion/doubleauth.awp",
	}
	for in, want := range tests {
		assert.Equal(t, want, pathPattern(in), in)
	}
}

func TestObservers(t *testing.T) {
	ObserveUpstream("login.awp", 250, 10*time.Millisecond)
	ObserveLogin("login", "double_auth")
	ObserveRelogin("renewed")
	ObserveSync("grades", "unchanged")

	assert.Equal(t, float64(1), promtest.ToFloat64(upstreamCallsTotal.WithLabelValues("login.awp", "250")))
	assert.Equal(t, float64(1), promtest.ToFloat64(loginsTotal.WithLabelValues("login", "double_auth")))
	assert.Equal(t, float64(1), promtest.ToFloat64(reloginsTotal.WithLabelValues("renewed")))
	assert.Equal(t, float64(1), promtest.ToFloat64(syncsTotal.WithLabelValues("grades", "unchanged")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "edmm_syncs_total"))
}
