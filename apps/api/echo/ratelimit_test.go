package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestIPRateLimiter(t *testing.T) {
	now := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	limiterNow = func() time.Time { return now }
	defer func() { limiterNow = time.Now }()

	l := NewIPRateLimiter(rate.Limit(1), 2, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("192.0.2.1"))
	assert.True(t, l.Allow("192.0.2.1"))
	assert.False(t, l.Allow("192.0.2.1"))
	assert.True(t, l.Allow("192.0.2.2"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("192.0.2.1"), "refilled")

	now = now.Add(2 * time.Minute)
	l.Sweep()
	assert.Equal(t, 0, l.Len())
}

func TestIPRateLimiter_EvictsOldest(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Minute)
	defer l.Close()
	l.maxEntries = 2

	l.Allow("192.0.2.1")
	time.Sleep(time.Millisecond)
	l.Allow("192.0.2.2")
	time.Sleep(time.Millisecond)
	l.Allow("192.0.2.3")

	assert.Equal(t, 2, l.Len())
	_, ok := l.limiters["192.0.2.1"]
	assert.False(t, ok)
}

func TestIPExtractor(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		xff     string
		want    string
	}{
		{"no proxy trusted", nil, "203.0.113.9:5555", "198.51.100.7", "203.0.113.9"},
		{"trusted proxy", []string{"203.0.113.0/24"}, "203.0.113.9:5555", "198.51.100.7", "198.51.100.7"},
		{"trusted single ip", []string{"203.0.113.9"}, "203.0.113.9:5555", "198.51.100.7", "198.51.100.7"},
		{"untrusted proxy", []string{"10.0.0.0/8"}, "203.0.113.9:5555", "198.51.100.7", "203.0.113.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			e.IPExtractor = ipExtractor(tc.trusted)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set(echo.HeaderXForwardedFor, tc.xff)
			ctx := e.NewContext(req, httptest.NewRecorder())
			assert.Equal(t, tc.want, ctx.RealIP())
		})
	}
}
