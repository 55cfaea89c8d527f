package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "schedbot/pkg/logx"
)

func newTestService(health HealthFunc) *Service {
	s := New(Config{}, health, logx.Nop())
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "schedbot_test_total", Help: "t"}).Inc()
	s.gather = reg
	return s
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestMetricsAndHealth(t *testing.T) {
	s := newTestService(func(context.Context) error { return nil })
	h := s.Handler(Config{})

	code, body := get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "schedbot_test_total 1")

	code, body = get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	s := newTestService(func(context.Context) error { return errors.New("store closed") })
	code, body := get(t, s.Handler(Config{}), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "store closed")
}

func TestTokenGuard(t *testing.T) {
	s := newTestService(nil)
	h := s.Handler(Config{Token: "s3cret", Pprof: true})

	code, _ := get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/metrics?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)
	code, body := get(t, h, "/debug/pprof/?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "goroutine"))
}

func TestServeLifecycle(t *testing.T) {
	s := newTestService(nil)
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Nil(t, s.Supervisor())
	assert.Empty(t, s.Addr())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := newTestService(nil)
	s.cfg = Config{Enabled: true, Addr: "0.0.0.0:0"}
	err := s.serveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure bind")
}
