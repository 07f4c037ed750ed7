package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pagesim"
	"github.com/use-agent/harvest/runner"
	"github.com/use-agent/harvest/webhook"
)

const testURL = "http://web-platform.test:8000/html/semantics/forms/a.html"

type fixture struct {
	router  *gin.Engine
	page    *pagesim.Page
	cache   *cache.Cache
	webhook *webhook.Notifier
}

func setup(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Load()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.Enabled = false
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}
	cfg.Runner.ExtraTimeout = 0
	cfg.Runner.PollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	page := pagesim.New()
	cc := cache.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		cc.Close()
		_ = page.Close()
	})

	page.Serve(testURL, pagesim.Fixture{
		HTML: `<html></html>`,
		Report: map[string]any{
			"test":   testURL,
			"status": 0,
			"tests":  []any{map[string]any{"name": "form submits", "status": 0}},
		},
	})

	wh := webhook.NewNotifier(cfg.Webhook.Secret)
	svc := runner.NewService(driver.NewSingle(page), cfg.Runner)
	return &fixture{
		router:  NewRouter(ctx, svc, cfg, cc, wh, time.Now()),
		page:    page,
		cache:   cc,
		webhook: wh,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, models.RunResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp models.RunResponse
	if method == http.MethodPost {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	f := setup(t, nil)
	w, _ := f.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, models.PoolStats{MaxSessions: 1}, health.PoolStats)
	assert.NotEmpty(t, health.Version)
}

func TestRun_Success(t *testing.T) {
	f := setup(t, nil)
	for _, strategy := range []string{"", "callback", "direct", "dom"} {
		w, resp := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL, "strategy": strategy}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.ID)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "/html/semantics/forms/a.html", resp.Result.Test)
		assert.Equal(t, models.HarnessOK, resp.Result.Status)
		require.Len(t, resp.Result.Subtests, 1)
		assert.Equal(t, models.SubtestPass, resp.Result.Subtests[0].Status)
		assert.Empty(t, resp.CacheStatus)
	}
}

func TestRun_Timeout(t *testing.T) {
	f := setup(t, func(cfg *config.Config) { cfg.Runner.TimeoutMultiplier = 0.01 })
	f.page.Serve(testURL, pagesim.Fixture{HTML: `<html></html>`})

	w, resp := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL, "timeout": 1, "max_age": 60000}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, models.HarnessTimeout, resp.Result.Status)
	assert.Zero(t, f.cache.Len(), "timeouts are not cached")
}

func TestRun_DefaultTimeoutFromConfig(t *testing.T) {
	f := setup(t, func(cfg *config.Config) { cfg.Runner.DefaultTestTimeout = 30 * time.Millisecond })
	f.page.Serve(testURL, pagesim.Fixture{HTML: `<html></html>`})

	start := time.Now()
	w, resp := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.HarnessTimeout, resp.Result.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_Reftest(t *testing.T) {
	const (
		refURL   = "http://web-platform.test:8000/html/semantics/forms/a-ref.html"
		otherURL = "http://web-platform.test:8000/html/semantics/forms/a-notref.html"
	)
	f := setup(t, nil)
	f.page.Serve(testURL, pagesim.Fixture{HTML: `<html><body><input value="x"> submitted</body></html>`})
	f.page.Serve(refURL, pagesim.Fixture{HTML: `<html><body><p>submitted</p></body></html>`})
	f.page.Serve(otherURL, pagesim.Fixture{HTML: `<html><body><p>pending</p></body></html>`})

	body := map[string]any{
		"url":     testURL,
		"max_age": 60000,
		"references": []any{
			map[string]any{"url": refURL, "relation": "==", "references": []any{
				map[string]any{"url": otherURL, "relation": "!="},
			}},
		},
	}
	w, resp := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "reftest", resp.Strategy)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "/html/semantics/forms/a.html", resp.Result.Test)
	assert.Equal(t, models.ReftestPass, resp.Result.Status)
	assert.Equal(t, "miss", resp.CacheStatus)

	_, resp = f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, "hit", resp.CacheStatus)

	body["references"] = []any{map[string]any{"url": refURL, "relation": "!="}}
	_, resp = f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, "miss", resp.CacheStatus, "other references are cached apart")
	assert.Equal(t, models.ReftestFail, resp.Result.Status)
	assert.Len(t, resp.Result.Screenshots, 2)

	body["references"] = []any{map[string]any{"url": refURL, "relation": "<>"}}
	w, resp = f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrCodeInvalidInput, resp.Error.Code)
}

func TestRun_Cache(t *testing.T) {
	f := setup(t, nil)
	body := map[string]any{"url": testURL, "max_age": 60000}

	_, first := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, "miss", first.CacheStatus)

	_, second := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, "hit", second.CacheStatus)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Result, second.Result)

	_, direct := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL, "max_age": 60000, "strategy": "direct"}, nil)
	assert.Equal(t, "miss", direct.CacheStatus, "strategy is part of the key")
}

func TestRun_Errors(t *testing.T) {
	f := setup(t, nil)
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing url", map[string]any{}, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"bad url", map[string]any{"url": "not a url"}, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"bad strategy", map[string]any{"url": testURL, "strategy": "marionette"}, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"timeout too large", map[string]any{"url": testURL, "timeout": 301}, http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"no document", map[string]any{"url": "http://web-platform.test:8000/missing.html"}, http.StatusBadGateway, models.ErrCodeNavigation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodPost, "/api/v1/run", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestRun_ReportMismatch(t *testing.T) {
	f := setup(t, nil)
	f.page.Serve(testURL, pagesim.Fixture{
		HTML:   `<html></html>`,
		Report: map[string]any{"test": "/other.html", "status": 0, "tests": []any{}},
	})

	w, resp := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, models.ErrCodeMismatch, resp.Error.Code)
	assert.NotEmpty(t, resp.ID)
}

func TestRun_Auth(t *testing.T) {
	f := setup(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKeys = []string{"secret"}
	})
	body := map[string]any{"url": testURL}

	w, resp := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, resp.Error.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/run", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/run", body, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code, "health needs no key")
}

func TestRun_RateLimited(t *testing.T) {
	f := setup(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})
	body := map[string]any{"url": testURL}

	w, _ := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/v1/run", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.ErrCodeRateLimited, resp.Error.Code)
}

func TestRun_Webhook(t *testing.T) {
	f := setup(t, func(cfg *config.Config) { cfg.Webhook.Secret = "hook" })

	events := make(chan webhook.Event, 2)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		assert.NotEmpty(t, r.Header.Get(webhook.SignatureHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		events <- ev
	}))
	defer hook.Close()

	_, ok := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{"url": testURL, "webhook": hook.URL}, nil)
	_, failed := f.do(t, http.MethodPost, "/api/v1/run", map[string]any{
		"url":     "http://web-platform.test:8000/missing.html",
		"webhook": hook.URL,
	}, nil)
	f.webhook.Wait()
	close(events)

	got := map[string]string{}
	for ev := range events {
		got[ev.RunID] = ev.Type
	}
	assert.Equal(t, map[string]string{
		ok.ID:     webhook.EventRunCompleted,
		failed.ID: webhook.EventRunFailed,
	}, got)
}
