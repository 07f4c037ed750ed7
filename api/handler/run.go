package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/runner"
	"github.com/use-agent/harvest/webhook"
)

// TestRunner runs one test page. runner.Service implements it.
type TestRunner interface {
	Run(ctx context.Context, t runner.Test, strategy runner.Strategy) (*models.TestResult, error)
	RunRef(ctx context.Context, t runner.RefTest) (*models.TestResult, error)
}

// kindReftest is reported as the strategy of reftest runs.
const kindReftest = "reftest"

// Run returns a handler for POST /api/v1/run.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Serve from cache when max_age allows.
//  3. Run the test (records run_ms).
//  4. Cache results other than TIMEOUT and CRASH, notify the webhook,
//     respond.
//
// A request with references runs as a reftest; its strategy is ignored.
//
// cc and wh may be nil.
func Run(tr TestRunner, cc *cache.Cache, wh *webhook.Notifier, defaultStrategy string) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.RunResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		if req.Strategy == "" {
			req.Strategy = defaultStrategy
		}
		req.Defaults()

		var (
			kind string
			run  func(ctx context.Context) (*models.TestResult, error)
		)
		timeout := time.Duration(req.Timeout) * time.Second
		if len(req.References) > 0 {
			refs, err := toReferences(req.References)
			if err != nil {
				respondError(c, "", kindReftest, err, models.TimingInfo{})
				return
			}
			kind = kindReftest
			run = func(ctx context.Context) (*models.TestResult, error) {
				return tr.RunRef(ctx, runner.RefTest{URL: req.URL, Timeout: timeout, References: refs})
			}
		} else {
			strategy, err := runner.ParseStrategy(req.Strategy)
			if err != nil {
				respondError(c, "", req.Strategy, err, models.TimingInfo{})
				return
			}
			kind = string(strategy)
			run = func(ctx context.Context) (*models.TestResult, error) {
				return tr.Run(ctx, runner.Test{URL: req.URL, Timeout: timeout}, strategy)
			}
		}

		cacheKey := cache.Key(req.URL, kind+referencesKey(req.References))
		if cc != nil && req.MaxAge > 0 {
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{
					TotalMs: time.Since(totalStart).Milliseconds(),
				}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		id := uuid.NewString()
		runStart := time.Now()
		result, err := run(c.Request.Context())
		runMs := time.Since(runStart).Milliseconds()

		if err != nil {
			slog.Warn("run failed", "id", id, "url", req.URL, "error", err)
			resp := respondError(c, id, kind, err, models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
				RunMs:   runMs,
			})
			notify(wh, req.Webhook, webhook.EventRunFailed, resp)
			return
		}

		resp := &models.RunResponse{
			Success:  true,
			ID:       id,
			Strategy: kind,
			Result:   result,
			Timing: models.TimingInfo{
				TotalMs: time.Since(totalStart).Milliseconds(),
				RunMs:   runMs,
			},
		}

		if cc != nil && req.MaxAge > 0 && cacheable(result) {
			cc.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}

		notify(wh, req.Webhook, webhook.EventRunCompleted, resp)
		c.JSON(http.StatusOK, resp)
	}
}

func cacheable(res *models.TestResult) bool {
	return res.Status != models.HarnessTimeout && res.Status != models.HarnessCrash
}

func toReferences(in []models.Reference) ([]runner.Reference, error) {
	out := make([]runner.Reference, 0, len(in))
	for _, r := range in {
		rel, err := runner.ParseRelation(r.Relation)
		if err != nil {
			return nil, err
		}
		children, err := toReferences(r.References)
		if err != nil {
			return nil, err
		}
		out = append(out, runner.Reference{
			URL:        r.URL,
			Relation:   rel,
			Timeout:    time.Duration(r.Timeout) * time.Second,
			References: children,
		})
	}
	return out, nil
}

// referencesKey distinguishes cached reftests of one page by their
// references.
func referencesKey(refs []models.Reference) string {
	if len(refs) == 0 {
		return ""
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return ":" + string(b)
}

func notify(wh *webhook.Notifier, url, eventType string, resp *models.RunResponse) {
	if wh == nil || url == "" {
		return
	}
	wh.Notify(url, &webhook.Event{
		Type:      eventType,
		RunID:     resp.ID,
		Timestamp: time.Now().Unix(),
		Data:      resp,
	})
}

// respondError maps a HarvestError to the correct HTTP status code and
// writes a structured JSON error response, which it returns.
func respondError(c *gin.Context, id, strategy string, err error, timing models.TimingInfo) *models.RunResponse {
	var he *models.HarvestError
	if !errors.As(err, &he) {
		he = models.NewHarvestError(models.ErrCodeInternal, err.Error(), err)
	}

	resp := &models.RunResponse{
		Success:  false,
		ID:       id,
		Strategy: strategy,
		Error:    he.ToDetail(),
		Timing:   timing,
	}
	c.JSON(mapErrorToStatus(he), resp)
	return resp
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.HarvestError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeInvalidResult, models.ErrCodeMismatch:
		return http.StatusBadGateway // 502
	case models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
