// Package runner loads testharness pages in a session and turns the report
// they publish into a models.TestResult.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

// Strategy selects how the report is read from the page.
type Strategy string

const (
	// StrategyCallback waits for the harness completion signal, lets the
	// other completion callbacks run, then reads the results node.
	StrategyCallback Strategy = "callback"

	// StrategyDirect polls the window.__results__ slot, consuming it.
	StrategyDirect Strategy = "direct"

	// StrategyDOM polls the text of the results node.
	StrategyDOM Strategy = "dom"
)

// ParseStrategy validates a strategy name. The empty string selects
// StrategyCallback.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyCallback:
		return StrategyCallback, nil
	case StrategyDirect, StrategyDOM:
		return Strategy(s), nil
	}
	return "", models.NewHarvestError(models.ErrCodeInvalidInput,
		fmt.Sprintf("unknown strategy %q", s), nil)
}

// Test is one page to run.
type Test struct {
	URL string

	// Timeout is the test's own timeout. Zero means the configured default.
	Timeout time.Duration
}

// Runner runs tests one at a time in a single session.
type Runner struct {
	session driver.Session
	cfg     config.RunnerConfig
}

// New creates a Runner driving session.
func New(session driver.Session, cfg config.RunnerConfig) *Runner {
	return &Runner{session: session, cfg: cfg}
}

// Run loads t and waits for its report.
//
// When the deadline derived from t.Timeout passes first, Run returns a
// TIMEOUT result and no error. When the session fails while waiting for the
// report, Run returns a CRASH result and no error. Cancelling ctx itself is
// an error.
func (r *Runner) Run(ctx context.Context, t Test, strategy Strategy) (*models.TestResult, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, err
	}
	test := StripServer(t.URL)
	deadline := r.cfg.Deadline(t.Timeout)

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	slog.Debug("running test", "url", t.URL, "strategy", strategy, "deadline", deadline)

	if err := r.session.Navigate(runCtx, t.URL); err != nil {
		if timedOut(ctx, runCtx) {
			return r.timeout(t.URL, test, string(strategy))
		}
		return nil, categorizeError(err, "failed to load test page")
	}

	raw, err := r.extract(runCtx, strategy)
	if err != nil {
		if timedOut(ctx, runCtx) {
			return r.timeout(t.URL, test, string(strategy))
		}
		if ctx.Err() != nil {
			return nil, categorizeError(ctx.Err(), "run canceled")
		}
		slog.Warn("session failed mid-run", "url", t.URL, "strategy", strategy, "error", err)
		return models.CrashResult(test, err.Error()), nil
	}

	report, err := decodeReport(raw)
	if err != nil {
		return nil, err
	}
	report.Test = StripServer(report.Test)

	result, err := models.Convert(test, report)
	if err != nil {
		return nil, err
	}
	slog.Info("test finished", "url", t.URL, "status", result.Status, "subtests", len(result.Subtests))
	return result, nil
}

func (r *Runner) timeout(rawURL, test, kind string) (*models.TestResult, error) {
	slog.Warn("test timed out", "url", rawURL, "kind", kind)
	return models.TimeoutResult(test), nil
}

func (r *Runner) extract(ctx context.Context, strategy Strategy) (gson.JSON, error) {
	switch strategy {
	case StrategyDirect:
		return r.poll(ctx, published, extract.DirectGlobalScript)
	case StrategyDOM:
		return r.poll(ctx, published, extract.NodeTextScript, extract.ResultsNodeID)
	default:
		return r.session.ExecuteAsyncScript(ctx, extract.CallbackPolledScript)
	}
}

func published(v gson.JSON) bool { return !v.Nil() }

func truthy(v gson.JSON) bool { return v.Bool() }

// poll runs script until done accepts what it returns.
func (r *Runner) poll(ctx context.Context, done func(gson.JSON) bool, script string, args ...any) (gson.JSON, error) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := r.session.ExecuteScript(ctx, script, args...)
		if err != nil {
			return gson.JSON{}, err
		}
		if done(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return gson.JSON{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// decodeReport accepts the report either as JSON text or as the object
// itself.
func decodeReport(v gson.JSON) (*models.HarnessReport, error) {
	var data []byte
	if s, ok := v.Val().(string); ok {
		data = []byte(s)
	} else {
		b, err := json.Marshal(v.Val())
		if err != nil {
			return nil, models.NewHarvestError(models.ErrCodeInvalidResult, "unreadable report", err)
		}
		data = b
	}

	var report models.HarnessReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidResult, "report is not valid JSON", err)
	}
	return &report, nil
}

// StripServer reduces an absolute URL to its path, query and fragment, so
// the same test compares equal whichever host served it. Anything that does
// not parse as a URL is returned unchanged.
func StripServer(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme == "" && u.Host == "") {
		return raw
	}
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		out += "#" + u.EscapedFragment()
	}
	return out
}

func timedOut(parent, run context.Context) bool {
	return parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded)
}

func categorizeError(err error, msg string) *models.HarvestError {
	var he *models.HarvestError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewHarvestError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}
