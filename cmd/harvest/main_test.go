package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pagesim"
	"github.com/use-agent/harvest/runner"
)

func TestRootFlags(t *testing.T) {
	cfg := config.Load()
	gs := &globalState{ctx: context.Background(), cfg: cfg, stdOut: &bytes.Buffer{}, stdErr: &bytes.Buffer{}}
	cmd := newRootCmd(gs)

	require.NoError(t, cmd.PersistentFlags().Parse([]string{
		"--strategy", "dom",
		"--timeout-multiplier", "2.5",
		"--max-sessions", "8",
		"--log-format", "text",
	}))
	assert.Equal(t, "dom", cfg.Runner.Strategy)
	assert.Equal(t, 2.5, cfg.Runner.TimeoutMultiplier)
	assert.Equal(t, 8, cfg.Browser.MaxSessions)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestRunTests(t *testing.T) {
	const base = "http://web-platform.test:8000"

	page := pagesim.New()
	defer page.Close()
	page.Serve(base+"/pass.html", pagesim.Fixture{
		HTML:   `<html></html>`,
		Report: map[string]any{"test": "/pass.html", "status": 0, "tests": []any{}},
	})
	page.Serve(base+"/hang.html", pagesim.Fixture{HTML: `<html></html>`})

	var out bytes.Buffer
	cfg := config.Load()
	cfg.Runner.ExtraTimeout = 0
	cfg.Runner.PollInterval = 5 * time.Millisecond
	gs := &globalState{ctx: context.Background(), cfg: cfg, stdOut: &out, stdErr: &bytes.Buffer{}}

	err := runTests(context.Background(), gs, driver.NewSingle(page),
		[]string{base + "/pass.html", base + "/hang.html", base + "/gone.html"},
		runner.StrategyDirect, 20*time.Millisecond)
	require.EqualError(t, err, "1 of 3 tests produced no result")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var got []line
	for _, l := range lines {
		var v line
		require.NoError(t, json.Unmarshal([]byte(l), &v))
		got = append(got, v)
	}
	assert.Equal(t, models.HarnessOK, got[0].Result.Status)
	assert.Equal(t, models.HarnessTimeout, got[1].Result.Status)
	assert.Nil(t, got[2].Result)
	assert.Contains(t, got[2].Error, models.ErrCodeNavigation)
}

func TestRunReftest(t *testing.T) {
	const base = "http://web-platform.test:8000"

	page := pagesim.New()
	defer page.Close()
	page.Serve(base+"/green.html", pagesim.Fixture{HTML: `<html><body><p>green</p></body></html>`})
	page.Serve(base+"/green-ref.html", pagesim.Fixture{HTML: `<html><body><span>green</span></body></html>`})
	page.Serve(base+"/red-ref.html", pagesim.Fixture{HTML: `<html><body><span>red</span></body></html>`})

	cfg := config.Load()
	cfg.Runner.ExtraTimeout = 0
	cfg.Runner.PollInterval = 5 * time.Millisecond

	run := func(flags reftestFlags) (line, error) {
		var out bytes.Buffer
		gs := &globalState{ctx: context.Background(), cfg: cfg, stdOut: &out, stdErr: &bytes.Buffer{}}
		err := runReftest(context.Background(), gs, driver.NewSingle(page), base+"/green.html", flags)
		var l line
		if err == nil {
			require.NoError(t, json.Unmarshal(out.Bytes(), &l))
		}
		return l, err
	}

	l, err := run(reftestFlags{match: []string{base + "/red-ref.html", base + "/green-ref.html"}})
	require.NoError(t, err)
	assert.Equal(t, models.ReftestPass, l.Result.Status)

	l, err = run(reftestFlags{mismatch: []string{base + "/green-ref.html"}})
	require.NoError(t, err)
	assert.Equal(t, models.ReftestFail, l.Result.Status)

	_, err = run(reftestFlags{})
	assert.ErrorContains(t, err, models.ErrCodeInvalidInput)
}
