package runner

import (
	"context"
	"errors"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/driver"
	"github.com/use-agent/harvest/models"
	"golang.org/x/sync/errgroup"
)

// Service runs tests on sessions borrowed from a driver.Source. It is safe
// for concurrent use.
type Service struct {
	src    driver.Source
	cfg    config.RunnerConfig
	hashes *cache.Hashes
}

// NewService creates a Service.
func NewService(src driver.Source, cfg config.RunnerConfig) *Service {
	return &Service{src: src, cfg: cfg, hashes: cache.NewHashes(hashEntries)}
}

const hashEntries = 4096

// Run borrows a session, runs t in it and gives the session back.
func (s *Service) Run(ctx context.Context, t Test, strategy Strategy) (res *models.TestResult, err error) {
	sess, err := s.src.Acquire(ctx)
	if err != nil {
		return nil, categorizeError(err, "no session available")
	}
	defer func() { s.src.Release(sess, runErr(res, err)) }()

	return New(sess, s.cfg).Run(ctx, t, strategy)
}

// RunRef borrows a session and runs the reftest t in it. Rendering hashes
// are shared by every reftest the Service runs.
func (s *Service) RunRef(ctx context.Context, t RefTest) (res *models.TestResult, err error) {
	sess, err := s.src.Acquire(ctx)
	if err != nil {
		return nil, categorizeError(err, "no session available")
	}
	defer func() { s.src.Release(sess, runErr(res, err)) }()

	return New(sess, s.cfg).RunRef(ctx, t, s.hashes)
}

// runErr is what the source learns about a run: a CRASH result counts as
// a failure of the session.
func runErr(res *models.TestResult, err error) error {
	if err == nil && res != nil && res.Status == models.HarnessCrash {
		return errors.New(res.Message)
	}
	return err
}

// Outcome is the result of one test of a RunAll batch.
type Outcome struct {
	Test   Test
	Result *models.TestResult
	Err    error
}

// RunAll runs tests with at most as many in flight as the source has
// sessions. Outcomes are in the order of tests; a failing test does not
// stop the others.
func (s *Service) RunAll(ctx context.Context, tests []Test, strategy Strategy) []Outcome {
	out := make([]Outcome, len(tests))

	limit, _ := s.src.Stats()
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, t := range tests {
		g.Go(func() error {
			res, err := s.Run(ctx, t, strategy)
			out[i] = Outcome{Test: t, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Stats reports session usage.
func (s *Service) Stats() models.PoolStats {
	limit, active := s.src.Stats()
	return models.PoolStats{MaxSessions: limit, ActiveSessions: active}
}
