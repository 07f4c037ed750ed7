package runner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

const kindReftest = "reftest"

// Relation is how a reference's rendering must compare to the test's.
type Relation string

const (
	RelationMatch    Relation = "=="
	RelationMismatch Relation = "!="
)

// ParseRelation validates a relation.
func ParseRelation(s string) (Relation, error) {
	switch Relation(s) {
	case RelationMatch, RelationMismatch:
		return Relation(s), nil
	}
	return "", models.NewHarvestError(models.ErrCodeInvalidInput,
		fmt.Sprintf("unknown reference relation %q", s), nil)
}

func (rel Relation) holds(lhs, rhs string) bool {
	return (lhs == rhs) == (rel == RelationMatch)
}

// Reference is a page a reftest is compared against. Its own References are
// only checked when it passes; the test passes once a passing reference
// without References is reached.
type Reference struct {
	URL        string
	Relation   Relation
	Timeout    time.Duration
	References []Reference
}

// RefTest compares the rendering of URL with its references.
type RefTest struct {
	URL        string
	Timeout    time.Duration
	References []Reference
}

func validateReferences(refs []Reference) error {
	for _, ref := range refs {
		if _, err := ParseRelation(string(ref.Relation)); err != nil {
			return err
		}
		if err := validateReferences(ref.References); err != nil {
			return err
		}
	}
	return nil
}

// RunRef renders t and its references and compares them, walking the
// reference tree depth first. Renderings are identified by the SHA-1 of
// their screenshot, looked up in hashes before loading a page.
//
// A page that does not settle before its deadline makes the whole test a
// TIMEOUT result; a session failure makes it a CRASH result.
func (r *Runner) RunRef(ctx context.Context, t RefTest, hashes *cache.Hashes) (*models.TestResult, error) {
	if len(t.References) == 0 {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "reftest has no references", nil)
	}
	if err := validateReferences(t.References); err != nil {
		return nil, err
	}
	test := StripServer(t.URL)

	lhs, res, err := r.hash(ctx, t.URL, t.Timeout, hashes)
	if res != nil || err != nil {
		return named(res, test), err
	}

	stack := slices.Clone(t.References)
	slices.Reverse(stack)

	var failed Reference
	var failedHash string
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rhs, res, err := r.hash(ctx, ref.URL, ref.Timeout, hashes)
		if res != nil || err != nil {
			return named(res, test), err
		}

		slog.Debug("comparing renderings",
			"test", t.URL,
			"reference", ref.URL,
			"relation", ref.Relation,
			"lhs", lhs,
			"rhs", rhs,
		)
		if !ref.Relation.holds(lhs, rhs) {
			failed, failedHash = ref, rhs
			continue
		}
		if len(ref.References) == 0 {
			slog.Info("reftest finished", "url", t.URL, "status", models.ReftestPass)
			return &models.TestResult{Test: test, Status: models.ReftestPass, Subtests: []models.SubtestResult{}}, nil
		}
		children := slices.Clone(ref.References)
		slices.Reverse(children)
		stack = append(stack, children...)
	}

	slog.Info("reftest finished", "url", t.URL, "status", models.ReftestFail)
	return &models.TestResult{
		Test:     test,
		Status:   models.ReftestFail,
		Message:  fmt.Sprintf("%s %s %s", test, failed.Relation, StripServer(failed.URL)),
		Subtests: []models.SubtestResult{},
		Screenshots: []models.ReftestScreenshot{
			{URL: test, Hash: lhs},
			{URL: StripServer(failed.URL), Hash: failedHash},
		},
	}, nil
}

// named reports a reference's TIMEOUT or CRASH result under the test's name.
func named(res *models.TestResult, test string) *models.TestResult {
	if res != nil {
		res.Test = test
	}
	return res
}

// hash returns the rendering hash of url, taking a screenshot on a miss.
// A non-nil result means the page timed out or the session failed.
func (r *Runner) hash(ctx context.Context, url string, timeout time.Duration, hashes *cache.Hashes) (string, *models.TestResult, error) {
	if h, ok := hashes.Get(url); ok {
		return h, nil, nil
	}

	img, res, err := r.screenshot(ctx, url, timeout)
	if res != nil || err != nil {
		return "", res, err
	}
	sum := sha1.Sum(img)
	h := hex.EncodeToString(sum[:])
	hashes.Set(url, h)
	return h, nil, nil
}

// screenshot loads url, waits for it to settle and captures it.
func (r *Runner) screenshot(ctx context.Context, url string, timeout time.Duration) ([]byte, *models.TestResult, error) {
	test := StripServer(url)
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Deadline(timeout))
	defer cancel()

	if err := r.session.Navigate(runCtx, url); err != nil {
		if timedOut(ctx, runCtx) {
			res, _ := r.timeout(url, test, kindReftest)
			return nil, res, nil
		}
		return nil, nil, categorizeError(err, "failed to load reftest page")
	}

	fail := func(err error) ([]byte, *models.TestResult, error) {
		if timedOut(ctx, runCtx) {
			res, _ := r.timeout(url, test, kindReftest)
			return nil, res, nil
		}
		if ctx.Err() != nil {
			return nil, nil, categorizeError(ctx.Err(), "run canceled")
		}
		slog.Warn("session failed mid-run", "url", url, "kind", kindReftest, "error", err)
		return nil, models.CrashResult(test, err.Error()), nil
	}

	if _, err := r.poll(runCtx, truthy, extract.ReftestWaitScript); err != nil {
		return fail(err)
	}
	img, err := r.session.Screenshot(runCtx)
	if err != nil {
		return fail(err)
	}
	return img, nil, nil
}
