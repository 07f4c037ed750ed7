// Package driver is the automation transport the runner talks to: it loads
// pages and evaluates injected scripts in them.
package driver

import (
	"context"
	"sync"

	"github.com/ysmood/gson"
)

// Session is one controllable page.
//
// Script arguments follow the WebDriver execute-script convention: body is a
// function body that may `return` and reads its inputs from `arguments`.
type Session interface {
	// Navigate loads url and waits for the document to load.
	Navigate(ctx context.Context, url string) error

	// ExecuteScript runs body synchronously and returns its return value.
	ExecuteScript(ctx context.Context, body string, args ...any) (gson.JSON, error)

	// ExecuteAsyncScript runs body with a callback appended to its
	// arguments and returns the value the callback is invoked with. It
	// blocks until then or until ctx is done.
	ExecuteAsyncScript(ctx context.Context, body string, args ...any) (gson.JSON, error)

	// Screenshot returns an image of what the page currently shows.
	// Equal renderings give equal bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	Close() error
}

// Source hands out sessions for exclusive use.
type Source interface {
	Acquire(ctx context.Context) (Session, error)

	// Release gives s back. runErr is the outcome of what ran in it, so
	// the source can retire sessions that keep failing.
	Release(s Session, runErr error)

	Stats() (limit, active int)
}

// Single is a Source wrapping one session; callers take turns.
type Single struct {
	session Session
	sem     chan struct{}
}

// NewSingle returns a Source that serialises access to s.
func NewSingle(s Session) *Single {
	return &Single{session: s, sem: make(chan struct{}, 1)}
}

func (s *Single) Acquire(ctx context.Context) (Session, error) {
	select {
	case s.sem <- struct{}{}:
		return s.session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Single) Release(Session, error) {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Single) Stats() (limit, active int) {
	return 1, len(s.sem)
}

// closeOnce guards Close methods that may be reached twice.
type closeOnce struct {
	once sync.Once
	err  error
}

func (c *closeOnce) do(fn func() error) error {
	c.once.Do(func() { c.err = fn() })
	return c.err
}
