// Package pagesim is an in-process stand-in for a browser tab running a
// testharness page.
//
// A Page owns a goja runtime driven by a single-threaded event loop. It
// exposes the little of the web platform that result extraction touches:
// window, document.getElementById/createElement/body.appendChild,
// document.readyState, document.documentElement.className, setTimeout and
// the harness's add_completion_callback. Screenshots render the visible
// text of the document. Pages are served
// from registered fixtures and finish when the driver (or the fixture's
// timer) completes the harness with a report.
//
// Page satisfies driver.Session, and Window satisfies the extract page
// interfaces, so both the injected scripts and the Go readers can run
// against it.
package pagesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/use-agent/harvest/extract"
	"github.com/ysmood/gson"
)

var (
	// ErrClosed is returned once the page has been closed.
	ErrClosed = errors.New("pagesim: page closed")

	// ErrNoDocument is returned when navigating to a URL with no fixture.
	ErrNoDocument = errors.New("pagesim: no document")
)

// Publish selects where the built-in report script writes the report.
type Publish uint8

const (
	// PublishSlot assigns the report to window.__results__.
	PublishSlot Publish = 1 << iota
	// PublishNode appends a <pre id="__testharness__results__"> holding
	// the report.
	PublishNode
	// PublishLast runs the report script after every other completion
	// callback instead of first.
	PublishLast
)

// Fixture is a document served at a URL.
type Fixture struct {
	HTML string

	// Report, when non-nil, completes the harness CompleteAfter after the
	// document loads. Strings are published verbatim; anything else is
	// JSON-encoded.
	Report        any
	CompleteAfter time.Duration
}

// Option configures a Page.
type Option func(*Page)

// WithPublish replaces the default PublishSlot|PublishNode.
func WithPublish(p Publish) Option {
	return func(page *Page) { page.publish = p }
}

type task struct {
	// gen is the document generation the task belongs to; 0 runs on any.
	gen uint64
	fn  func()
}

// Page is a simulated tab. Its exported methods are safe for concurrent use
// but must not be called from code running on the page's own loop.
type Page struct {
	publish Publish

	mu       sync.Mutex
	queue    []task
	fixtures map[string]Fixture

	wake   chan struct{}
	closed chan struct{}
	done   chan struct{}
	closer sync.Once

	// Owned by the loop goroutine.
	gen       uint64
	vm        *goja.Runtime
	document  *goja.Object
	root      *goja.Object
	url       string
	elements  []*Element
	drawn     []*Element
	painted   string
	callbacks []func()
	completed bool
	report    string
}

// New starts a page showing an empty document at about:blank.
func New(opts ...Option) *Page {
	p := &Page{
		publish:  PublishSlot | PublishNode,
		fixtures: make(map[string]Fixture),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reset("about:blank")
	go p.run()
	return p
}

// Serve registers the document returned for url.
func (p *Page) Serve(url string, f Fixture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixtures[url] = f
}

// Do runs fn on the page's loop and waits for it. The Window passed to fn
// must not escape it except through callbacks the page itself invokes.
func (p *Page) Do(ctx context.Context, fn func(w *Window) error) error {
	errc := make(chan error, 1)
	if !p.post(0, func() { errc <- fn(&Window{p: p}) }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// Navigate replaces the current document with the fixture served at url.
// Callbacks and timers of the previous document never run afterwards.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	f, ok := p.fixtures[url]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w at %s", ErrNoDocument, url)
	}

	var report string
	if f.Report != nil {
		var err error
		if report, err = marshalReport(f.Report); err != nil {
			return err
		}
	}

	return p.Do(ctx, func(*Window) error {
		p.reset(url)
		if err := p.loadHTML(f.HTML); err != nil {
			return err
		}
		if f.Report != nil {
			p.after(f.CompleteAfter, func() { p.complete(report) })
		}
		return nil
	})
}

// Complete finishes the harness with report: completion callbacks run in
// registration order, and the built-in report script publishes the report.
// Completing twice has no effect.
func (p *Page) Complete(ctx context.Context, report any) error {
	text, err := marshalReport(report)
	if err != nil {
		return err
	}
	return p.Do(ctx, func(*Window) error {
		p.complete(text)
		return nil
	})
}

// ExecuteScript runs body as a function with args and returns its result.
func (p *Page) ExecuteScript(ctx context.Context, body string, args ...any) (gson.JSON, error) {
	result := make(chan gson.JSON, 1)
	err := p.Do(ctx, func(*Window) error {
		v, err := p.call(body, args)
		if err != nil {
			return err
		}
		result <- export(v)
		return nil
	})
	if err != nil {
		return gson.JSON{}, err
	}
	return <-result, nil
}

// Screenshot returns the current rendering of the document. Documents with
// the same visible text give the same bytes.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	result := make(chan []byte, 1)
	err := p.Do(ctx, func(*Window) error {
		result <- p.render()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return <-result, nil
}

// ExecuteAsyncScript runs body with a resolve callback appended to args and
// waits for the first value passed to it.
func (p *Page) ExecuteAsyncScript(ctx context.Context, body string, args ...any) (gson.JSON, error) {
	result := make(chan gson.JSON, 1)
	var once sync.Once
	resolve := func(call goja.FunctionCall) goja.Value {
		v := export(call.Argument(0))
		once.Do(func() { result <- v })
		return goja.Undefined()
	}

	err := p.Do(ctx, func(*Window) error {
		withResolve := append(append([]any{}, args...), resolve)
		_, err := p.call(body, withResolve)
		return err
	})
	if err != nil {
		return gson.JSON{}, err
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return gson.JSON{}, ctx.Err()
	case <-p.done:
		return gson.JSON{}, ErrClosed
	}
}

// Close stops the loop. Pending tasks and timers are dropped.
func (p *Page) Close() error {
	p.closer.Do(func() { close(p.closed) })
	<-p.done
	return nil
}

func (p *Page) run() {
	defer close(p.done)
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		t, ok := p.next()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-p.closed:
				return
			}
		}
		if t.gen != 0 && t.gen != p.gen {
			continue
		}
		p.safely(t.fn)
	}
}

func (p *Page) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return task{}, false
	}
	t := p.queue[0]
	p.queue[0] = task{}
	p.queue = p.queue[1:]
	return t, true
}

// post queues fn for a later turn. It never blocks.
func (p *Page) post(gen uint64, fn func()) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	p.mu.Lock()
	p.queue = append(p.queue, task{gen: gen, fn: fn})
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// after queues fn for the current document once delay has passed.
// Loop only.
func (p *Page) after(delay time.Duration, fn func()) {
	gen := p.gen
	if delay <= 0 {
		p.post(gen, fn)
		return
	}
	time.AfterFunc(delay, func() { p.post(gen, fn) })
}

func (p *Page) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pagesim: task panicked", "url", p.url, "panic", r)
		}
	}()
	fn()
}

// reset installs a fresh document. Loop only (or before the loop starts).
func (p *Page) reset(url string) {
	p.gen++
	p.url = url
	p.elements = nil
	p.drawn = nil
	p.painted = ""
	p.callbacks = nil
	p.completed = false
	p.report = ""
	p.vm = p.newRuntime()
	if p.publish&PublishLast == 0 {
		p.callbacks = append(p.callbacks, p.publishReport)
	}
}

func (p *Page) complete(report string) {
	if p.completed {
		return
	}
	p.completed = true
	p.report = report

	callbacks := p.callbacks
	if p.publish&PublishLast != 0 {
		callbacks = append(callbacks[:len(callbacks):len(callbacks)], p.publishReport)
	}
	for _, fn := range callbacks {
		p.safely(fn)
	}
}

func (p *Page) publishReport() {
	if p.publish&PublishSlot != 0 {
		if err := p.vm.GlobalObject().Set(extract.ResultsSlot, p.report); err != nil {
			slog.Warn("pagesim: publish to slot failed", "error", err)
		}
	}
	if p.publish&PublishNode != 0 {
		p.attach(&Element{
			ID:          extract.ResultsNodeID,
			TagName:     "PRE",
			TextContent: p.report,
		})
	}
}

// addCompletionCallback drops registrations made after completion, as the
// harness does.
func (p *Page) addCompletionCallback(fn func()) {
	if p.completed {
		return
	}
	p.callbacks = append(p.callbacks, fn)
}

func (p *Page) call(body string, args []any) (goja.Value, error) {
	fnVal, err := p.vm.RunString("(function() {\n" + body + "\n})")
	if err != nil {
		return nil, fmt.Errorf("pagesim: compile script: %w", err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, errors.New("pagesim: script is not a function")
	}
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = p.vm.ToValue(a)
	}
	return fn(goja.Undefined(), vals...)
}

func export(v goja.Value) gson.JSON {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return gson.New(nil)
	}
	return gson.New(v.Export())
}

func marshalReport(report any) (string, error) {
	if s, ok := report.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("pagesim: encode report: %w", err)
	}
	return string(b), nil
}
