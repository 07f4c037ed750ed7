package extract

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the progress of a single callback extraction.
type State int32

const (
	// StateIdle is the state before Read inspects the page.
	StateIdle State = iota
	// StateAwaitingSignal means a completion callback is registered and
	// has not fired yet.
	StateAwaitingSignal
	// StateSettling means the completion signal fired and the read is
	// deferred by one turn so other completion observers can finish.
	StateSettling
	// StateResolved means the continuation has been invoked.
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSignal:
		return "awaiting-signal"
	case StateSettling:
		return "settling"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// CallbackPolledReader reads the results node once the page's harness has
// finished.
type CallbackPolledReader struct {
	// NodeID is the id of the results element; empty means ResultsNodeID.
	NodeID string
}

func (r CallbackPolledReader) nodeID() string {
	if r.NodeID == "" {
		return ResultsNodeID
	}
	return r.NodeID
}

// Read starts an extraction and returns its handle.
//
// If the node already exists cont runs before Read returns. Otherwise a
// completion callback is registered; when it fires the read is deferred one
// turn through sched and cont runs with the node text at that time. cont runs
// at most once. Nothing bounds the wait: if the signal never fires, or the
// node is still missing after settling, the extraction never resolves and
// the caller must apply its own timeout.
//
// Read and the callbacks it registers must run on the page's event loop.
func (r CallbackPolledReader) Read(doc Document, h Harness, sched Scheduler, cont func(string)) *Extraction {
	x := &Extraction{done: make(chan struct{}), cont: cont}
	id := r.nodeID()

	if text, ok := doc.TextContent(id); ok {
		x.resolve(text)
		return x
	}

	x.state.Store(int32(StateAwaitingSignal))
	h.AddCompletionCallback(func() {
		if !x.state.CompareAndSwap(int32(StateAwaitingSignal), int32(StateSettling)) {
			return
		}
		sched.Defer(func() {
			if text, ok := doc.TextContent(id); ok {
				x.resolve(text)
			}
		})
	})
	return x
}

// Extraction is the handle of one CallbackPolledReader.Read call. Its
// accessors are safe to use from any goroutine.
type Extraction struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	text  string
	cont  func(string)
}

func (x *Extraction) resolve(text string) {
	x.once.Do(func() {
		x.text = text
		x.state.Store(int32(StateResolved))
		if x.cont != nil {
			x.cont(text)
		}
		close(x.done)
	})
}

// State returns the current state.
func (x *Extraction) State() State {
	return State(x.state.Load())
}

// Done is closed after the continuation has run.
func (x *Extraction) Done() <-chan struct{} {
	return x.done
}

// Text returns the resolved text, or false while unresolved.
func (x *Extraction) Text() (string, bool) {
	select {
	case <-x.done:
		return x.text, true
	default:
		return "", false
	}
}

// Wait blocks until the extraction resolves or ctx is done.
func (x *Extraction) Wait(ctx context.Context) (string, error) {
	select {
	case <-x.done:
		return x.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
