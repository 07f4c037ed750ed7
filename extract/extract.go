// Package extract reads testharness results out of a page under automation.
//
// Two strategies are provided. DirectGlobalReader consumes a result that the
// page published on a well-known global slot. CallbackPolledReader waits for
// the page's test framework to signal completion and then reads the text of a
// well-known DOM node. Both exist as Go values operating on the small page
// interfaces below and as JavaScript bodies for injection by a transport
// (see scripts.go).
package extract

const (
	// ResultsSlot is the global property a report script publishes to.
	ResultsSlot = "__results__"

	// ResultsNodeID is the id of the element holding the serialised report.
	ResultsNodeID = "__testharness__results__"
)

// Payload is an opaque result produced by the page.
type Payload = any

// GlobalScope is the page's global object.
type GlobalScope interface {
	// Lookup reports whether name is an own property and returns its value.
	Lookup(name string) (any, bool)
	Delete(name string)
}

// Document is the subset of the DOM the extractors need.
type Document interface {
	// TextContent returns the text of the element with the given id, or
	// false when no such element is attached.
	TextContent(id string) (string, bool)
}

// Harness is the page's test framework.
type Harness interface {
	// AddCompletionCallback registers fn to run once all tests finish.
	// Registrations cannot be withdrawn.
	AddCompletionCallback(fn func())
}

// Scheduler runs work on a later turn of the page's event loop.
type Scheduler interface {
	Defer(fn func())
}
