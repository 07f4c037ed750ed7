package models

// RunRequest is the payload for POST /api/v1/run.
type RunRequest struct {
	// URL is the test page to load. Required.
	URL string `json:"url" binding:"required,url"`

	// Strategy selects how results are read from the page.
	// Allowed: "callback" (default), "direct", "dom".
	Strategy string `json:"strategy,omitempty" binding:"omitempty,oneof=callback direct dom"`

	// Timeout is the test's own timeout in seconds, before the configured
	// multiplier and extra time are applied. Default: the server's
	// HARVEST_TEST_TIMEOUT. Max: 300.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=300"`

	// MaxAge enables the result cache: a cached result younger than
	// MaxAge milliseconds is returned without running the test.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`

	// Webhook receives a run.completed or run.failed event once the run
	// ends.
	Webhook string `json:"webhook,omitempty" binding:"omitempty,url"`

	// References turns the run into a reftest: URL is rendered and
	// compared against these pages instead of reading a harness report.
	// Strategy is ignored.
	References []Reference `json:"references,omitempty" binding:"omitempty,dive"`
}

// Reference is a page a reftest is compared against.
type Reference struct {
	URL string `json:"url" binding:"required,url"`

	// Relation is "==" when the renderings must match and "!=" when they
	// must differ.
	Relation string `json:"relation" binding:"required"`

	// Timeout in seconds; 0 uses the configured default.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=300"`

	// References of a reference are checked only when it passes.
	References []Reference `json:"references,omitempty" binding:"omitempty,dive"`
}

// Defaults applies default values to unset fields.
func (r *RunRequest) Defaults() {
	if r.Strategy == "" {
		r.Strategy = "callback"
	}
}
