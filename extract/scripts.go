package extract

import (
	_ "embed"
)

// The scripts below are function bodies in the WebDriver execute-script
// convention: they may use `return` and read their inputs from `arguments`.
var (
	// DirectGlobalScript returns window.__results__ and deletes it, or null
	// when nothing was published.
	//go:embed js/direct_global.js
	DirectGlobalScript string

	// CallbackPolledScript is an async script. It resolves its last argument
	// with the text of the results node, waiting for the completion signal
	// and one more turn if the node is not there yet.
	//go:embed js/callback_polled.js
	CallbackPolledScript string

	// NodeTextScript returns the textContent of the element whose id is
	// arguments[0], or null.
	//go:embed js/node_text.js
	NodeTextScript string

	// ReftestWaitScript returns true once the document has loaded and its
	// root element no longer carries the reftest-wait class.
	//go:embed js/reftest_wait.js
	ReftestWaitScript string
)
