package extract

// DirectGlobalReader takes the published result off the page's global slot.
type DirectGlobalReader struct {
	// Slot is the global property name; empty means ResultsSlot.
	Slot string
}

func (r DirectGlobalReader) slot() string {
	if r.Slot == "" {
		return ResultsSlot
	}
	return r.Slot
}

// Read returns the payload and true, deleting the slot, or nil and false when
// nothing has been published. It never blocks.
func (r DirectGlobalReader) Read(scope GlobalScope) (Payload, bool) {
	return NewGlobalInbox(scope, r.slot()).Take()
}
