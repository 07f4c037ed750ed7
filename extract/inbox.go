package extract

// Inbox is a single-use channel from the page to the driver: a value can be
// taken at most once.
type Inbox interface {
	Take() (Payload, bool)
}

// GlobalInbox is an Inbox backed by a named property of a GlobalScope.
// Taking the value removes the property so later takes see nothing.
type GlobalInbox struct {
	scope GlobalScope
	name  string
}

// NewGlobalInbox returns an inbox reading the property name of scope.
func NewGlobalInbox(scope GlobalScope, name string) *GlobalInbox {
	return &GlobalInbox{scope: scope, name: name}
}

// Take returns the current value and clears the property. When the property
// is absent it returns false and leaves the scope untouched.
func (b *GlobalInbox) Take() (Payload, bool) {
	v, ok := b.scope.Lookup(b.name)
	if !ok {
		return nil, false
	}
	b.scope.Delete(b.name)
	return v, true
}
