//go:build !windows

package event

// New creates an in-process event; there are no OS event objects to hand to
// a driver off Windows.
func New(manualReset, initialState bool) (Event, error) {
	return NewLocal(manualReset, initialState), nil
}
