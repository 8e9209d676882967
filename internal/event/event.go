// Package event provides the completion signals the encoder backend raises
// when an asynchronous encode finishes writing a bitstream buffer.
package event

import "sync"

// Event is a resettable completion signal. Wait blocks without a timeout.
type Event interface {
	Set() error
	Reset() error
	Wait() error
	// Handle returns the OS handle registered with the backend, or 0 for
	// in-process events.
	Handle() uintptr
	Close() error
}

// local is an in-process event built on a condition variable.
type local struct {
	mu          sync.Mutex
	cond        *sync.Cond
	signaled    bool
	manualReset bool
}

// NewLocal creates an in-process event with Win32 event semantics: a
// manual-reset event stays signaled until Reset, an auto-reset event
// releases a single waiter.
func NewLocal(manualReset, initialState bool) Event {
	e := &local{signaled: initialState, manualReset: manualReset}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *local) Set() error {
	e.mu.Lock()
	e.signaled = true
	e.mu.Unlock()
	e.cond.Broadcast()
	return nil
}

func (e *local) Reset() error {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
	return nil
}

func (e *local) Wait() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.signaled {
		e.cond.Wait()
	}
	if !e.manualReset {
		e.signaled = false
	}
	return nil
}

func (e *local) Handle() uintptr { return 0 }

func (e *local) Close() error { return nil }
