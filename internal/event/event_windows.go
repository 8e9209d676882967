//go:build windows

package event

import (
	"fmt"

	"golang.org/x/sys/windows"
)

type osEvent struct {
	h windows.Handle
}

// New creates a Win32 event object.
func New(manualReset, initialState bool) (Event, error) {
	var manual, initial uint32
	if manualReset {
		manual = 1
	}
	if initialState {
		initial = 1
	}
	h, err := windows.CreateEvent(nil, manual, initial, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}
	return &osEvent{h: h}, nil
}

func (e *osEvent) Set() error {
	return windows.SetEvent(e.h)
}

func (e *osEvent) Reset() error {
	return windows.ResetEvent(e.h)
}

func (e *osEvent) Wait() error {
	ret, err := windows.WaitForSingleObject(e.h, windows.INFINITE)
	if ret == windows.WAIT_FAILED {
		return fmt.Errorf("WaitForSingleObject: %w", err)
	}
	return nil
}

func (e *osEvent) Handle() uintptr { return uintptr(e.h) }

func (e *osEvent) Close() error {
	if e.h == 0 {
		return nil
	}
	err := windows.CloseHandle(e.h)
	e.h = 0
	return err
}
