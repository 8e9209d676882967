package sim

import (
	"sync"

	"github.com/five82/nvpipe/internal/nvenc"
)

// Step names an encoder entry point that can be made to fail.
type Step string

const (
	StepOpen             Step = "open"
	StepPresetConfig     Step = "preset_config"
	StepInitialize       Step = "initialize"
	StepCreateBitstream  Step = "create_bitstream"
	StepRegisterEvent    Step = "register_event"
	StepRegisterResource Step = "register_resource"
	StepMap              Step = "map"
	StepEncode           Step = "encode"
	StepLock             Step = "lock"
	StepReconfigure      Step = "reconfigure"
)

var defaultStatus = map[Step]nvenc.Status{
	StepOpen:             nvenc.StatusNoEncodeDevice,
	StepPresetConfig:     nvenc.StatusInvalidParam,
	StepInitialize:       nvenc.StatusInvalidParam,
	StepCreateBitstream:  nvenc.StatusOutOfMemory,
	StepRegisterEvent:    nvenc.StatusInvalidEvent,
	StepRegisterResource: nvenc.StatusResourceRegisterFailed,
	StepMap:              nvenc.StatusMapFailed,
	StepEncode:           nvenc.StatusGeneric,
	StepLock:             nvenc.StatusLockBusy,
	StepReconfigure:      nvenc.StatusInvalidParam,
}

// Fault makes a step fail once it has succeeded After times. A nil Err
// uses the status the driver would typically return for that step.
type Fault struct {
	After int
	Err   error
}

type faults struct {
	mu    sync.Mutex
	set   map[Step]Fault
	calls map[Step]int
}

func newFaults(set map[Step]Fault) *faults {
	f := &faults{set: make(map[Step]Fault), calls: make(map[Step]int)}
	for k, v := range set {
		f.set[k] = v
	}
	return f
}

func (f *faults) inject(step Step, fault Fault) {
	f.mu.Lock()
	f.set[step] = fault
	f.calls[step] = 0
	f.mu.Unlock()
}

func (f *faults) check(step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault, ok := f.set[step]
	if !ok {
		return nil
	}
	f.calls[step]++
	if f.calls[step] <= fault.After {
		return nil
	}
	if fault.Err != nil {
		return fault.Err
	}
	return defaultStatus[step]
}
