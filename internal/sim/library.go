package sim

import (
	"sync/atomic"
	"time"

	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
)

// Options configures a simulated encoder library.
type Options struct {
	// Caps overrides individual capability values.
	Caps map[nvenc.Cap]int
	// Faults arms failures per step.
	Faults map[Step]Fault
	// Latency delays each completion.
	Latency time.Duration
}

var defaultCaps = map[nvenc.Cap]int{
	nvenc.CapNumMaxBFrames:           4,
	nvenc.CapSupportedRateControl:    0x3F,
	nvenc.CapWidthMax:                4096,
	nvenc.CapHeightMax:               4096,
	nvenc.CapSupportDynBitrateChange: 1,
	nvenc.CapAsyncEncodeSupport:      1,
	nvenc.CapSupportLosslessEncode:   1,
	nvenc.CapSupportLookahead:        1,
	nvenc.CapSupportTemporalAQ:       1,
}

// Counts are the backend objects currently alive.
type Counts struct {
	Sessions   int
	Bitstreams int
	Events     int
	Resources  int
	Mapped     int
}

// Zero reports whether nothing is alive.
func (c Counts) Zero() bool {
	return c == Counts{}
}

// Library is a simulated nvenc.Library.
type Library struct {
	caps    map[nvenc.Cap]int
	faults  *faults
	latency time.Duration

	sessions   atomic.Int64
	bitstreams atomic.Int64
	events     atomic.Int64
	resources  atomic.Int64
	mapped     atomic.Int64

	last atomic.Pointer[Encoder]
}

// NewLibrary creates a simulated library.
func NewLibrary(opts Options) *Library {
	caps := make(map[nvenc.Cap]int, len(defaultCaps))
	for k, v := range defaultCaps {
		caps[k] = v
	}
	for k, v := range opts.Caps {
		caps[k] = v
	}
	return &Library{caps: caps, faults: newFaults(opts.Faults), latency: opts.Latency}
}

// Inject arms a fault after construction, e.g. to fail a later encode.
func (l *Library) Inject(step Step, f Fault) {
	l.faults.inject(step, f)
}

// Live returns the number of live backend objects.
func (l *Library) Live() Counts {
	return Counts{
		Sessions:   int(l.sessions.Load()),
		Bitstreams: int(l.bitstreams.Load()),
		Events:     int(l.events.Load()),
		Resources:  int(l.resources.Load()),
		Mapped:     int(l.mapped.Load()),
	}
}

// LastEncoder returns the most recently opened session.
func (l *Library) LastEncoder() *Encoder {
	return l.last.Load()
}

// OpenSession opens a simulated encode session on device.
func (l *Library) OpenSession(device gpu.Device) (nvenc.Encoder, error) {
	if err := l.faults.check(StepOpen); err != nil {
		return nil, err
	}
	if device == nil || device.Native() == 0 {
		return nil, nvenc.StatusInvalidDevice
	}
	e := newEncoder(l)
	l.sessions.Add(1)
	l.last.Store(e)
	return e, nil
}
