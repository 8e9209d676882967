package sim

import (
	"sync"
	"time"

	"github.com/five82/nvpipe/internal/event"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
)

type bufState int

const (
	bufIdle bufState = iota
	bufPending
	bufReady
	bufLocked
)

type outBuf struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state bufState
	data  []byte
	pic   picture
}

func newOutBuf() *outBuf {
	b := &outBuf{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

type picture struct {
	ts  uint64
	idx uint32
	typ nvenc.PicType
	sum byte
}

type job struct {
	buf  *outBuf
	ev   event.Event
	pic  picture
	data []byte
}

// Encoder is a simulated NVENC session.
type Encoder struct {
	lib *Library

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	init        nvenc.InitParams
	cfg         nvenc.Config
	nextID      uintptr

	bitstreams map[nvenc.Bitstream]*outBuf
	events     map[event.Event]bool
	resources  map[nvenc.Resource]*texture
	mapped     map[nvenc.MappedResource]nvenc.Resource
	mappedBy   map[nvenc.Resource]nvenc.MappedResource

	frameNum   uint32
	held       []picture
	pictures   []picture
	buffers    []*outBuf
	bufEvents  []event.Event
	headerSent bool
	eosCount   int
	reconfigs  int

	jobs chan job
	done chan struct{}
}

func newEncoder(lib *Library) *Encoder {
	e := &Encoder{
		lib:        lib,
		nextID:     0x10000,
		bitstreams: make(map[nvenc.Bitstream]*outBuf),
		events:     make(map[event.Event]bool),
		resources:  make(map[nvenc.Resource]*texture),
		mapped:     make(map[nvenc.MappedResource]nvenc.Resource),
		mappedBy:   make(map[nvenc.Resource]nvenc.MappedResource),
		jobs:       make(chan job, 256),
		done:       make(chan struct{}),
	}
	go e.complete()
	return e
}

// complete plays the role of the hardware: it finishes queued pictures in
// order and signals their completion events.
func (e *Encoder) complete() {
	defer close(e.done)
	for j := range e.jobs {
		if j.buf != nil && e.lib.latency > 0 {
			time.Sleep(e.lib.latency)
		}
		if j.buf != nil {
			j.buf.mu.Lock()
			j.buf.data = j.data
			j.buf.pic = j.pic
			j.buf.state = bufReady
			j.buf.cond.Broadcast()
			j.buf.mu.Unlock()
		}
		if j.ev != nil {
			_ = j.ev.Set()
		}
	}
}

func (e *Encoder) id() uintptr {
	e.nextID += 0x10
	return e.nextID
}

// Params returns the parameters of the last Initialize or Reconfigure.
func (e *Encoder) Params() nvenc.InitParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.init
	cfg := e.cfg
	p.Config = &cfg
	return p
}

// Reconfigured returns how many times Reconfigure succeeded.
func (e *Encoder) Reconfigured() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconfigs
}

// EOSCount returns how many end-of-stream pictures were submitted.
func (e *Encoder) EOSCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eosCount
}

// Destroyed reports whether Destroy was called.
func (e *Encoder) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Encoder) Caps(codec nvenc.GUID, c nvenc.Cap) (int, error) {
	if codec != nvenc.CodecH264 {
		return 0, nvenc.StatusInvalidParam
	}
	return e.lib.caps[c], nil
}

func (e *Encoder) PresetConfig(codec, preset nvenc.GUID) (*nvenc.Config, error) {
	if err := e.lib.faults.check(StepPresetConfig); err != nil {
		return nil, err
	}
	if codec != nvenc.CodecH264 || nvenc.PresetName(preset) == preset.String() {
		return nil, nvenc.StatusInvalidParam
	}
	cfg := &nvenc.Config{
		Profile:        nvenc.ProfileMain,
		GOPLength:      30,
		FrameIntervalP: 1,
		RC: nvenc.RCParams{
			Mode:           nvenc.RCVBR,
			AverageBitRate: 5000000,
			MaxBitRate:     5000000,
		},
	}
	switch preset {
	case nvenc.PresetLowLatencyDefault, nvenc.PresetLowLatencyHQ, nvenc.PresetLowLatencyHP:
		cfg.RC.Mode = nvenc.RCCBR
	case nvenc.PresetLosslessDefault, nvenc.PresetLosslessHP:
		cfg.RC.Mode = nvenc.RCConstQP
		cfg.RC.AverageBitRate, cfg.RC.MaxBitRate = 0, 0
	}
	return cfg, nil
}

func (e *Encoder) validate(p *nvenc.InitParams) error {
	if p == nil || p.Config == nil || p.EncodeGUID != nvenc.CodecH264 {
		return nvenc.StatusInvalidParam
	}
	if p.Width == 0 || p.Height == 0 ||
		int(p.Width) > e.lib.caps[nvenc.CapWidthMax] || int(p.Height) > e.lib.caps[nvenc.CapHeightMax] {
		return nvenc.StatusInvalidParam
	}
	if p.FrameRateNum == 0 || p.FrameRateDen == 0 {
		return nvenc.StatusInvalidParam
	}
	if int(p.Config.FrameIntervalP)-1 > e.lib.caps[nvenc.CapNumMaxBFrames] {
		return nvenc.StatusUnsupportedParam
	}
	if p.EnableEncodeAsync && e.lib.caps[nvenc.CapAsyncEncodeSupport] == 0 {
		return nvenc.StatusUnsupportedParam
	}
	if p.Config.RC.EnableLookahead && e.lib.caps[nvenc.CapSupportLookahead] == 0 {
		return nvenc.StatusUnsupportedParam
	}
	if p.Config.RC.EnableTemporalAQ && e.lib.caps[nvenc.CapSupportTemporalAQ] == 0 {
		return nvenc.StatusUnsupportedParam
	}
	return nil
}

func (e *Encoder) store(p *nvenc.InitParams) {
	e.init = *p
	e.cfg = *p.Config
	e.init.Config = &e.cfg
}

func (e *Encoder) Initialize(p *nvenc.InitParams) error {
	if err := e.lib.faults.check(StepInitialize); err != nil {
		return err
	}
	if err := e.validate(p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store(p)
	e.initialized = true
	return nil
}

func (e *Encoder) Reconfigure(p *nvenc.InitParams) error {
	if err := e.lib.faults.check(StepReconfigure); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nvenc.StatusEncoderNotInitialized
	}
	if err := e.validate(p); err != nil {
		return err
	}
	if p.Width > e.init.MaxWidth || p.Height > e.init.MaxHeight {
		return nvenc.StatusInvalidParam
	}
	e.store(p)
	e.reconfigs++
	return nil
}

func (e *Encoder) CreateBitstream() (nvenc.Bitstream, error) {
	if err := e.lib.faults.check(StepCreateBitstream); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return 0, nvenc.StatusEncoderNotInitialized
	}
	b := nvenc.Bitstream(e.id())
	e.bitstreams[b] = newOutBuf()
	e.lib.bitstreams.Add(1)
	return b, nil
}

func (e *Encoder) DestroyBitstream(b nvenc.Bitstream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.bitstreams[b]; !ok {
		return nvenc.StatusInvalidParam
	}
	delete(e.bitstreams, b)
	e.lib.bitstreams.Add(-1)
	return nil
}

func (e *Encoder) RegisterAsyncEvent(ev event.Event) error {
	if err := e.lib.faults.check(StepRegisterEvent); err != nil {
		return err
	}
	if ev == nil {
		return nvenc.StatusInvalidEvent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.events[ev] {
		e.events[ev] = true
		e.lib.events.Add(1)
	}
	return nil
}

func (e *Encoder) UnregisterAsyncEvent(ev event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.events[ev] {
		return nvenc.StatusEventNotRegistered
	}
	delete(e.events, ev)
	e.lib.events.Add(-1)
	return nil
}

func (e *Encoder) RegisterResource(p nvenc.RegisterParams) (nvenc.Resource, error) {
	if err := e.lib.faults.check(StepRegisterResource); err != nil {
		return 0, err
	}
	tex, ok := p.Texture.(*texture)
	if !ok || p.Format != nvenc.BufferFormatNV12 || tex.store.format != gpu.FormatNV12 {
		return 0, nvenc.StatusInvalidParam
	}
	if tex.store.width != p.Width || tex.store.height != p.Height {
		return 0, nvenc.StatusInvalidParam
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := nvenc.Resource(e.id())
	e.resources[r] = tex
	e.lib.resources.Add(1)
	return r, nil
}

func (e *Encoder) UnregisterResource(r nvenc.Resource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.resources[r]; !ok {
		return nvenc.StatusResourceNotRegistered
	}
	if _, ok := e.mappedBy[r]; ok {
		return nvenc.StatusInvalidCall
	}
	delete(e.resources, r)
	e.lib.resources.Add(-1)
	return nil
}

func (e *Encoder) MapInput(r nvenc.Resource) (nvenc.MappedResource, error) {
	if err := e.lib.faults.check(StepMap); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.resources[r]; !ok {
		return 0, nvenc.StatusResourceNotRegistered
	}
	if _, ok := e.mappedBy[r]; ok {
		return 0, nvenc.StatusInvalidCall
	}
	m := nvenc.MappedResource(e.id())
	e.mapped[m] = r
	e.mappedBy[r] = m
	e.lib.mapped.Add(1)
	return m, nil
}

func (e *Encoder) UnmapInput(m nvenc.MappedResource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.mapped[m]
	if !ok {
		return nvenc.StatusResourceNotMapped
	}
	delete(e.mapped, m)
	delete(e.mappedBy, r)
	e.lib.mapped.Add(-1)
	return nil
}

func (e *Encoder) pictureType(n uint32, forceIDR bool) nvenc.PicType {
	gop := e.cfg.GOPLength
	if gop == 0 {
		gop = 250
	}
	interval := uint32(1)
	if e.cfg.FrameIntervalP > 1 {
		interval = uint32(e.cfg.FrameIntervalP)
	}
	switch {
	case forceIDR || n%gop == 0:
		return nvenc.PicTypeIDR
	case n%interval == 0:
		return nvenc.PicTypeP
	}
	return nvenc.PicTypeB
}

// flushHeld turns held B-frames into P-frames in display order.
func (e *Encoder) flushHeld() {
	for _, p := range e.held {
		p.typ = nvenc.PicTypeP
		e.pictures = append(e.pictures, p)
	}
	e.held = nil
}

// pair hands encoded pictures to output buffers in submission order.
func (e *Encoder) pair() {
	for len(e.buffers) > 0 && len(e.pictures) > 0 {
		buf, ev, pic := e.buffers[0], e.bufEvents[0], e.pictures[0]
		e.buffers, e.bufEvents, e.pictures = e.buffers[1:], e.bufEvents[1:], e.pictures[1:]
		data := e.render(pic, !e.headerSent)
		e.headerSent = true
		e.jobs <- job{buf: buf, ev: ev, pic: pic, data: data}
	}
}

func (e *Encoder) EncodePicture(p *nvenc.PicParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || !e.initialized {
		return nvenc.StatusEncoderNotInitialized
	}
	if p.Completion != nil && !e.events[p.Completion] {
		return nvenc.StatusEventNotRegistered
	}

	if p.Flags&nvenc.PicFlagEOS != 0 {
		if p.Completion != nil {
			_ = p.Completion.Reset()
		}
		e.eosCount++
		e.flushHeld()
		e.pair()
		e.jobs <- job{ev: p.Completion}
		return nil
	}

	if err := e.lib.faults.check(StepEncode); err != nil {
		return err
	}
	r, ok := e.mapped[p.Input]
	if !ok {
		return nvenc.StatusResourceNotMapped
	}
	buf, ok := e.bitstreams[p.Output]
	if !ok {
		return nvenc.StatusInvalidParam
	}
	buf.mu.Lock()
	busy := buf.state == bufPending || buf.state == bufLocked
	if !busy {
		buf.state = bufPending
		buf.data = nil
	}
	buf.mu.Unlock()
	if busy {
		return nvenc.StatusEncoderBusy
	}
	if p.Completion != nil {
		_ = p.Completion.Reset()
	}

	pic := picture{
		ts:  p.InputTimeStamp,
		idx: e.frameNum,
		typ: e.pictureType(e.frameNum, p.Flags&nvenc.PicFlagForceIDR != 0),
		sum: Checksum(e.resources[r].store.data),
	}
	e.frameNum++
	e.buffers = append(e.buffers, buf)
	e.bufEvents = append(e.bufEvents, p.Completion)

	switch pic.typ {
	case nvenc.PicTypeIDR:
		e.flushHeld()
		e.pictures = append(e.pictures, pic)
	case nvenc.PicTypeP:
		e.pictures = append(e.pictures, pic)
		for _, b := range e.held {
			b.typ = nvenc.PicTypeB
			e.pictures = append(e.pictures, b)
		}
		e.held = nil
	default:
		e.held = append(e.held, pic)
	}
	e.pair()

	if pic.typ == nvenc.PicTypeB {
		return nvenc.StatusNeedMoreInput
	}
	return nil
}

func (e *Encoder) LockBitstream(b nvenc.Bitstream) (*nvenc.LockedBitstream, error) {
	if err := e.lib.faults.check(StepLock); err != nil {
		return nil, err
	}
	e.mu.Lock()
	buf, ok := e.bitstreams[b]
	e.mu.Unlock()
	if !ok {
		return nil, nvenc.StatusInvalidParam
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.state == bufIdle || buf.state == bufLocked {
		return nil, nvenc.StatusInvalidCall
	}
	for buf.state != bufReady {
		buf.cond.Wait()
	}
	buf.state = bufLocked
	return &nvenc.LockedBitstream{
		Data:            buf.data,
		OutputTimeStamp: buf.pic.ts,
		PictureType:     buf.pic.typ,
		FrameIdx:        buf.pic.idx,
	}, nil
}

func (e *Encoder) UnlockBitstream(b nvenc.Bitstream) error {
	e.mu.Lock()
	buf, ok := e.bitstreams[b]
	e.mu.Unlock()
	if !ok {
		return nvenc.StatusInvalidParam
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.state != bufLocked {
		return nvenc.StatusInvalidCall
	}
	buf.state = bufIdle
	return nil
}

func (e *Encoder) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	close(e.jobs)
	e.mu.Unlock()

	<-e.done
	e.lib.sessions.Add(-1)
	return nil
}
