package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/nvenc"
	"github.com/five82/nvpipe/internal/sim"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVideo() config.Video {
	return config.Video{Width: 64, Height: 32, FPSNum: 30, FPSDen: 1, Colorspace: config.Colorspace709}
}

type harness struct {
	t      *testing.T
	dev    *sim.Device
	lib    *sim.Library
	sess   *Session
	handle uint32
	src    gpu.Texture
}

func newHarness(t *testing.T, s config.Settings, opts sim.Options) *harness {
	t.Helper()
	h := &harness{t: t, dev: sim.NewDevice(), lib: sim.NewLibrary(opts)}
	var err error
	h.handle, h.src, err = h.dev.CreateShared(testVideo().Width, testVideo().Height)
	if err != nil {
		t.Fatal(err)
	}
	h.sess, err = Open(h.dev, h.lib, s, testVideo(), Options{Logger: quietLogger(), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = h.sess.Close() })
	return h
}

func frameData(pts int64) []byte {
	data := make([]byte, testVideo().FrameSize())
	for i := range data {
		data[i] = byte(pts)
	}
	return data
}

// encode publishes a frame on the shared texture and submits it.
func (h *harness) encode(pts int64) (Packet, bool, error) {
	h.t.Helper()
	if err := h.dev.Publish(h.handle, 1, frameData(pts)); err != nil {
		h.t.Fatalf("Publish() error = %v", err)
	}
	return h.sess.Encode(Frame{Handle: h.handle, Key: 1, PTS: pts})
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	s := h.sess
	depth := len(s.bitstreams)
	if s.buffersQueued < 0 || s.buffersQueued > depth {
		h.t.Fatalf("buffersQueued = %d, want 0..%d", s.buffersQueued, depth)
	}
	if s.timestamps.Len() != s.buffersQueued {
		h.t.Fatalf("timestamp queue length = %d, want %d", s.timestamps.Len(), s.buffersQueued)
	}
	if s.nextBitstream < 0 || s.nextBitstream >= depth || s.curBitstream < 0 || s.curBitstream >= depth {
		h.t.Fatalf("cursors out of range: next=%d cur=%d depth=%d", s.nextBitstream, s.curBitstream, depth)
	}
	if (s.curBitstream+s.buffersQueued)%depth != s.nextBitstream {
		h.t.Fatalf("cursor arithmetic broken: cur=%d queued=%d next=%d", s.curBitstream, s.buffersQueued, s.nextBitstream)
	}
}

func TestDepthScenario(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{})
	if got := h.sess.Plan().Depth; got != 8 {
		t.Fatalf("Depth = %d, want 8", got)
	}
	if got := h.sess.Plan().OutputDelay; got != 7 {
		t.Errorf("OutputDelay = %d, want 7", got)
	}

	for pts := int64(0); pts < 7; pts++ {
		_, ok, err := h.encode(pts)
		if err != nil {
			t.Fatalf("Encode(%d) error = %v", pts, err)
		}
		if ok {
			t.Fatalf("Encode(%d) produced a packet before the pipeline filled", pts)
		}
		h.checkInvariants()
	}
	if _, ok := h.sess.Header(); ok {
		t.Error("Header() reported before the first packet")
	}

	pkt, ok, err := h.encode(7)
	if err != nil || !ok {
		t.Fatalf("Encode(7) = ok %v, err %v; want a packet", ok, err)
	}
	if pkt.PTS != 0 {
		t.Errorf("PTS = %d, want 0", pkt.PTS)
	}
	if pkt.DTS != -1 {
		t.Errorf("DTS = %d, want -1", pkt.DTS)
	}
	if !pkt.Keyframe {
		t.Error("first packet should be a keyframe")
	}
	h.checkInvariants()
}

func TestNoPacketBeforeOutputDelay(t *testing.T) {
	tests := []struct {
		name    string
		bframes int
		la      int
	}{
		{"no B-frames", 0, 0},
		{"two B-frames", 2, 0},
		{"four B-frames", 4, 0},
		{"lookahead", 1, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Default()
			s.BFrames = tt.bframes
			s.Lookahead = tt.la > 0
			s.LookaheadDepth = tt.la
			h := newHarness(t, s, sim.Options{})

			depth := h.sess.Plan().Depth
			if want := 1 + tt.bframes + tt.la + extraBuffers; depth != want {
				t.Fatalf("Depth = %d, want %d", depth, want)
			}
			for pts := int64(0); pts < int64(depth-1); pts++ {
				if _, ok, err := h.encode(pts); ok || err != nil {
					t.Fatalf("Encode(%d) = ok %v, err %v; want no packet", pts, ok, err)
				}
			}
		})
	}
}

func TestQueueInvariantsAndFlush(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{})
	seen := make(map[int64]int)
	var pkts []Packet

	const frames = 40
	for pts := int64(0); pts < frames; pts++ {
		pkt, ok, err := h.encode(pts)
		if err != nil {
			t.Fatalf("Encode(%d) error = %v", pts, err)
		}
		h.checkInvariants()
		if ok {
			pkt.Data = append([]byte(nil), pkt.Data...)
			pkts = append(pkts, pkt)
		}
	}

	rest, err := h.sess.Flush()
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	pkts = append(pkts, rest...)
	h.checkInvariants()
	if h.sess.buffersQueued != 0 {
		t.Errorf("buffersQueued after flush = %d, want 0", h.sess.buffersQueued)
	}
	if h.sess.State() != StateDraining {
		t.Errorf("State() = %v, want draining", h.sess.State())
	}

	for i, p := range pkts {
		seen[p.PTS]++
		if p.DTS > p.PTS {
			t.Errorf("packet %d: DTS %d > PTS %d", i, p.DTS, p.PTS)
		}
		if i > 0 && p.DTS < pkts[i-1].DTS {
			t.Errorf("packet %d: DTS %d decreases from %d", i, p.DTS, pkts[i-1].DTS)
		}
		info, ok := sim.Inspect(p.Data)
		if !ok {
			t.Fatalf("packet %d is not a simulated slice", i)
		}
		if want := sim.Checksum(frameData(p.PTS)); info.Checksum != want {
			t.Errorf("packet %d checksum = %#x, want %#x", i, info.Checksum, want)
		}
		for _, nal := range avc.Split(p.Data) {
			if avc.Type(nal) == avc.NALSPS {
				t.Errorf("packet %d still carries an SPS", i)
			}
		}
	}
	for pts := int64(0); pts < frames; pts++ {
		if seen[pts] != 1 {
			t.Errorf("PTS %d produced %d times, want once", pts, seen[pts])
		}
	}

	header, ok := h.sess.Header()
	if !ok || len(header) == 0 {
		t.Error("Header() empty after first packet")
	}
	if sei, ok := h.sess.SEI(); !ok || len(sei) == 0 {
		t.Error("SEI() empty after first packet")
	}
	types := map[avc.NALType]bool{}
	for _, nal := range avc.Split(header) {
		types[avc.Type(nal)] = true
	}
	if !types[avc.NALSPS] || !types[avc.NALPPS] {
		t.Errorf("header NAL types = %v, want SPS and PPS", types)
	}

	st := h.sess.Stats()
	if st.Submitted != frames || st.Produced != frames || st.Queued != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if enc := h.lib.LastEncoder(); enc.EOSCount() != 1 {
		t.Errorf("EOS submitted %d times, want 1", enc.EOSCount())
	}
	if got := h.lib.Live().Mapped; got != 0 {
		t.Errorf("mapped surfaces after flush = %d, want 0", got)
	}
}

func TestDTSWithoutBFrames(t *testing.T) {
	s := config.Default()
	s.BFrames = 0
	h := newHarness(t, s, sim.Options{})
	for pts := int64(0); pts < 12; pts++ {
		pkt, ok, err := h.encode(pts * 100)
		if err != nil {
			t.Fatal(err)
		}
		if ok && pkt.DTS != pkt.PTS {
			t.Errorf("DTS = %d, want PTS %d", pkt.DTS, pkt.PTS)
		}
	}
}

func TestDTSWithBFrames(t *testing.T) {
	s := config.Default()
	s.BFrames = 1
	h := newHarness(t, s, sim.Options{})
	for pts := int64(0); pts < 6; pts++ {
		if _, _, err := h.encode(pts); err != nil {
			t.Fatal(err)
		}
	}
	pkts, err := h.sess.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 6 {
		t.Fatalf("Flush() returned %d packets, want 6", len(pkts))
	}
	if pkts[0].PTS != 0 || pkts[0].DTS != -1 {
		t.Errorf("first packet PTS/DTS = %d/%d, want 0/-1", pkts[0].PTS, pkts[0].DTS)
	}
	for i, p := range pkts {
		if p.DTS != int64(i)-1 {
			t.Errorf("packet %d DTS = %d, want %d", i, p.DTS, i-1)
		}
	}
}

func TestInvalidHandle(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{})
	for pts := int64(0); pts < 3; pts++ {
		if _, _, err := h.encode(pts); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		handle uint32
	}{
		{"invalid value", gpu.InvalidHandle},
		{"unknown handle", 0xBEEF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queued := h.sess.buffersQueued
			next := h.sess.nextBitstream
			_, ok, err := h.sess.Encode(Frame{Handle: tt.handle, Key: 1, PTS: 99})
			if ok {
				t.Error("Encode() produced a packet")
			}
			if !nverrors.IsKind(err, nverrors.KindEncodeSubmission) {
				t.Errorf("error = %v, want EncodeSubmissionError", err)
			}
			if !nverrors.IsKind(err, nverrors.KindHandleResolution) {
				t.Errorf("error = %v, want HandleResolutionError in chain", err)
			}
			if h.sess.buffersQueued != queued || h.sess.nextBitstream != next {
				t.Errorf("ring moved: queued %d->%d next %d->%d", queued, h.sess.buffersQueued, next, h.sess.nextBitstream)
			}
			h.checkInvariants()
		})
	}
	if got := h.sess.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}

	if _, _, err := h.encode(3); err != nil {
		t.Errorf("Encode after rejected frame error = %v", err)
	}
}

func TestEncodeFailureUnmaps(t *testing.T) {
	tests := []struct {
		name string
		step sim.Step
	}{
		{"map", sim.StepMap},
		{"encode", sim.StepEncode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.Default(), sim.Options{})
			for pts := int64(0); pts < 2; pts++ {
				if _, _, err := h.encode(pts); err != nil {
					t.Fatal(err)
				}
			}

			h.lib.Inject(tt.step, sim.Fault{})
			_, _, err := h.encode(2)
			if !nverrors.IsKind(err, nverrors.KindEncodeSubmission) {
				t.Fatalf("error = %v, want EncodeSubmissionError", err)
			}
			if got := h.lib.Live().Mapped; got != 2 {
				t.Errorf("mapped surfaces = %d, want 2", got)
			}
			h.checkInvariants()

			h.lib.Inject(tt.step, sim.Fault{After: 1 << 30})
			if _, _, err := h.encode(2); err != nil {
				t.Errorf("Encode after recovery error = %v", err)
			}
			h.checkInvariants()
		})
	}
}

func TestRetrievalFailureKeepsRing(t *testing.T) {
	s := config.Default()
	s.BFrames = 0
	h := newHarness(t, s, sim.Options{})
	depth := h.sess.Plan().Depth
	for pts := int64(0); pts < int64(depth-1); pts++ {
		if _, _, err := h.encode(pts); err != nil {
			t.Fatal(err)
		}
	}

	h.lib.Inject(sim.StepLock, sim.Fault{})
	_, ok, err := h.encode(int64(depth - 1))
	if ok || !nverrors.IsKind(err, nverrors.KindRetrieval) {
		t.Fatalf("Encode() = ok %v, err %v; want RetrievalError", ok, err)
	}
	if h.sess.buffersQueued != depth || h.sess.curBitstream != 0 {
		t.Errorf("queued=%d cur=%d, want %d and 0", h.sess.buffersQueued, h.sess.curBitstream, depth)
	}
	h.checkInvariants()

	h.lib.Inject(sim.StepLock, sim.Fault{After: 1 << 30})
	pkts, err := h.sess.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != depth {
		t.Errorf("Flush() returned %d packets, want %d", len(pkts), depth)
	}
}

func TestFullRingRejectsFrame(t *testing.T) {
	s := config.Default()
	s.BFrames = 0
	h := newHarness(t, s, sim.Options{})
	depth := h.sess.Plan().Depth
	for pts := int64(0); pts < int64(depth-1); pts++ {
		if _, _, err := h.encode(pts); err != nil {
			t.Fatal(err)
		}
	}
	h.lib.Inject(sim.StepLock, sim.Fault{})
	if _, _, err := h.encode(int64(depth - 1)); !nverrors.IsKind(err, nverrors.KindRetrieval) {
		t.Fatalf("Encode() error = %v, want RetrievalError", err)
	}
	next := h.sess.nextBitstream

	for _, pts := range []int64{int64(depth), int64(depth + 1)} {
		// The frame is rejected before the keyed mutex is touched, so it is
		// not republished.
		_, ok, err := h.sess.Encode(Frame{Handle: h.handle, Key: 1, PTS: pts})
		if ok || !errors.Is(err, ErrPipelineFull) || !nverrors.IsKind(err, nverrors.KindEncodeSubmission) {
			t.Fatalf("Encode(%d) = ok %v, err %v; want ErrPipelineFull", pts, ok, err)
		}
		h.checkInvariants()
		if h.sess.buffersQueued != depth || h.sess.nextBitstream != next {
			t.Errorf("queued=%d next=%d, want %d and %d", h.sess.buffersQueued, h.sess.nextBitstream, depth, next)
		}
	}
	if st := h.sess.Stats(); st.Dropped != 2 || st.Submitted != uint64(depth) {
		t.Errorf("Stats() = %+v, want 2 dropped and %d submitted", st, depth)
	}

	h.lib.Inject(sim.StepLock, sim.Fault{After: 1 << 30})
	pkts, err := h.sess.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != depth {
		t.Fatalf("Flush() returned %d packets, want %d", len(pkts), depth)
	}
	for i, p := range pkts {
		if p.PTS != int64(i) {
			t.Errorf("packet %d PTS = %d, want %d", i, p.PTS, i)
		}
	}
}

func TestFlushIdle(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{})
	pkts, err := h.sess.Flush()
	if err != nil || len(pkts) != 0 {
		t.Fatalf("Flush() = %d packets, %v; want none", len(pkts), err)
	}
	if h.sess.State() != StateDraining {
		t.Errorf("State() = %v, want draining", h.sess.State())
	}
	if got := h.lib.LastEncoder().EOSCount(); got != 0 {
		t.Errorf("EOS sent %d times on idle flush", got)
	}

	_, _, err = h.sess.Encode(Frame{Handle: h.handle, Key: 1})
	if !errors.Is(err, ErrSessionClosed) || !nverrors.IsKind(err, nverrors.KindEncodeSubmission) {
		t.Errorf("Encode after Flush error = %v, want ErrSessionClosed", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{})
	for pts := int64(0); pts < 10; pts++ {
		if _, _, err := h.encode(pts); err != nil {
			t.Fatal(err)
		}
	}
	enc := h.lib.LastEncoder()

	if err := h.sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.sess.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	h.src.Release()

	if live := h.lib.Live(); !live.Zero() {
		t.Errorf("Live() after Close = %+v", live)
	}
	if n := h.dev.LiveTextures(); n != 0 {
		t.Errorf("LiveTextures() = %d, want 0", n)
	}
	if n := h.dev.LiveMutexes(); n != 0 {
		t.Errorf("LiveMutexes() = %d, want 0", n)
	}
	if !h.dev.Released() {
		t.Error("device not released")
	}
	if enc.EOSCount() != 1 {
		t.Errorf("Close drained with %d EOS pictures, want 1", enc.EOSCount())
	}
	if h.sess.State() != StateClosed {
		t.Errorf("State() = %v, want closed", h.sess.State())
	}
}

func TestOpenUnwinds(t *testing.T) {
	tests := []struct {
		name  string
		step  sim.Step
		after int
		kind  nverrors.ErrorKind
	}{
		{"open session", sim.StepOpen, 0, nverrors.KindDeviceInit},
		{"preset config", sim.StepPresetConfig, 0, nverrors.KindConfiguration},
		{"initialize", sim.StepInitialize, 0, nverrors.KindConfiguration},
		{"first bitstream", sim.StepCreateBitstream, 0, nverrors.KindBuffer},
		{"fourth bitstream", sim.StepCreateBitstream, 3, nverrors.KindBuffer},
		{"event registration", sim.StepRegisterEvent, 2, nverrors.KindBuffer},
		{"surface registration", sim.StepRegisterResource, 5, nverrors.KindSurface},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := sim.NewDevice()
			lib := sim.NewLibrary(sim.Options{Faults: map[sim.Step]sim.Fault{tt.step: {After: tt.after}}})

			sess, err := Open(dev, lib, config.Default(), testVideo(), Options{Logger: quietLogger()})
			if err == nil {
				sess.Close()
				t.Fatal("Open() succeeded, want error")
			}
			if !nverrors.IsKind(err, tt.kind) {
				t.Errorf("error = %v, want kind %v", err, tt.kind)
			}
			if !nverrors.IsFatal(err) {
				t.Errorf("IsFatal(%v) = false", err)
			}
			if live := lib.Live(); !live.Zero() {
				t.Errorf("Live() after failed Open = %+v", live)
			}
			if n := dev.LiveTextures(); n != 0 {
				t.Errorf("LiveTextures() = %d, want 0", n)
			}
			if dev.Released() {
				t.Error("failed Open must leave the device to the caller")
			}
		})
	}
}

func TestOpenRejectsSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Settings, *config.Video)
		caps   map[nvenc.Cap]int
	}{
		{"bitrate", func(s *config.Settings, _ *config.Video) { s.Bitrate = 1 }, nil},
		{"odd width", func(_ *config.Settings, v *config.Video) { v.Width = 63 }, nil},
		{"too large", func(_ *config.Settings, v *config.Video) { v.Width = 8192 }, nil},
		{"lossless unsupported", func(s *config.Settings, _ *config.Video) {
			s.RateControl = config.RateControlLossless
		}, map[nvenc.Cap]int{nvenc.CapSupportLosslessEncode: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, v := config.Default(), testVideo()
			tt.modify(&s, &v)
			lib := sim.NewLibrary(sim.Options{Caps: tt.caps})
			_, err := Open(sim.NewDevice(), lib, s, v, Options{Logger: quietLogger()})
			if !nverrors.IsKind(err, nverrors.KindConfiguration) {
				t.Errorf("error = %v, want ConfigurationError", err)
			}
			if !lib.Live().Zero() {
				t.Errorf("Live() = %+v", lib.Live())
			}
		})
	}
}

func TestUpdateBitrate(t *testing.T) {
	tests := []struct {
		name    string
		rc      config.RateControl
		caps    map[nvenc.Cap]int
		kbps    int
		wantErr error
	}{
		{"cbr", config.RateControlCBR, nil, 6000, nil},
		{"cqp", config.RateControlCQP, nil, 6000, ErrReconfigureUnsupported},
		{"no hardware support", config.RateControlCBR, map[nvenc.Cap]int{nvenc.CapSupportDynBitrateChange: 0}, 6000, ErrReconfigureUnsupported},
		{"out of range", config.RateControlCBR, nil, 10, config.ErrInvalidBitrate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Default()
			s.RateControl = tt.rc
			h := newHarness(t, s, sim.Options{Caps: tt.caps})

			err := h.sess.UpdateBitrate(tt.kbps)
			enc := h.lib.LastEncoder()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !nverrors.IsKind(err, nverrors.KindConfiguration) {
					t.Errorf("UpdateBitrate() error = %v, want %v", err, tt.wantErr)
				}
				if enc.Reconfigured() != 0 {
					t.Error("encoder reconfigured on rejected update")
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateBitrate() error = %v", err)
			}
			if enc.Reconfigured() != 1 {
				t.Errorf("Reconfigured() = %d, want 1", enc.Reconfigured())
			}
			rc := enc.Params().Config.RC
			if rc.AverageBitRate != 6000000 || rc.MaxBitRate != 6000000 {
				t.Errorf("bitrates = %d/%d, want 6000000", rc.AverageBitRate, rc.MaxBitRate)
			}
			if got := h.sess.Plan().Config.RC.MaxBitRate; got != 6000000 {
				t.Errorf("plan bitrate = %d, want 6000000", got)
			}
		})
	}
}

func TestReconfigureFailure(t *testing.T) {
	h := newHarness(t, config.Default(), sim.Options{Faults: map[sim.Step]sim.Fault{sim.StepReconfigure: {}}})
	err := h.sess.UpdateBitrate(4000)
	if !nverrors.IsKind(err, nverrors.KindConfiguration) || !errors.Is(err, nvenc.StatusInvalidParam) {
		t.Errorf("UpdateBitrate() error = %v", err)
	}
	if got := h.sess.Plan().Config.RC.AverageBitRate; got != 2500000 {
		t.Errorf("plan bitrate changed to %d after failure", got)
	}
}
