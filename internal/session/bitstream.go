package session

import (
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/event"
	"github.com/five82/nvpipe/internal/nvenc"
)

// bitstreamSlot pairs an encoder output buffer with the event the encoder
// signals when the buffer holds a finished picture.
type bitstreamSlot struct {
	buf nvenc.Bitstream
	ev  event.Event
}

// allocBitstream creates one output buffer and registers a manual-reset,
// initially signaled completion event for it.
func allocBitstream(enc nvenc.Encoder) (*bitstreamSlot, error) {
	buf, err := enc.CreateBitstream()
	if err != nil {
		return nil, nverrors.NewBufferError("create bitstream buffer", err)
	}

	ev, err := event.New(true, true)
	if err != nil {
		_ = enc.DestroyBitstream(buf)
		return nil, nverrors.NewBufferError("create completion event", err)
	}

	if err := enc.RegisterAsyncEvent(ev); err != nil {
		_ = ev.Close()
		_ = enc.DestroyBitstream(buf)
		return nil, nverrors.NewBufferError("register completion event", err)
	}

	return &bitstreamSlot{buf: buf, ev: ev}, nil
}

// release unregisters and closes the event and destroys the buffer. It is
// a no-op on a nil or already released slot.
func (b *bitstreamSlot) release(enc nvenc.Encoder) {
	if b == nil {
		return
	}
	if b.ev != nil {
		_ = enc.UnregisterAsyncEvent(b.ev)
		_ = b.ev.Close()
		b.ev = nil
	}
	if b.buf != 0 {
		_ = enc.DestroyBitstream(b.buf)
		b.buf = 0
	}
}
