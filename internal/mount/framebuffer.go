// Package mount owns one video stream mount point: the Encoder that turns
// admitted source frames into compressed JPEG output, the ring buffer of
// those frames, and the listeners reading from it. Adapted from gocast's
// internal/stream.Mount/Buffer, which does the same job for raw MP3/AAC
// byte streams — here the ring buffer holds whole frames instead of an
// arbitrary byte window, since MJPEG listeners must never receive a
// partial JPEG.
package mount

import (
	"sync"
	"sync/atomic"
	"time"
)

// ringSize is the number of most-recent frames retained for slow
// listeners to catch up from. Unlike gocast's byte-oriented Buffer this
// is frame-counted, not byte-counted, since frame size varies with
// quality id.
const ringSize = 64

// Frame is one compressed JPEG frame plus the quality id it was encoded
// at, as produced by internal/videoenc.Encoder.
type Frame struct {
	Data      []byte
	QualityID int
	SeqNum    uint64
	At        time.Time
}

// FrameBuffer is a fixed-length ring of the most recent encoded frames.
// Mirrors gocast's stream.Buffer broadcast idiom (sync.Cond wakes every
// waiting listener at once) but indexes by frame sequence number instead
// of a byte position, since frames are variable-length.
type FrameBuffer struct {
	mu    sync.RWMutex
	slots [ringSize]Frame
	head  atomic.Uint64 // next sequence number to be written

	cond   *sync.Cond
	condMu sync.Mutex
}

// NewFrameBuffer returns an empty ring.
func NewFrameBuffer() *FrameBuffer {
	b := &FrameBuffer{}
	b.cond = sync.NewCond(&b.condMu)
	return b
}

// Push stores a newly encoded frame and wakes every waiting listener,
// exactly as gocast's Buffer.Write broadcasts after each append.
func (b *FrameBuffer) Push(data []byte, qualityID int) {
	seq := b.head.Load()

	b.mu.Lock()
	slot := &b.slots[seq%ringSize]
	if cap(slot.Data) < len(data) {
		slot.Data = make([]byte, len(data))
	} else {
		slot.Data = slot.Data[:len(data)]
	}
	copy(slot.Data, data)
	slot.QualityID = qualityID
	slot.SeqNum = seq
	slot.At = time.Now()
	b.mu.Unlock()

	b.head.Store(seq + 1)

	b.condMu.Lock()
	b.cond.Broadcast()
	b.condMu.Unlock()
}

// Latest returns the most recently pushed frame and its sequence number.
// ok is false if nothing has been pushed yet.
func (b *FrameBuffer) Latest() (Frame, bool) {
	seq := b.head.Load()
	if seq == 0 {
		return Frame{}, false
	}
	return b.At(seq - 1)
}

// At returns the frame at sequence number seq if it hasn't been
// overwritten by the ring wrapping around.
func (b *FrameBuffer) At(seq uint64) (Frame, bool) {
	head := b.head.Load()
	if seq >= head {
		return Frame{}, false
	}
	if head-seq > ringSize {
		return Frame{}, false // overwritten
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	slot := b.slots[seq%ringSize]
	if slot.SeqNum != seq {
		return Frame{}, false
	}
	out := Frame{QualityID: slot.QualityID, SeqNum: slot.SeqNum, At: slot.At}
	out.Data = append([]byte(nil), slot.Data...)
	return out, true
}

// WaitForNext blocks (respecting timeout) until the frame numbered wantSeq
// is available, then returns it; ok is false if it has not arrived by the
// deadline or has already been overwritten. Mirrors gocast's Buffer.WaitForData, using
// the same sync.Cond-with-deadline pattern for instant wakeup instead of
// polling.
func (b *FrameBuffer) WaitForNext(wantSeq uint64, timeout time.Duration) (Frame, bool) {
	if f, ok := b.At(wantSeq); ok {
		return f, true
	}

	deadline := time.Now().Add(timeout)
	b.condMu.Lock()
	for b.head.Load() <= wantSeq {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := remaining
		if wait > 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		timer := time.AfterFunc(wait, func() {
			b.condMu.Lock()
			b.cond.Broadcast()
			b.condMu.Unlock()
		})
		b.cond.Wait()
		timer.Stop()
	}
	b.condMu.Unlock()

	return b.At(wantSeq)
}

// HeadSeq returns the next sequence number that will be written.
func (b *FrameBuffer) HeadSeq() uint64 { return b.head.Load() }
