// Package codec adapts raw captured scanlines into encoded JPEG frames: a
// growable destination buffer, a pixel-format line adapter, and a thin
// shim onto image/jpeg.
package codec

import "errors"

// ErrNoOutputSpace is returned by GrowBuffer.Write when a frame's encoded
// output would exceed the buffer's configured maximum size. The caller
// aborts the frame rather than growing without bound.
var ErrNoOutputSpace = errors.New("codec: encoded frame exceeds maximum output size")

// defaultMaxGrowBufferSize bounds a GrowBuffer created via NewGrowBuffer
// (no explicit limit given): generous enough for a single uncompressed
// 4K BGRX32 frame's worth of JPEG output, which JPEG compression never
// approaches in practice.
const defaultMaxGrowBufferSize = 64 * 1024 * 1024

// GrowBuffer is a reusable destination buffer that doubles its capacity on
// demand instead of allocating a fresh slice per frame, up to a fixed
// maximum. Encoders hold one per output stream and call Reset before each
// frame.
type GrowBuffer struct {
	buf    []byte
	maxCap int
}

// NewGrowBuffer returns a GrowBuffer pre-allocated to initialCap bytes,
// capped at defaultMaxGrowBufferSize.
func NewGrowBuffer(initialCap int) *GrowBuffer {
	return NewGrowBufferWithLimit(initialCap, defaultMaxGrowBufferSize)
}

// NewGrowBufferWithLimit returns a GrowBuffer pre-allocated to initialCap
// bytes that refuses to grow past maxSize, returning ErrNoOutputSpace from
// Write once that ceiling is hit.
func NewGrowBufferWithLimit(initialCap, maxSize int) *GrowBuffer {
	if initialCap <= 0 {
		initialCap = 64 * 1024
	}
	if maxSize <= 0 {
		maxSize = defaultMaxGrowBufferSize
	}
	if initialCap > maxSize {
		initialCap = maxSize
	}
	return &GrowBuffer{buf: make([]byte, 0, initialCap), maxCap: maxSize}
}

// Reset empties the buffer while keeping its backing array.
func (g *GrowBuffer) Reset() {
	g.buf = g.buf[:0]
}

// Write implements io.Writer, doubling capacity as needed up to maxCap.
// Once the write would push the buffer past maxCap, it fails the whole
// write with ErrNoOutputSpace instead of partially appending.
func (g *GrowBuffer) Write(p []byte) (int, error) {
	if len(g.buf)+len(p) > g.maxCap {
		return 0, ErrNoOutputSpace
	}
	g.ensure(len(p))
	g.buf = append(g.buf, p...)
	return len(p), nil
}

// ensure grows the backing array so at least n more bytes fit without a
// second reallocation this frame, never past maxCap.
func (g *GrowBuffer) ensure(n int) {
	if cap(g.buf)-len(g.buf) >= n {
		return
	}
	needed := len(g.buf) + n
	newCap := cap(g.buf)
	if newCap == 0 {
		newCap = 64 * 1024
	}
	for newCap < needed {
		newCap *= 2
	}
	if newCap > g.maxCap {
		newCap = g.maxCap
	}
	grown := make([]byte, len(g.buf), newCap)
	copy(grown, g.buf)
	g.buf = grown
}

// Bytes returns the frame accumulated since the last Reset. The slice is
// only valid until the next Reset or Write call.
func (g *GrowBuffer) Bytes() []byte { return g.buf }

// Len returns the number of bytes written since the last Reset.
func (g *GrowBuffer) Len() int { return len(g.buf) }
