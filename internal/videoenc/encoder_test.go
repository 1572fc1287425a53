package videoenc

import (
	"errors"
	"image"
	"testing"

	"github.com/gocast/mjpegrc/internal/codec"
	"github.com/gocast/mjpegrc/internal/ratectl"
)

func solidFrame(t *testing.T, width, height int) *SourceBitmap {
	t.Helper()
	bmp := NewSourceBitmap(width, height, codec.FormatBGRX32)
	line := make([]byte, width*4)
	for x := 0; x < width; x++ {
		line[x*4], line[x*4+1], line[x*4+2], line[x*4+3] = 0x40, 0x80, 0xc0, 0
	}
	for y := 0; y < height; y++ {
		if err := bmp.AppendChunk(line); err != nil {
			t.Fatalf("append chunk: %v", err)
		}
	}
	if !bmp.Complete() {
		t.Fatalf("bitmap not complete after %d lines", height)
	}
	return bmp
}

func TestEncodeFrameProducesGrowingSequence(t *testing.T) {
	enc := NewMJPEGEncoder(1_000_000*8, ratectl.Callbacks{}, 16, 16, Overlay{})
	frame := solidFrame(t, 16, 16)

	admitted := 0
	for i := 0; i < ratectl.NumQualityIDs+1; i++ {
		ok, err := enc.EncodeFrame(ratectl.MMTime(i*200), frame)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if ok {
			admitted++
		}
	}
	if admitted == 0 {
		t.Fatalf("no frames were admitted during the initial SET probe")
	}
	if enc.Buffer().SeqNum != uint64(admitted) {
		t.Errorf("seq num = %d, want %d", enc.Buffer().SeqNum, admitted)
	}
	if len(enc.Buffer().Data) == 0 {
		t.Errorf("buffer has no compressed data after an admitted frame")
	}
}

func TestEncodeFrameScalesMismatchedSource(t *testing.T) {
	enc := NewMJPEGEncoder(1_000_000*8, ratectl.Callbacks{}, 32, 16, Overlay{})
	frame := solidFrame(t, 16, 16) // smaller than the negotiated 32x16 target

	ok, err := enc.EncodeFrame(0, frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !ok {
		t.Fatalf("first frame must always be admitted")
	}
	if len(enc.Buffer().Data) == 0 {
		t.Fatalf("expected compressed data for a scaled frame")
	}
}

func TestEncodeFrameReportsNoOutputSpace(t *testing.T) {
	// A destination buffer capped far below anything a real JPEG encode
	// could fit forces codec.Encode to fail with ErrNoOutputSpace; verify
	// EncodeFrame surfaces that error and does not report the frame as
	// admitted, per spec's "codec signals insufficient output space
	// mid-stream" Unsupported cause. EncodeFrame also calls FrameFailed on
	// this path; this test does not inspect the controller's state.
	enc := &mjpegEncoder{
		ctl:    ratectl.New(1_000_000*8, ratectl.Callbacks{}),
		dst:    codec.NewGrowBufferWithLimit(16, 16),
		target: image.Rect(0, 0, 16, 16),
	}
	frame := solidFrame(t, 16, 16)

	ok, err := enc.EncodeFrame(0, frame)
	if ok {
		t.Fatalf("frame should not be admitted when encoding fails")
	}
	if !errors.Is(err, codec.ErrNoOutputSpace) {
		t.Fatalf("err = %v, want ErrNoOutputSpace", err)
	}
}

func TestOverlayNoTextIsNoop(t *testing.T) {
	o := Overlay{}
	bmp := solidFrame(t, 8, 8)
	before := append([]byte(nil), bmp.Image().Pix...)
	o.draw(bmp.Image())
	for i, v := range bmp.Image().Pix {
		if v != before[i] {
			t.Fatalf("overlay with no Text func must not touch the image")
		}
	}
}
