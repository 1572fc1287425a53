package codec

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"
)

func TestGrowBufferDoublesAndResets(t *testing.T) {
	g := NewGrowBuffer(4)
	if _, err := g.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if g.Len() != 5 {
		t.Fatalf("len = %d, want 5", g.Len())
	}
	if cap(g.Bytes()) < 5 {
		t.Fatalf("capacity did not grow to fit, cap=%d", cap(g.Bytes()))
	}

	g.Reset()
	if g.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", g.Len())
	}
	prevCap := cap(g.Bytes())
	if _, err := g.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if cap(g.Bytes()) != prevCap {
		t.Errorf("reset should keep the backing array, cap changed %d -> %d", prevCap, cap(g.Bytes()))
	}
}

func TestGrowBufferRejectsOverLimitWrite(t *testing.T) {
	g := NewGrowBufferWithLimit(4, 8)
	if _, err := g.Write([]byte("1234")); err != nil {
		t.Fatalf("write within limit: %v", err)
	}
	if _, err := g.Write([]byte("12345")); !errors.Is(err, ErrNoOutputSpace) {
		t.Fatalf("write over limit = %v, want ErrNoOutputSpace", err)
	}
	if g.Len() != 4 {
		t.Fatalf("len after rejected write = %d, want 4 (unchanged)", g.Len())
	}

	g.Reset()
	if _, err := g.Write([]byte("12345678")); err != nil {
		t.Fatalf("write exactly at limit: %v", err)
	}
}

func TestDecodeLineBGRX32(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src := []byte{
		0x10, 0x20, 0x30, 0x00, // pixel 0: B=0x10 G=0x20 R=0x30
		0x40, 0x50, 0x60, 0x00, // pixel 1
	}
	n, err := DecodeLine(img, 0, 2, FormatBGRX32, src)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 8 {
		t.Fatalf("consumed %d bytes, want 8", n)
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if uint8(r>>8) != 0x30 || uint8(g>>8) != 0x20 || uint8(b>>8) != 0x10 || uint8(a>>8) != 0xff {
		t.Errorf("pixel 0 = %02x,%02x,%02x,%02x, want 30,20,10,ff", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestDecodeLineShortChunk(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	_, err := DecodeLine(img, 0, 4, FormatBGR24, []byte{1, 2, 3})
	if err != ErrShortChunk {
		t.Fatalf("err = %v, want ErrShortChunk", err)
	}
}

func TestDecodeLineUnsupportedFormat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	_, err := DecodeLine(img, 0, 1, PixelFormat(99), []byte{0, 0})
	if err != ErrUnsupportedFormat {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExpand565RoundTripsPureChannels(t *testing.T) {
	cases := []struct {
		word          uint16
		r, g, b uint8
	}{
		{0xF800, 0xff, 0x00, 0x00}, // pure red
		{0x07E0, 0x00, 0xff, 0x00}, // pure green
		{0x001F, 0x00, 0x00, 0xff}, // pure blue
		{0x0000, 0x00, 0x00, 0x00},
		{0xFFFF, 0xff, 0xff, 0xff},
	}
	for _, c := range cases {
		got := expand565(c.word)
		if got.R != c.r || got.G != c.g || got.B != c.b {
			t.Errorf("expand565(%04x) = %v, want {%02x %02x %02x}", c.word, got, c.r, c.g, c.b)
		}
	}
}

func TestEncodeProducesDecodableJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, image.White)
		}
	}
	g := NewGrowBuffer(0)
	if err := Encode(g, img, 80); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if g.Len() == 0 {
		t.Fatalf("encode produced no bytes")
	}
	if _, err := jpeg.Decode(bytes.NewReader(g.Bytes())); err != nil {
		t.Fatalf("produced JPEG failed to decode: %v", err)
	}
}

func TestQualityForIDClamps(t *testing.T) {
	if got := QualityForID(0); got != 1 {
		t.Errorf("QualityForID(0) = %d, want 1", got)
	}
	if got := QualityForID(150); got != 100 {
		t.Errorf("QualityForID(150) = %d, want 100", got)
	}
	if got := QualityForID(85); got != 85 {
		t.Errorf("QualityForID(85) = %d, want 85", got)
	}
}
