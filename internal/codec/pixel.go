package codec

import (
	"errors"
	"image"
	"image/color"
)

// PixelFormat identifies the layout of one captured scanline, as reported
// by the source producer's handshake (spec §1 "surrounding video-encoder
// interface", out of this package's core but needed to get real pixels
// into it).
type PixelFormat int

const (
	// FormatBGRX32 is 4 bytes/pixel: B, G, R, padding.
	FormatBGRX32 PixelFormat = iota
	// FormatBGR24 is 3 bytes/pixel: B, G, R.
	FormatBGR24
	// FormatRGB565 is 2 bytes/pixel, 5-6-5 packed, little-endian.
	FormatRGB565
)

// ErrShortChunk is returned when a scanline chunk is shorter than one whole
// scanline (width pixels at the given format's stride).
var ErrShortChunk = errors.New("codec: scanline chunk shorter than one scanline")

// BytesPerPixel returns the source stride, in bytes, for one format. 0
// means the format is unrecognized.
func BytesPerPixel(f PixelFormat) int {
	return bytesPerPixel(f)
}

// bytesPerPixel returns the source stride for one format.
func bytesPerPixel(f PixelFormat) int {
	switch f {
	case FormatBGRX32:
		return 4
	case FormatBGR24:
		return 3
	case FormatRGB565:
		return 2
	default:
		return 0
	}
}

// ErrUnsupportedFormat is returned for a PixelFormat this package doesn't
// know how to expand.
var ErrUnsupportedFormat = errors.New("codec: unsupported pixel format")

// ParsePixelFormat maps a source handshake's format name (as configured in
// server.conf) to a PixelFormat. Unknown names fall back to FormatBGRX32.
func ParsePixelFormat(name string) PixelFormat {
	switch name {
	case "bgr24":
		return FormatBGR24
	case "rgb565":
		return FormatRGB565
	default:
		return FormatBGRX32
	}
}

// DecodeLine expands one scanline of width pixels from src (in format f)
// into dst, an *image.RGBA row starting at (0, y). It returns the number
// of source bytes consumed.
func DecodeLine(dst *image.RGBA, y int, width int, f PixelFormat, src []byte) (int, error) {
	stride := bytesPerPixel(f)
	if stride == 0 {
		return 0, ErrUnsupportedFormat
	}
	need := width * stride
	if len(src) < need {
		return 0, ErrShortChunk
	}

	rowOff := dst.PixOffset(0, y)
	row := dst.Pix[rowOff : rowOff+width*4]

	switch f {
	case FormatBGRX32:
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			d := row[x*4 : x*4+4]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
		}
	case FormatBGR24:
		for x := 0; x < width; x++ {
			s := src[x*3 : x*3+3]
			d := row[x*4 : x*4+4]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
		}
	case FormatRGB565:
		for x := 0; x < width; x++ {
			word := uint16(src[x*2]) | uint16(src[x*2+1])<<8
			c := expand565(word)
			d := row[x*4 : x*4+4]
			d[0], d[1], d[2], d[3] = c.R, c.G, c.B, 0xff
		}
	}
	return need, nil
}

// expand565 widens a packed 5-6-5 RGB word to 8 bits/channel by replicating
// the high bits into the low bits, the standard bit-replication expansion
// (avoids the systematic darkening a plain left-shift would introduce).
func expand565(word uint16) color.RGBA {
	r5 := (word >> 11) & 0x1f
	g6 := (word >> 5) & 0x3f
	b5 := word & 0x1f

	r8 := uint8(r5<<3 | r5>>2)
	g8 := uint8(g6<<2 | g6>>4)
	b8 := uint8(b5<<3 | b5>>2)
	return color.RGBA{R: r8, G: g8, B: b8, A: 0xff}
}
