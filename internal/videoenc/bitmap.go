package videoenc

import (
	"errors"
	"image"

	"github.com/gocast/mjpegrc/internal/codec"
)

// ErrDimensionMismatch is returned when a SourceBitmap's negotiated size
// doesn't match the chunk data handed to AppendChunk.
var ErrDimensionMismatch = errors.New("videoenc: chunk does not cover the negotiated width")

// SourceBitmap accumulates scanline chunks from the source producer (spec
// §1's "surrounding video-encoder interface") into a decodable frame. The
// producer may deliver a frame in several chunks; DecodeLine is applied
// per chunk rather than buffering the whole raw frame first.
type SourceBitmap struct {
	Width, Height int
	Format        codec.PixelFormat

	rgba     *image.RGBA
	nextLine int
}

// NewSourceBitmap allocates a bitmap with the negotiated dimensions and
// pixel format.
func NewSourceBitmap(width, height int, format codec.PixelFormat) *SourceBitmap {
	return &SourceBitmap{
		Width:  width,
		Height: height,
		Format: format,
		rgba:   newRGBA(width, height),
	}
}

// Reset rewinds the bitmap to accept a new frame's chunks without
// reallocating the backing RGBA image.
func (b *SourceBitmap) Reset() {
	b.nextLine = 0
}

// AppendChunk decodes one or more whole scanlines from raw into the
// bitmap, advancing the internal line cursor. raw's length must be a
// multiple of one scanline's byte size.
func (b *SourceBitmap) AppendChunk(raw []byte) error {
	lineBytes := b.Width * codec.BytesPerPixel(b.Format)
	if lineBytes == 0 || len(raw)%lineBytes != 0 {
		return ErrDimensionMismatch
	}
	lines := len(raw) / lineBytes
	for i := 0; i < lines; i++ {
		if b.nextLine >= b.Height {
			return ErrDimensionMismatch
		}
		chunk := raw[i*lineBytes : (i+1)*lineBytes]
		if _, err := codec.DecodeLine(b.rgba, b.nextLine, b.Width, b.Format, chunk); err != nil {
			return err
		}
		b.nextLine++
	}
	return nil
}

// Complete reports whether every scanline for the current frame has
// arrived.
func (b *SourceBitmap) Complete() bool { return b.nextLine >= b.Height }

// Image returns the decoded RGBA image for the current frame. Only valid
// once Complete reports true.
func (b *SourceBitmap) Image() *image.RGBA { return b.rgba }

func newRGBA(width, height int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}
