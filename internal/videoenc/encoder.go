package videoenc

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gocast/mjpegrc/internal/codec"
	"github.com/gocast/mjpegrc/internal/ratectl"
)

// Encoder is the surrounding video-encoder interface spec.md §1 places out
// of scope: it owns the actual JPEG codec call and a VideoBuffer, and
// composes a ratectl.Controller for the admission/quality decisions.
// Tagged-variant design note (§9): a second codec (e.g. VP8) would be a
// second implementation of this interface sharing the same Controller.
type Encoder interface {
	// EncodeFrame offers one captured frame for the current media time. It
	// returns false if the controller's admission gate dropped it.
	EncodeFrame(frameMMTime ratectl.MMTime, src *SourceBitmap) (bool, error)
	// Buffer returns the most recently written compressed frame.
	Buffer() *VideoBuffer
	// Controller exposes the underlying rate-control core for feedback
	// wiring and stats reporting.
	Controller() *ratectl.Controller
}

// Overlay draws a single-line diagnostic string onto a frame before
// encode: the "visible, testable side channel" for the controller's own
// decisions (current quality id / fps / byte rate), grounded on the
// other_examples MJPEG annotation idiom (font.Drawer + basicfont over an
// *image.RGBA).
type Overlay struct {
	Text  func() string
	Color color.RGBA
}

func (o Overlay) draw(img *image.RGBA) {
	if o.Text == nil {
		return
	}
	text := o.Text()
	if text == "" {
		return
	}
	c := o.Color
	if c == (color.RGBA{}) {
		c = color.RGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xff}
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(4), Y: fixed.I(14)},
	}
	d.DrawString(text)
}

// mjpegEncoder is the JPEG implementation of Encoder.
type mjpegEncoder struct {
	ctl     *ratectl.Controller
	dst     *codec.GrowBuffer
	buf     VideoBuffer
	seq     uint64
	overlay Overlay

	// target is the negotiated output rectangle; source frames of any other
	// size are scaled to it via golang.org/x/image/draw before handing
	// scanlines to the JPEG codec.
	target image.Rectangle
}

// NewMJPEGEncoder builds an Encoder around a freshly constructed
// ratectl.Controller (spec.md §6 "new").
func NewMJPEGEncoder(startingBitRateBps uint64, callbacks ratectl.Callbacks, targetW, targetH int, overlay Overlay) Encoder {
	// A JPEG stream never legitimately exceeds its uncompressed source size;
	// cap the output buffer there (with a floor for tiny frames) so a
	// corrupt/pathological encode aborts with ErrNoOutputSpace instead of
	// growing without bound.
	maxOutput := targetW * targetH * 4
	if maxOutput < 256*1024 {
		maxOutput = 256 * 1024
	}
	return &mjpegEncoder{
		ctl:     ratectl.New(startingBitRateBps, callbacks),
		dst:     codec.NewGrowBufferWithLimit(256*1024, maxOutput),
		overlay: overlay,
		target:  image.Rect(0, 0, targetW, targetH),
	}
}

func (e *mjpegEncoder) Controller() *ratectl.Controller { return e.ctl }
func (e *mjpegEncoder) Buffer() *VideoBuffer             { return &e.buf }

func (e *mjpegEncoder) EncodeFrame(frameMMTime ratectl.MMTime, src *SourceBitmap) (bool, error) {
	decision := e.ctl.BeginFrame(frameMMTime)
	if decision.Status == ratectl.Drop {
		return false, nil
	}

	img := e.fitToTarget(src.Image())
	e.overlay.draw(img)

	if err := codec.Encode(e.dst, img, qualityValue(decision.QualityID)); err != nil {
		e.ctl.FrameFailed()
		return false, err
	}

	e.seq++
	e.buf.Set(e.dst.Bytes(), decision.QualityID, e.seq)
	e.ctl.FrameEncoded(uint64(e.dst.Len()))
	return true, nil
}

// fitToTarget scales src to fill the negotiated output rectangle using
// golang.org/x/image/draw's CatmullRom scaler; the aspect ratio is not
// preserved and no letterboxing or cropping is applied. The grounding file
// uses the same library for its draw.Draw compositing step (here used for
// resampling rather than a flat copy, since source and target dimensions
// can differ).
func (e *mjpegEncoder) fitToTarget(src *image.RGBA) *image.RGBA {
	if src.Bounds().Dx() == e.target.Dx() && src.Bounds().Dy() == e.target.Dy() {
		return src
	}
	dst := image.NewRGBA(e.target)
	draw.CatmullRom.Scale(dst, e.target, src, src.Bounds(), draw.Over, nil)
	return dst
}

// qualityValue maps a ratectl quality id to its JPEG quality percentage by
// indexing the exported ratectl.QualityTable; out-of-range ids are clamped
// to the nearest end of the table.
func qualityValue(id int) int {
	return ratectl.QualityTable[clampQualityIndex(id)]
}

func clampQualityIndex(id int) int {
	if id < 0 {
		return 0
	}
	if id >= len(ratectl.QualityTable) {
		return len(ratectl.QualityTable) - 1
	}
	return id
}
