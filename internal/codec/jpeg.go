package codec

import (
	"image"
	"image/jpeg"
)

// QualityForID maps a ratectl quality_id's table value (already an
// image/jpeg quality percentage, 1-100) straight through; kept as a named
// function so callers never hardcode the image/jpeg option key.
func QualityForID(qualityValue int) int {
	if qualityValue < 1 {
		return 1
	}
	if qualityValue > 100 {
		return 100
	}
	return qualityValue
}

// Encode compresses img at the given JPEG quality into dst, reusing dst's
// backing array across calls (spec §9 "growable output buffer").
func Encode(dst *GrowBuffer, img image.Image, quality int) error {
	dst.Reset()
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: QualityForID(quality)})
}
