package render

import (
	"golang.org/x/image/font"
)

const (
	// minFontSize is the floor below which fitting gives up.
	minFontSize = 4
	// maxFitAttempts bounds the shrink loop.
	maxFitAttempts = 200
)

// measureText returns the pixel width and height of text at face.
func measureText(face font.Face, text string) (w, h int) {
	adv := font.MeasureString(face, text)
	m := face.Metrics()
	return adv.Ceil(), (m.Ascent + m.Descent).Ceil()
}

// FitText picks the largest font size no greater than initial whose
// rendered width fits maxWidth, shrinking one point at a time. The
// search stops at the size floor or after maxFitAttempts steps, so the
// returned text may still exceed maxWidth in the degenerate case.
//
// Linear rather than binary search: sizes are small and this runs once
// per placeholder per record.
func (r *FontResolver) FitText(text, name string, maxWidth, initial int) (font.Face, int, int) {
	size := initial
	face := r.Face(name, size)
	w, h := measureText(face, text)

	for attempts := 0; w > maxWidth && size > minFontSize && attempts < maxFitAttempts; attempts++ {
		size--
		if size < minFontSize {
			size = minFontSize
		}
		face = r.Face(name, size)
		w, h = measureText(face, text)
	}
	return face, w, h
}
