package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"certmill/internal/pkg/logger"
)

// Compositor applies a full placeholder layout to one template image
// and one record, producing a single rendered frame. It holds no
// per-batch state: everything that varies between calls is a Render
// argument, so one compositor is safe for concurrent use.
type Compositor struct {
	fonts        *FontResolver
	fallbackFont string
	log          *logger.Logger
}

// NewCompositor wires a compositor over a font resolver. fallbackFont
// is the service-wide font for calls that supply no default of their
// own; it is fixed at construction.
func NewCompositor(fonts *FontResolver, fallbackFont string, log *logger.Logger) *Compositor {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Compositor{
		fonts:        fonts,
		fallbackFont: fallbackFont,
		log:          log.WithComponent("compositor"),
	}
}

// Render draws every placeholder's text over the template. defaultFont
// is this call's font for placeholders that declare none; the caller
// owns that selection. Placeholders are independent: a missing field
// or failed fit on one never affects the others, and every key in the
// layout is drawn (possibly as empty text). The template itself is
// never mutated.
func (c *Compositor) Render(tpl image.Image, layout Layout, rec Record, defaultFont string) (*image.RGBA, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	bounds := tpl.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(img, img.Bounds(), tpl, bounds.Min, draw.Src)

	for _, key := range layout.keys() {
		c.drawPlaceholder(img, layout[key], rec, defaultFont)
	}
	return img, nil
}

func (c *Compositor) drawPlaceholder(img *image.RGBA, spec PlaceholderSpec, rec Record, defaultFont string) {
	text := placeholderText(spec, rec)
	fill := parseHexColor(spec.Color)
	fontName := spec.Font
	if fontName == "" {
		fontName = defaultFont
	}
	if fontName == "" {
		fontName = c.fallbackFont
	}

	// Unconstrained box: draw at the anchor point with the initial size.
	if spec.Width == 0 || spec.Height == 0 {
		face := c.fonts.Face(fontName, spec.initialSize())
		drawText(img, face, text, spec.X, spec.Y, fill)
		return
	}

	padding := int(float64(spec.Width) * 0.03)
	if padding < 4 {
		padding = 4
	}
	maxWidth := spec.Width - 2*padding
	if maxWidth < 1 {
		maxWidth = 1
	}

	face, tw, th := c.fonts.FitText(text, fontName, maxWidth, spec.initialSize())

	// Center inside the box using the measured dimensions.
	tx := spec.X + (spec.Width-tw)/2
	ty := spec.Y + (spec.Height-th)/2
	drawText(img, face, text, tx, ty, fill)

	if spec.Underline {
		underlineY := ty + th + 2
		lineRect := image.Rect(tx, underlineY, tx+tw, underlineY+2)
		draw.Draw(img, lineRect, image.NewUniform(fill), image.Point{}, draw.Src)
	}
}

// drawText renders text with (x, y) as the top-left of its box, the
// way box math above expects, by offsetting the baseline by the ascent.
func drawText(dst *image.RGBA, face font.Face, text string, x, y int, fill color.Color) {
	if text == "" {
		return
	}
	ascent := face.Metrics().Ascent.Ceil()
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fill),
		Face: face,
		Dot:  fixed.P(x, y+ascent),
	}
	d.DrawString(text)
}
