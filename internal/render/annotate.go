// Package render draws diagnostic images for a page comparison.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"snapdiff/internal/diff"
	"snapdiff/internal/region"
	"snapdiff/pkg/colorutil"
	"snapdiff/pkg/geometry"
)

// Annotator draws changed regions onto a copy of the newer canvas.
// Implementations must not modify their inputs.
type Annotator interface {
	Annotate(canvas *image.RGBA, mask *diff.Mask, matches []region.Match) (*image.RGBA, error)
}

// Options configures annotation.
type Options struct {
	HeatOpacity  float64 // peak opacity of the heat overlay (0.0 - 1.0)
	OutlineWidth int     // box outline width in pixels
	Labels       bool    // draw match type labels
}

// DefaultOptions returns default annotation options.
func DefaultOptions() Options {
	return Options{
		HeatOpacity:  0.6,
		OutlineWidth: 2,
		Labels:       true,
	}
}

// MatchColor returns the outline color for a match type.
func MatchColor(t region.MatchType) color.RGBA {
	switch t {
	case region.Added:
		return colorutil.Added
	case region.Removed:
		return colorutil.Removed
	default:
		return colorutil.Moved
	}
}

// Label returns the caption drawn next to a match box.
func Label(m region.Match) string {
	if m.Motion != nil {
		return fmt.Sprintf("%s %+.0f,%+.0f", m.Type, m.Motion.DX, m.Motion.DY)
	}
	return string(m.Type)
}

// Builtin draws directly into the pixel buffer with no external dependencies
// beyond the bundled bitmap font.
type Builtin struct {
	opts Options
}

// NewBuiltin creates the buffer-drawing annotator.
func NewBuiltin(opts Options) *Builtin {
	return &Builtin{opts: opts}
}

var _ Annotator = (*Builtin)(nil)

// Annotate implements Annotator.
func (b *Builtin) Annotate(canvas *image.RGBA, mask *diff.Mask, matches []region.Match) (*image.RGBA, error) {
	bounds := canvas.Bounds()
	if mask.Width != bounds.Dx() || mask.Height != bounds.Dy() {
		return nil, fmt.Errorf("mask %dx%d does not match canvas %v", mask.Width, mask.Height, bounds)
	}

	out := image.NewRGBA(bounds)
	copy(out.Pix, canvas.Pix)

	// Heat overlay scaled by change intensity
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			v := mask.Pix[y*mask.Width+x]
			if v == 0 {
				continue
			}
			opacity := b.opts.HeatOpacity * (0.4 + 0.6*float64(v)/255)
			i := out.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			dst := color.RGBA{out.Pix[i], out.Pix[i+1], out.Pix[i+2], 255}
			c := colorutil.Blend(dst, colorutil.Heat, opacity)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, 255
		}
	}

	width := max(1, b.opts.OutlineWidth)
	for _, m := range matches {
		c := MatchColor(m.Type)
		if m.Type == region.Moved && m.Old != nil {
			// Previous location, thin outline
			drawBox(out, m.Old.Rect, darken(c, 0.4), 1)
		}
		box := m.Box()
		drawBox(out, box, c, width)
		if b.opts.Labels {
			drawLabel(out, box, Label(m), c)
		}
	}

	return out, nil
}

// drawBox draws an outline of the given width just inside r.
func drawBox(img *image.RGBA, r geometry.Rect, c color.RGBA, width int) {
	for i := 0; i < width; i++ {
		if r.W-2*i <= 0 || r.H-2*i <= 0 {
			return
		}
		drawRect(img, r.X+i, r.Y+i, r.MaxX()-1-i, r.MaxY()-1-i, c)
	}
}

// drawRect draws a 1px rectangle outline with inclusive corners.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()

	// Top and bottom edges
	for x := x1; x <= x2; x++ {
		if x >= bounds.Min.X && x < bounds.Max.X {
			if y1 >= bounds.Min.Y && y1 < bounds.Max.Y {
				img.SetRGBA(x, y1, c)
			}
			if y2 >= bounds.Min.Y && y2 < bounds.Max.Y {
				img.SetRGBA(x, y2, c)
			}
		}
	}

	// Left and right edges
	for y := y1; y <= y2; y++ {
		if y >= bounds.Min.Y && y < bounds.Max.Y {
			if x1 >= bounds.Min.X && x1 < bounds.Max.X {
				img.SetRGBA(x1, y, c)
			}
			if x2 >= bounds.Min.X && x2 < bounds.Max.X {
				img.SetRGBA(x2, y, c)
			}
		}
	}
}

// drawLabel writes text on a filled tab above the box, or below it when
// there is no room above.
func drawLabel(img *image.RGBA, box geometry.Rect, text string, c color.RGBA) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, text).Ceil()
	textH := face.Height

	y := box.Y - textH - 1
	if y < img.Bounds().Min.Y {
		y = box.MaxY() + 1
	}
	tab := image.Rect(box.X, y, box.X+textW+4, y+textH+1)
	draw.Draw(img, tab, image.NewUniform(c), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorutil.White),
		Face: face,
		Dot:  fixed.P(box.X+2, y+face.Ascent),
	}
	d.DrawString(text)
}

// darken reduces the brightness of a color.
func darken(c color.RGBA, factor float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * (1 - factor)),
		G: uint8(float64(c.G) * (1 - factor)),
		B: uint8(float64(c.B) * (1 - factor)),
		A: c.A,
	}
}
