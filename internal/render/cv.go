package render

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"snapdiff/internal/cvutil"
	"snapdiff/internal/diff"
	"snapdiff/internal/region"
	"snapdiff/pkg/colorutil"
)

// CV annotates through OpenCV: antialiased labels and a blended heat layer.
type CV struct {
	opts Options
}

// NewCV creates the OpenCV annotator.
func NewCV(opts Options) *CV {
	return &CV{opts: opts}
}

var _ Annotator = (*CV)(nil)

// Annotate implements Annotator.
func (a *CV) Annotate(canvas *image.RGBA, mask *diff.Mask, matches []region.Match) (*image.RGBA, error) {
	bounds := canvas.Bounds()
	if mask.Width != bounds.Dx() || mask.Height != bounds.Dy() {
		return nil, fmt.Errorf("mask %dx%d does not match canvas %v", mask.Width, mask.Height, bounds)
	}

	base, err := cvutil.ToBGR(canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to convert canvas: %w", err)
	}
	defer base.Close()

	// Paint changed pixels in the heat color on a copy, then blend.
	heat := base.Clone()
	defer heat.Close()
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.Pix[y*mask.Width+x] == 0 {
				continue
			}
			heat.SetUCharAt(y, x*3+0, colorutil.Heat.B)
			heat.SetUCharAt(y, x*3+1, colorutil.Heat.G)
			heat.SetUCharAt(y, x*3+2, colorutil.Heat.R)
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AddWeighted(heat, a.opts.HeatOpacity, base, 1.0-a.opts.HeatOpacity, 0, &dst)

	thickness := max(1, a.opts.OutlineWidth)
	for _, m := range matches {
		col := MatchColor(m.Type)
		if m.Type == region.Moved && m.Old != nil {
			gocv.Rectangle(&dst, m.Old.ImageRect(), darken(col, 0.4), 1)
		}
		rect := m.Box().ImageRect()
		gocv.Rectangle(&dst, rect, col, thickness)

		if a.opts.Labels {
			labelPos := image.Point{X: rect.Min.X, Y: rect.Min.Y - 5}
			if labelPos.Y < 15 {
				labelPos.Y = rect.Max.Y + 15
			}
			gocv.PutText(&dst, Label(m), labelPos, gocv.FontHersheyPlain, 1.0, col, 1)
		}
	}

	out, err := cvutil.ToRGBA(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to convert annotated image: %w", err)
	}
	return out, nil
}
