package motion

import (
	"image"

	"snapdiff/pkg/colorutil"
	"snapdiff/pkg/geometry"
)

// Plane is a single-channel luma copy of a canvas.
type Plane struct {
	Width  int
	Height int
	V      []float64
}

// NewPlane computes the Rec.601 luma of every pixel of img.
func NewPlane(img *image.RGBA) *Plane {
	b := img.Bounds()
	p := &Plane{Width: b.Dx(), Height: b.Dy(), V: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < p.Width; x++ {
			p.V[y*p.Width+x] = colorutil.LumaAt(row, 4*x)
		}
	}
	return p
}

// window copies the values under r into dst, which must hold r.W*r.H
// values. r must lie inside the plane.
func (p *Plane) window(r geometry.Rect, dst []float64) {
	for y := 0; y < r.H; y++ {
		src := p.V[(r.Y+y)*p.Width+r.X:]
		copy(dst[y*r.W:(y+1)*r.W], src[:r.W])
	}
}
