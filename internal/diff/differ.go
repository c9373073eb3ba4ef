package diff

import (
	"fmt"
	"image"
	"image/color"

	"snapdiff/pkg/colorutil"
)

// DefaultThreshold is the perceptual sensitivity used when none is set.
const DefaultThreshold = 0.1

// maxYIQDelta is the largest possible YIQ color delta between two pixels.
const maxYIQDelta = 35215.0

// Options configures pixel differencing.
type Options struct {
	// Threshold in (0, 1]; smaller is more sensitive.
	Threshold float64

	// IncludeAntiAliasing counts pixels that look like edge smoothing
	// differences. When false they are excluded.
	IncludeAntiAliasing bool

	// Ignore, when set, suppresses changes wherever it is non-zero.
	// It is aligned at the canvas origin and may be smaller than the canvas.
	Ignore *Mask
}

// Stats summarizes one differencing pass.
type Stats struct {
	Changed     int // pixels marked in the mask
	AntiAliased int // changed pixels excluded as anti-aliasing
	Ignored     int // changed pixels excluded by the ignore mask
}

// Compute compares two same-sized canvases and returns the change mask.
// Both canvases must have their bounds at the origin.
func Compute(a, b *image.RGBA, opts Options) (*Mask, Stats, error) {
	if a.Bounds() != b.Bounds() {
		return nil, Stats{}, fmt.Errorf("canvas size mismatch: %v vs %v", a.Bounds(), b.Bounds())
	}
	if a.Bounds().Min != (image.Point{}) {
		return nil, Stats{}, fmt.Errorf("canvas must start at origin, got %v", a.Bounds())
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if threshold > 1 {
		threshold = 1
	}
	maxDelta := maxYIQDelta * threshold * threshold

	width, height := a.Bounds().Dx(), a.Bounds().Dy()
	mask := NewMask(width, height)
	var stats Stats

	var lumaA, lumaB []float64
	if !opts.IncludeAntiAliasing {
		lumaA = lumaPlane(a)
		lumaB = lumaPlane(b)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ia := a.PixOffset(x, y)
			ib := b.PixOffset(x, y)
			pa := a.Pix[ia : ia+4 : ia+4]
			pb := b.Pix[ib : ib+4 : ib+4]
			if pa[0] == pb[0] && pa[1] == pb[1] && pa[2] == pb[2] && pa[3] == pb[3] {
				continue
			}

			delta := colorDelta(pa, pb)
			if delta <= maxDelta {
				continue
			}

			if opts.Ignore != nil && opts.Ignore.At(x, y) != 0 {
				stats.Ignored++
				continue
			}

			if !opts.IncludeAntiAliasing &&
				(isAntiAliased(a, b, lumaA, x, y) || isAntiAliased(b, a, lumaB, x, y)) {
				stats.AntiAliased++
				continue
			}

			intensity := delta / maxYIQDelta * 255
			if intensity < 1 {
				intensity = 1
			}
			if intensity > 255 {
				intensity = 255
			}
			mask.Pix[y*width+x] = uint8(intensity)
			stats.Changed++
		}
	}

	return mask, stats, nil
}

// colorDelta returns the squared YIQ distance between two RGBA pixels,
// blending translucent pixels over white first.
func colorDelta(pa, pb []uint8) float64 {
	r1, g1, b1 := blendWhite(pa)
	r2, g2, b2 := blendWhite(pb)

	dy := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	di := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	dq := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	return 0.5053*dy*dy + 0.299*di*di + 0.1957*dq*dq
}

func blendWhite(p []uint8) (float64, float64, float64) {
	if p[3] == 255 {
		return float64(p[0]), float64(p[1]), float64(p[2])
	}
	alpha := float64(p[3]) / 255
	blend := func(c uint8) float64 { return 255 + (float64(c)-255)*alpha }
	return blend(p[0]), blend(p[1]), blend(p[2])
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

// lumaPlane returns the per-pixel luma of a canvas, blended over white
// the same way colorDelta sees it.
func lumaPlane(img *image.RGBA) []float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	plane := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			plane[y*width+x] = rgb2y(blendWhite(img.Pix[i : i+4 : i+4]))
		}
	}
	return plane
}

// isAntiAliased reports whether the pixel at (x, y) of img looks like edge
// smoothing. Its luma must lie strictly between its darkest and brightest
// neighbors, at most two neighbors may share its luma, and one of those
// extreme neighbors must sit in a flat run of at least three identical
// pixels in both img and other.
func isAntiAliased(img, other *image.RGBA, luma []float64, x, y int) bool {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	x0, x1 := max(x-1, 0), min(x+1, width-1)
	y0, y1 := max(y-1, 0), min(y+1, height-1)

	zeroes := 0
	if x == x0 || x == x1 || y == y0 || y == y1 {
		zeroes = 1
	}

	center := luma[y*width+x]
	var lo, hi float64
	var loX, loY, hiX, hiY int
	for ny := y0; ny <= y1; ny++ {
		for nx := x0; nx <= x1; nx++ {
			if nx == x && ny == y {
				continue
			}
			delta := luma[ny*width+nx] - center
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < lo:
				lo, loX, loY = delta, nx, ny
			case delta > hi:
				hi, hiX, hiY = delta, nx, ny
			}
		}
	}

	// Only darker or only brighter neighbors: not between two tones.
	if lo == 0 || hi == 0 {
		return false
	}

	return (hasManySiblings(img, loX, loY) && hasManySiblings(other, loX, loY)) ||
		(hasManySiblings(img, hiX, hiY) && hasManySiblings(other, hiX, hiY))
}

// hasManySiblings reports whether more than two of the pixel's neighbors
// are identical to it. Canvas borders count as one sibling.
func hasManySiblings(img *image.RGBA, x, y int) bool {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	x0, x1 := max(x-1, 0), min(x+1, width-1)
	y0, y1 := max(y-1, 0), min(y+1, height-1)

	zeroes := 0
	if x == x0 || x == x1 || y == y0 || y == y1 {
		zeroes = 1
	}

	i := img.PixOffset(x, y)
	p := img.Pix[i : i+4 : i+4]
	for ny := y0; ny <= y1; ny++ {
		for nx := x0; nx <= x1; nx++ {
			if nx == x && ny == y {
				continue
			}
			j := img.PixOffset(nx, ny)
			q := img.Pix[j : j+4 : j+4]
			if p[0] == q[0] && p[1] == q[1] && p[2] == q[2] && p[3] == q[3] {
				zeroes++
				if zeroes > 2 {
					return true
				}
			}
		}
	}
	return false
}

// Directional splits the changed pixels of mask by which canvas holds
// content there. Content is the summed-RGB distance from the background
// color: oldOnly marks pixels where the older canvas carries more of it,
// newOnly the reverse. Ties are marked in both.
func Directional(older, newer *image.RGBA, mask *Mask, bg color.RGBA) (oldOnly, newOnly *Mask) {
	oldOnly = NewMask(mask.Width, mask.Height)
	newOnly = NewMask(mask.Width, mask.Height)
	bgSum := int(bg.R) + int(bg.G) + int(bg.B)

	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			idx := y*mask.Width + x
			v := mask.Pix[idx]
			if v == 0 {
				continue
			}

			inkOld := abs(colorutil.SumRGB(older.Pix, older.PixOffset(x, y)) - bgSum)
			inkNew := abs(colorutil.SumRGB(newer.Pix, newer.PixOffset(x, y)) - bgSum)

			switch {
			case inkOld > inkNew:
				oldOnly.Pix[idx] = v
			case inkNew > inkOld:
				newOnly.Pix[idx] = v
			default:
				oldOnly.Pix[idx] = v
				newOnly.Pix[idx] = v
			}
		}
	}
	return oldOnly, newOnly
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
