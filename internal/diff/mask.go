// Package diff computes changed-pixel masks from two aligned canvases.
package diff

import (
	"image"

	"snapdiff/pkg/colorutil"
	"snapdiff/pkg/geometry"
)

// Mask marks changed pixels. A zero byte is unchanged; 1-255 is the
// change intensity. Pix is row-major with a stride of Width.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates an all-zero mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the intensity at (x, y), or 0 outside the mask.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set writes the intensity at (x, y). Out-of-range coordinates are ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of changed pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Clear zeroes every pixel inside r and returns how many were changed.
func (m *Mask) Clear(r geometry.Rect) int {
	r = r.Clip(m.Width, m.Height)
	cleared := 0
	for y := r.Y; y < r.MaxY(); y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.X; x < r.MaxX(); x++ {
			if row[x] != 0 {
				row[x] = 0
				cleared++
			}
		}
	}
	return cleared
}

// Image returns the mask as a grayscale image (white = strongest change).
func (m *Mask) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Pix)
	return img
}

// IgnoreMaskFromImage converts an ignore-mask image into a Mask. Opaque
// light pixels (luma above mid-gray) mark coordinates to ignore.
func IgnoreMaskFromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a == 0 {
				continue
			}
			if colorutil.Luma(uint8(r>>8), uint8(g>>8), uint8(bl>>8)) > 127 {
				m.Pix[y*m.Width+x] = 255
			}
		}
	}
	return m
}
