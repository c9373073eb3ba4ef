// Package raster provides snapshot loading and canvas alignment.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

var (
	// ErrDecode reports a snapshot whose buffer does not match its
	// declared dimensions, or an image file that cannot be decoded.
	ErrDecode = errors.New("decode error")

	// ErrDimension reports a zero-area snapshot.
	ErrDimension = errors.New("dimension error")
)

// Snapshot is an immutable RGBA raster captured from a page.
// Pix is row-major with a stride of 4*Width bytes and holds
// alpha-premultiplied values, as image.RGBA does.
type Snapshot struct {
	ID     string
	Width  int
	Height int
	Pix    []uint8
}

// NewSnapshot allocates a zeroed snapshot of the given size.
func NewSnapshot(id string, width, height int) *Snapshot {
	return &Snapshot{
		ID:     id,
		Width:  width,
		Height: height,
		Pix:    make([]uint8, 4*width*height),
	}
}

// FromImage copies any image.Image into a Snapshot.
func FromImage(id string, img image.Image) *Snapshot {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Snapshot{ID: id, Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}
}

// Validate checks that the buffer is consistent with the declared size.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("nil snapshot: %w", ErrDecode)
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("snapshot %q: negative size %dx%d: %w", s.ID, s.Width, s.Height, ErrDimension)
	}
	if s.Width*s.Height == 0 {
		return fmt.Errorf("snapshot %q: zero-area %dx%d: %w", s.ID, s.Width, s.Height, ErrDimension)
	}
	if want := 4 * s.Width * s.Height; len(s.Pix) != want {
		return fmt.Errorf("snapshot %q: buffer is %d bytes, want %d for %dx%d: %w",
			s.ID, len(s.Pix), want, s.Width, s.Height, ErrDecode)
	}
	return nil
}

// Set writes an RGBA pixel. Out-of-range coordinates are ignored.
func (s *Snapshot) Set(x, y int, r, g, b, a uint8) {
	if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return
	}
	i := 4 * (y*s.Width + x)
	s.Pix[i], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3] = r, g, b, a
}

// Fill paints a rectangle with a solid color, clipped to the snapshot.
func (s *Snapshot) Fill(x0, y0, w, h int, r, g, b, a uint8) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			s.Set(x, y, r, g, b, a)
		}
	}
}

// Image returns the snapshot as an *image.RGBA sharing the pixel buffer.
func (s *Snapshot) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    s.Pix,
		Stride: 4 * s.Width,
		Rect:   image.Rect(0, 0, s.Width, s.Height),
	}
}
