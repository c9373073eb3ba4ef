package raster

import (
	"image"
	"image/color"
	"image/draw"

	"snapdiff/pkg/colorutil"
)

// DefaultBackground is the fill used for canvas area outside a snapshot.
var DefaultBackground = colorutil.White

// Align places both snapshots on a shared canvas of size
// max(w1,w2) × max(h1,h2). Each snapshot is copied unscaled at the origin
// onto an opaque background; nothing is cropped.
func Align(older, newer *Snapshot, bg color.RGBA) (*image.RGBA, *image.RGBA, error) {
	if err := older.Validate(); err != nil {
		return nil, nil, err
	}
	if err := newer.Validate(); err != nil {
		return nil, nil, err
	}

	width := max(older.Width, newer.Width)
	height := max(older.Height, newer.Height)

	return compose(older, width, height, bg), compose(newer, width, height, bg), nil
}

// compose renders one snapshot onto a background-filled canvas.
// Translucent snapshot pixels are composited over the background.
func compose(s *Snapshot, width, height int, bg color.RGBA) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))

	bg.A = 255
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 0, s.Width, s.Height), s.Image(), image.Point{}, draw.Over)

	return canvas
}
