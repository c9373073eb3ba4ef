// Package colorutil provides shared color utilities for the diff engine.
package colorutil

import (
	"image/color"
)

// Overlay colors used by the annotation renderers.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Added   = color.RGBA{R: 0, G: 170, B: 0, A: 255}
	Removed = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	Moved   = color.RGBA{R: 0, G: 90, B: 255, A: 255}
	Heat    = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)

// Rec.601 luma weights.
const (
	LumaR = 0.299
	LumaG = 0.587
	LumaB = 0.114
)

// Luma returns the perceptual brightness (0-255) of an 8-bit RGB triple.
func Luma(r, g, b uint8) float64 {
	return LumaR*float64(r) + LumaG*float64(g) + LumaB*float64(b)
}

// LumaAt returns the luma of the pixel at byte offset i of an RGBA buffer.
func LumaAt(pix []uint8, i int) float64 {
	return LumaR*float64(pix[i]) + LumaG*float64(pix[i+1]) + LumaB*float64(pix[i+2])
}

// SumRGB returns R+G+B of the pixel at byte offset i of an RGBA buffer.
func SumRGB(pix []uint8, i int) int {
	return int(pix[i]) + int(pix[i+1]) + int(pix[i+2])
}

// Blend mixes src over dst with the given opacity (0.0 - 1.0).
func Blend(dst, src color.RGBA, opacity float64) color.RGBA {
	if opacity <= 0 {
		return dst
	}
	if opacity > 1 {
		opacity = 1
	}
	mix := func(d, s uint8) uint8 {
		return uint8(float64(d)*(1-opacity) + float64(s)*opacity + 0.5)
	}
	return color.RGBA{
		R: mix(dst.R, src.R),
		G: mix(dst.G, src.G),
		B: mix(dst.B, src.B),
		A: 255,
	}
}
