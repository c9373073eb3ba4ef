// Package geometry provides basic geometric types used throughout the engine.
package geometry

import "image"

// Rect represents an axis-aligned rectangle with integer coordinates.
// X, Y is the top-left corner; the rectangle covers [X, X+W) × [Y, Y+H).
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// NewRect creates a new Rect.
func NewRect(x, y, w, h int) Rect {
	return Rect{X: x, Y: y, W: w, H: h}
}

// ImageRect converts to an image.Rectangle.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Area returns W*H, or 0 for degenerate rectangles.
func (r Rect) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// MaxX returns the exclusive right edge.
func (r Rect) MaxX() int { return r.X + r.W }

// MaxY returns the exclusive bottom edge.
func (r Rect) MaxY() int { return r.Y + r.H }

// Within reports whether r lies fully inside a width×height canvas.
func (r Rect) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= width && r.Y+r.H <= height
}

// Intersect returns the overlapping rectangle, which is empty when the two
// rectangles do not overlap.
func (r Rect) Intersect(other Rect) Rect {
	left := max(r.X, other.X)
	right := min(r.X+r.W, other.X+other.W)
	top := max(r.Y, other.Y)
	bottom := min(r.Y+r.H, other.Y+other.H)

	if left >= right || top >= bottom {
		return Rect{}
	}
	return Rect{X: left, Y: top, W: right - left, H: bottom - top}
}

// Inset grows (positive n) or shrinks (negative n) the rectangle on every side.
func (r Rect) Inset(n int) Rect {
	return Rect{X: r.X - n, Y: r.Y - n, W: r.W + 2*n, H: r.H + 2*n}
}

// Clip restricts the rectangle to a width×height canvas.
func (r Rect) Clip(width, height int) Rect {
	return r.Intersect(Rect{W: width, H: height})
}

// Translate returns the rectangle moved by (dx, dy).
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// IoU returns the intersection-over-union of two rectangles in [0, 1].
// Two empty rectangles have an IoU of 0.
func IoU(a, b Rect) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Vector is a floating-point displacement.
type Vector struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}
