// Package motion estimates how far a changed region travelled between two
// canvases using normalized cross-correlation of luma.
package motion

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"snapdiff/pkg/geometry"
)

// flatVariance is the variance below which a block is treated as flat and
// cannot be correlated.
const flatVariance = 1e-9

// Config bounds the correlation searches.
type Config struct {
	// TemplateMargin pads the old region so solid shapes keep their edges.
	TemplateMargin int
	// SearchRadius is the half-width of the template search window.
	SearchRadius int
	// MaxTemplateSide caps template width and height.
	MaxTemplateSide int

	BlockSize     int
	BlockRadius   int
	MinBlockScore float64
}

// DefaultConfig returns search bounds suited to screenshot-sized canvases.
func DefaultConfig() Config {
	return Config{
		TemplateMargin:  4,
		SearchRadius:    40,
		MaxTemplateSide: 128,
		BlockSize:       16,
		BlockRadius:     8,
		MinBlockScore:   0.5,
	}
}

// Estimate is a refined displacement of a region from the old canvas to
// the new one.
type Estimate struct {
	// DX, DY is the mean displacement of the supporting blocks.
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`

	// TemplateDX, TemplateDY is the best whole-template offset.
	TemplateDX int     `json:"templateDx"`
	TemplateDY int     `json:"templateDy"`
	Score      float64 `json:"score"`

	SupportingBlocks int `json:"supportingBlocks"`
}

// Vector returns the smoothed displacement.
func (e *Estimate) Vector() geometry.Vector {
	return geometry.Vector{DX: e.DX, DY: e.DY}
}

// Refiner runs template and block correlation searches.
type Refiner struct {
	cfg Config
}

// NewRefiner creates a refiner; non-positive fields fall back to defaults.
func NewRefiner(cfg Config) *Refiner {
	def := DefaultConfig()
	if cfg.TemplateMargin < 0 {
		cfg.TemplateMargin = def.TemplateMargin
	}
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = def.SearchRadius
	}
	if cfg.MaxTemplateSide <= 0 {
		cfg.MaxTemplateSide = def.MaxTemplateSide
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	if cfg.BlockRadius <= 0 {
		cfg.BlockRadius = def.BlockRadius
	}
	if cfg.MinBlockScore <= 0 {
		cfg.MinBlockScore = def.MinBlockScore
	}
	return &Refiner{cfg: cfg}
}

// Config returns the effective configuration.
func (r *Refiner) Config() Config { return r.cfg }

// Refine estimates where the content of oldRect in older went to in newer.
// The template search is centred on oldRect shifted by guess. It returns
// nil when no sub-block correlates above the confidence floor.
func (r *Refiner) Refine(older, newer *Plane, oldRect geometry.Rect, guess image.Point) *Estimate {
	if older.Width != newer.Width || older.Height != newer.Height {
		return nil
	}

	tpl := oldRect.Inset(r.cfg.TemplateMargin).Clip(older.Width, older.Height)
	tpl.W = min(tpl.W, r.cfg.MaxTemplateSide)
	tpl.H = min(tpl.H, r.cfg.MaxTemplateSide)
	if tpl.Empty() {
		return nil
	}

	offset, score, ok := search(older, newer, tpl, guess, r.cfg.SearchRadius)
	if !ok {
		return nil
	}

	est := &Estimate{TemplateDX: offset.X, TemplateDY: offset.Y, Score: score}

	// Block motion around the template offset
	var sumX, sumY float64
	for _, block := range subdivide(tpl, r.cfg.BlockSize) {
		v, s, ok := search(older, newer, block, offset, r.cfg.BlockRadius)
		if !ok || s < r.cfg.MinBlockScore {
			continue
		}
		sumX += float64(v.X)
		sumY += float64(v.Y)
		est.SupportingBlocks++
	}

	if est.SupportingBlocks == 0 {
		return nil
	}
	est.DX = sumX / float64(est.SupportingBlocks)
	est.DY = sumY / float64(est.SupportingBlocks)
	return est
}

// search slides the block src of older over newer within ±radius of
// center and returns the offset with the highest NCC. Offsets are visited
// row-major so ties keep the first one found.
func search(older, newer *Plane, src geometry.Rect, center image.Point, radius int) (image.Point, float64, bool) {
	n := src.W * src.H
	tpl := make([]float64, n)
	older.window(src, tpl)

	mean, variance := stat.PopMeanVariance(tpl, nil)
	if variance < flatVariance {
		return image.Point{}, 0, false
	}
	// Normalize the template once; each candidate then needs one dot product.
	floats.AddConst(-mean, tpl)
	floats.Scale(1/math.Sqrt(variance), tpl)

	win := make([]float64, n)
	best := image.Point{}
	bestScore := math.Inf(-1)
	found := false

	for dy := center.Y - radius; dy <= center.Y+radius; dy++ {
		for dx := center.X - radius; dx <= center.X+radius; dx++ {
			cand := src.Translate(dx, dy)
			if !cand.Within(newer.Width, newer.Height) {
				continue
			}
			newer.window(cand, win)
			s := ncc(tpl, win)
			if s > bestScore {
				best = image.Point{X: dx, Y: dy}
				bestScore = s
				found = true
			}
		}
	}

	if !found {
		return image.Point{}, 0, false
	}
	return best, bestScore, true
}

// ncc scores a normalized template against a raw window. A flat window
// scores 0.
func ncc(tpl, win []float64) float64 {
	_, variance := stat.PopMeanVariance(win, nil)
	if variance < flatVariance {
		return 0
	}
	// The template sums to zero, so the window mean drops out of the dot
	// product.
	return floats.Dot(tpl, win) / (float64(len(win)) * math.Sqrt(variance))
}

// subdivide tiles r with blocks of roughly size×size. A side shorter than
// two blocks forms a single block; leftover pixels join the last block.
func subdivide(r geometry.Rect, size int) []geometry.Rect {
	nx := max(1, r.W/size)
	ny := max(1, r.H/size)
	blocks := make([]geometry.Rect, 0, nx*ny)

	for j := 0; j < ny; j++ {
		y := r.Y + j*size
		h := size
		if j == ny-1 {
			h = r.MaxY() - y
		}
		for i := 0; i < nx; i++ {
			x := r.X + i*size
			w := size
			if i == nx-1 {
				w = r.MaxX() - x
			}
			blocks = append(blocks, geometry.NewRect(x, y, w, h))
		}
	}
	return blocks
}
