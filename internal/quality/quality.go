// Package quality computes numeric similarity metrics between two canvases.
package quality

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"snapdiff/pkg/colorutil"
)

// ErrScorerUnavailable reports that no perceptual score could be produced.
var ErrScorerUnavailable = errors.New("perceptual scorer unavailable")

// Default perceptual scoring parameters.
const (
	DefaultWindowSize = 7
	DefaultBitDepth   = 8
)

// Scorer produces a perceptual similarity score for two same-sized
// canvases. 1.0 means identical.
type Scorer interface {
	Score(ctx context.Context, a, b *image.RGBA, windowSize, bitDepth int) (float64, error)
}

// Options configures the perceptual score.
type Options struct {
	WindowSize int
	BitDepth   int
}

// Report holds the metrics for one canvas pair.
type Report struct {
	MSE  float64
	PSNR float64 // +Inf when the canvases are identical

	// Perceptual is nil when no scorer is configured or the scorer failed.
	Perceptual *float64
	// ScorerErr explains a nil Perceptual when a scorer was configured.
	ScorerErr error
}

// Compute returns MSE and PSNR over Rec.601 luma plus the optional
// perceptual score. A scorer failure never fails the computation.
func Compute(ctx context.Context, a, b *image.RGBA, scorer Scorer, opts Options) (Report, error) {
	if a.Bounds() != b.Bounds() {
		return Report{}, fmt.Errorf("canvas size mismatch: %v vs %v", a.Bounds(), b.Bounds())
	}

	mse := MSE(a, b)
	rep := Report{MSE: mse, PSNR: PSNR(mse)}

	if scorer == nil {
		return rep, nil
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.BitDepth <= 0 {
		opts.BitDepth = DefaultBitDepth
	}

	score, err := scorer.Score(ctx, a, b, opts.WindowSize, opts.BitDepth)
	if err != nil {
		if !errors.Is(err, ErrScorerUnavailable) {
			err = fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
		}
		rep.ScorerErr = err
		return rep, nil
	}
	if math.IsNaN(score) {
		rep.ScorerErr = fmt.Errorf("%w: score is NaN", ErrScorerUnavailable)
		return rep, nil
	}
	rep.Perceptual = &score
	return rep, nil
}

// MSE returns the mean squared luma difference of two same-sized canvases.
func MSE(a, b *image.RGBA) float64 {
	width, height := a.Bounds().Dx(), a.Bounds().Dy()
	n := width * height
	if n == 0 {
		return 0
	}

	d := make([]float64, n)
	for y := 0; y < height; y++ {
		ra := a.Pix[y*a.Stride:]
		rb := b.Pix[y*b.Stride:]
		for x := 0; x < width; x++ {
			d[y*width+x] = colorutil.LumaAt(ra, 4*x) - colorutil.LumaAt(rb, 4*x)
		}
	}
	return floats.Dot(d, d) / float64(n)
}

// PSNR converts an 8-bit MSE into peak signal-to-noise ratio in dB.
func PSNR(mse float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(255*255/mse)
}
