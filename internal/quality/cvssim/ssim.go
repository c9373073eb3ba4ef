// Package cvssim provides an OpenCV-backed SSIM scorer.
package cvssim

import (
	"context"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"snapdiff/internal/cvutil"
	"snapdiff/internal/quality"
)

// gaussianSigma is the standard deviation of the SSIM weighting window.
const gaussianSigma = 1.5

// Scorer computes the mean structural similarity of two canvases over a
// Gaussian window.
type Scorer struct{}

// New returns an SSIM scorer.
func New() *Scorer { return &Scorer{} }

var _ quality.Scorer = (*Scorer)(nil)

// Score implements quality.Scorer. Even window sizes are rounded up.
func (s *Scorer) Score(ctx context.Context, a, b *image.RGBA, windowSize, bitDepth int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if a.Bounds() != b.Bounds() {
		return 0, fmt.Errorf("%w: canvas size mismatch", quality.ErrScorerUnavailable)
	}
	if windowSize < 3 {
		windowSize = 3
	}
	if windowSize%2 == 0 {
		windowSize++
	}
	if bitDepth <= 0 || bitDepth > 16 {
		return 0, fmt.Errorf("%w: unsupported bit depth %d", quality.ErrScorerUnavailable, bitDepth)
	}

	i1, err := cvutil.GrayFloat(a)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", quality.ErrScorerUnavailable, err)
	}
	defer i1.Close()
	i2, err := cvutil.GrayFloat(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", quality.ErrScorerUnavailable, err)
	}
	defer i2.Close()

	peak := math.Exp2(float64(bitDepth)) - 1
	c1 := float32((0.01 * peak) * (0.01 * peak))
	c2 := float32((0.03 * peak) * (0.03 * peak))
	ksize := image.Point{X: windowSize, Y: windowSize}

	blur := func(src gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.GaussianBlur(src, &dst, ksize, gaussianSigma, gaussianSigma, gocv.BorderDefault)
		return dst
	}
	product := func(x, y gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.Multiply(x, y, &dst)
		return dst
	}

	mu1 := blur(i1)
	defer mu1.Close()
	mu2 := blur(i2)
	defer mu2.Close()

	mu1Sq := product(mu1, mu1)
	defer mu1Sq.Close()
	mu2Sq := product(mu2, mu2)
	defer mu2Sq.Close()
	mu12 := product(mu1, mu2)
	defer mu12.Close()

	// sigma = blur(I*I) - mu*mu
	sigma := func(x, y, muProduct gocv.Mat) gocv.Mat {
		p := product(x, y)
		defer p.Close()
		bp := blur(p)
		defer bp.Close()
		dst := gocv.NewMat()
		gocv.Subtract(bp, muProduct, &dst)
		return dst
	}
	sigma1Sq := sigma(i1, i1, mu1Sq)
	defer sigma1Sq.Close()
	sigma2Sq := sigma(i2, i2, mu2Sq)
	defer sigma2Sq.Close()
	sigma12 := sigma(i1, i2, mu12)
	defer sigma12.Close()

	// Numerator: (2*mu12 + C1) * (2*sigma12 + C2)
	t1 := mu12.Clone()
	defer t1.Close()
	t1.MultiplyFloat(2)
	t1.AddFloat(c1)
	t2 := sigma12.Clone()
	defer t2.Close()
	t2.MultiplyFloat(2)
	t2.AddFloat(c2)
	num := product(t1, t2)
	defer num.Close()

	// Denominator: (mu1² + mu2² + C1) * (sigma1² + sigma2² + C2)
	d1 := gocv.NewMat()
	defer d1.Close()
	gocv.Add(mu1Sq, mu2Sq, &d1)
	d1.AddFloat(c1)
	d2 := gocv.NewMat()
	defer d2.Close()
	gocv.Add(sigma1Sq, sigma2Sq, &d2)
	d2.AddFloat(c2)
	den := product(d1, d2)
	defer den.Close()

	ssimMap := gocv.NewMat()
	defer ssimMap.Close()
	gocv.Divide(num, den, &ssimMap)

	mean := ssimMap.Mean()
	return mean.Val1, nil
}
