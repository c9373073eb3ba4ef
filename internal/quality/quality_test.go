package quality

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gray(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

type fixedScorer struct {
	score float64
	err   error
	calls int
	ws    int
	bd    int
}

func (s *fixedScorer) Score(_ context.Context, _, _ *image.RGBA, windowSize, bitDepth int) (float64, error) {
	s.calls++
	s.ws, s.bd = windowSize, bitDepth
	return s.score, s.err
}

func TestComputeIdentical(t *testing.T) {
	a := gray(4, 4, 120)
	rep, err := Compute(context.Background(), a, a, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, rep.MSE)
	assert.True(t, math.IsInf(rep.PSNR, 1))
	assert.Nil(t, rep.Perceptual)
	assert.NoError(t, rep.ScorerErr)
}

func TestComputeUniformOffset(t *testing.T) {
	rep, err := Compute(context.Background(), gray(4, 4, 100), gray(4, 4, 110), nil, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rep.MSE, 1e-6)
	assert.InDelta(t, 10*math.Log10(255*255/100.0), rep.PSNR, 1e-6)
}

func TestComputeSinglePixel(t *testing.T) {
	a := gray(4, 4, 255)
	b := gray(4, 4, 255)
	b.Pix[0], b.Pix[1], b.Pix[2] = 0, 0, 0

	rep, err := Compute(context.Background(), a, b, nil, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 255.0*255.0/16.0, rep.MSE, 1e-6)
	assert.InDelta(t, 10*math.Log10(16), rep.PSNR, 1e-6)
}

func TestComputeScorer(t *testing.T) {
	s := &fixedScorer{score: 0.93}
	rep, err := Compute(context.Background(), gray(2, 2, 0), gray(2, 2, 9), s, Options{})
	require.NoError(t, err)
	require.NotNil(t, rep.Perceptual)
	assert.Equal(t, 0.93, *rep.Perceptual)
	assert.Equal(t, DefaultWindowSize, s.ws)
	assert.Equal(t, DefaultBitDepth, s.bd)
}

func TestComputeScorerFailureIsNotFatal(t *testing.T) {
	tests := []struct {
		name   string
		scorer *fixedScorer
	}{
		{"error", &fixedScorer{err: errors.New("backend missing")}},
		{"sentinel", &fixedScorer{err: ErrScorerUnavailable}},
		{"nan", &fixedScorer{score: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := Compute(context.Background(), gray(2, 2, 0), gray(2, 2, 0), tt.scorer, Options{WindowSize: 11})
			require.NoError(t, err)
			assert.Nil(t, rep.Perceptual)
			assert.ErrorIs(t, rep.ScorerErr, ErrScorerUnavailable)
			assert.Equal(t, 1, tt.scorer.calls)
		})
	}
}

func TestComputeSizeMismatch(t *testing.T) {
	_, err := Compute(context.Background(), gray(2, 2, 0), gray(2, 3, 0), nil, Options{})
	assert.Error(t, err)
}
