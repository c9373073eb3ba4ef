// Package cvutil converts between Go canvases and OpenCV matrices.
package cvutil

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// ToBGR converts a canvas to a 3-channel BGR Mat (parallelized).
// The caller owns the returned Mat.
func ToBGR(img *image.RGBA) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), fmt.Errorf("empty canvas %v", bounds)
	}

	// Create BGR Mat (OpenCV default)
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	stripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := img.Pix[y*img.Stride:]
			for x := 0; x < width; x++ {
				mat.SetUCharAt(y, x*3+0, row[x*4+2])
				mat.SetUCharAt(y, x*3+1, row[x*4+1])
				mat.SetUCharAt(y, x*3+2, row[x*4+0])
			}
		}
	})

	return mat, nil
}

// ToRGBA converts a 3-channel BGR Mat back to an opaque canvas (parallelized).
func ToRGBA(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Channels() != 3 {
		return nil, fmt.Errorf("expected 3-channel mat, got %d", mat.Channels())
	}
	h := mat.Rows()
	w := mat.Cols()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride

	stripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			rowOffset := y * stride
			for x := 0; x < w; x++ {
				// OpenCV uses BGR format, write directly to Pix slice
				pixOffset := rowOffset + x*4
				img.Pix[pixOffset+0] = mat.GetUCharAt(y, x*3+2) // R
				img.Pix[pixOffset+1] = mat.GetUCharAt(y, x*3+1) // G
				img.Pix[pixOffset+2] = mat.GetUCharAt(y, x*3+0) // B
				img.Pix[pixOffset+3] = 255                      // A
			}
		}
	})

	return img, nil
}

// GrayFloat converts a canvas to a single-channel 32-bit float luma Mat.
func GrayFloat(img *image.RGBA) (gocv.Mat, error) {
	bgr, err := ToBGR(img)
	if err != nil {
		return bgr, err
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	out := gocv.NewMat()
	gray.ConvertTo(&out, gocv.MatTypeCV32F)
	return out, nil
}

// stripes runs fn over horizontal row ranges, one per CPU.
func stripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := min(startY+rowsPerWorker, height)
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
