// Package region extracts connected changed areas from a mask and
// classifies them as added, removed or moved.
package region

import (
	"sort"

	"snapdiff/internal/diff"
	"snapdiff/pkg/geometry"
)

// Region is the bounding box of one 4-connected set of changed pixels.
type Region struct {
	geometry.Rect
	Area   int `json:"area"`   // bounding-box area, W*H
	Pixels int `json:"pixels"` // changed pixels in the component
}

// Extract finds the 4-connected components of the mask's changed pixels.
// Components whose bounding-box area is below minArea are discarded. The
// result is sorted by descending area; equal areas keep row-major discovery
// order.
func Extract(mask *diff.Mask, minArea int) []Region {
	w, h := mask.Width, mask.Height
	visited := make([]bool, w*h)
	stack := make([]int, 0, 64)
	var regions []Region

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			start := y*w + x
			if mask.Pix[start] == 0 || visited[start] {
				continue
			}

			minX, minY := x, y
			maxX, maxY := x, y
			count := 0

			// Stack-based flood fill; pixels are marked when pushed so each
			// one enters the stack at most once.
			visited[start] = true
			stack = append(stack[:0], start)
			for len(stack) > 0 {
				idx := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := idx%w, idx/w
				count++

				// Update bounds
				if px < minX {
					minX = px
				}
				if px > maxX {
					maxX = px
				}
				if py < minY {
					minY = py
				}
				if py > maxY {
					maxY = py
				}

				// Push neighbors (4-connectivity)
				if px > 0 {
					stack = push(stack, mask, visited, idx-1)
				}
				if px < w-1 {
					stack = push(stack, mask, visited, idx+1)
				}
				if py > 0 {
					stack = push(stack, mask, visited, idx-w)
				}
				if py < h-1 {
					stack = push(stack, mask, visited, idx+w)
				}
			}

			rect := geometry.NewRect(minX, minY, maxX-minX+1, maxY-minY+1)
			if rect.Area() < minArea {
				continue
			}
			regions = append(regions, Region{Rect: rect, Area: rect.Area(), Pixels: count})
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Area > regions[j].Area
	})
	return regions
}

func push(stack []int, mask *diff.Mask, visited []bool, idx int) []int {
	if visited[idx] || mask.Pix[idx] == 0 {
		return stack
	}
	visited[idx] = true
	return append(stack, idx)
}
