package region

import (
	"image"
	"image/color"

	"snapdiff/internal/diff"
	"snapdiff/internal/motion"
	"snapdiff/pkg/geometry"
)

// DefaultMoveIoU is the minimum IoU for an old/new region pair to be
// classified as moved.
const DefaultMoveIoU = 0.15

// MatchType says what happened to a changed area between snapshots.
type MatchType string

const (
	Added   MatchType = "added"
	Removed MatchType = "removed"
	Moved   MatchType = "moved"
)

// Match relates an old region to a new region, or either one to nothing.
type Match struct {
	Type   MatchType        `json:"type"`
	Old    *Region          `json:"old,omitempty"`
	New    *Region          `json:"new,omitempty"`
	IoU    float64          `json:"iou"`
	Motion *motion.Estimate `json:"motion,omitempty"`

	// Indices into Classification.Old / Classification.New, -1 when absent.
	OldIndex int `json:"-"`
	NewIndex int `json:"-"`
}

// Box returns the region a match is anchored on: the new region when
// present, otherwise the old one.
func (m Match) Box() geometry.Rect {
	if m.New != nil {
		return m.New.Rect
	}
	if m.Old != nil {
		return m.Old.Rect
	}
	return geometry.Rect{}
}

// Options configures classification.
type Options struct {
	MinArea    int
	MoveIoU    float64
	Background color.RGBA
}

// Classification holds the directional regions and their matches.
type Classification struct {
	Old     []Region
	New     []Region
	Matches []Match
}

// Classify splits the changed pixels into content present only before and
// only after, extracts regions from each side and matches them.
func Classify(older, newer *image.RGBA, mask *diff.Mask, opts Options) Classification {
	oldOnly, newOnly := diff.Directional(older, newer, mask, opts.Background)

	c := Classification{
		Old: Extract(oldOnly, opts.MinArea),
		New: Extract(newOnly, opts.MinArea),
	}
	c.Matches = MatchRegions(c.Old, c.New, opts.MoveIoU)
	return c
}

// MatchRegions pairs old and new regions greedily. Old regions are taken in
// order; each claims the unmatched new region with the highest IoU, and the
// pair is moved when that IoU reaches moveIoU. Otherwise the old region is
// removed. New regions left over are added.
//
// The assignment is greedy, not a maximum-weight matching: ties and
// near-ties go to whichever old region comes first, and among equal IoUs
// the earliest new region wins.
func MatchRegions(oldRegions, newRegions []Region, moveIoU float64) []Match {
	matches := make([]Match, 0, len(oldRegions)+len(newRegions))
	newMatched := make([]bool, len(newRegions))

	for i := range oldRegions {
		old := oldRegions[i]
		bestIdx := -1
		bestIoU := 0.0

		// Find best unmatched new region
		for j := range newRegions {
			if newMatched[j] {
				continue
			}
			iou := geometry.IoU(old.Rect, newRegions[j].Rect)
			if iou > bestIoU {
				bestIdx = j
				bestIoU = iou
			}
		}

		if bestIdx >= 0 && bestIoU >= moveIoU {
			newMatched[bestIdx] = true
			nr := newRegions[bestIdx]
			matches = append(matches, Match{
				Type:     Moved,
				Old:      &old,
				New:      &nr,
				IoU:      bestIoU,
				OldIndex: i,
				NewIndex: bestIdx,
			})
			continue
		}

		matches = append(matches, Match{
			Type:     Removed,
			Old:      &old,
			IoU:      bestIoU,
			OldIndex: i,
			NewIndex: -1,
		})
	}

	// Leftover new regions were added
	for j, matched := range newMatched {
		if matched {
			continue
		}
		nr := newRegions[j]
		matches = append(matches, Match{
			Type:     Added,
			New:      &nr,
			OldIndex: -1,
			NewIndex: j,
		})
	}

	return matches
}
