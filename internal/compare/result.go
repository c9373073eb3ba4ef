package compare

import (
	"encoding/json"
	"math"

	"snapdiff/internal/region"
	"snapdiff/internal/render"
)

// Result is the outcome of one page comparison. Err is set, and the
// metric fields are zero, when the page could not be compared.
type Result struct {
	Key   string
	OldID string
	NewID string

	Width  int
	Height int

	DiffPixels        int
	DiffPercent       float64
	AntiAliasedPixels int
	IgnoredPixels     int
	SuppressedPixels  int

	MSE        float64
	PSNR       float64
	Perceptual *float64

	Regions    []region.Region
	RegionsOld []region.Region
	RegionsNew []region.Region
	Matches    []region.Match

	Artifacts render.Artifacts
	Err       error
}

// Failed reports whether the page could not be compared.
func (r *Result) Failed() bool { return r.Err != nil }

// ChangedMatches returns the added and removed matches.
func (r *Result) ChangedMatches() []region.Match {
	var out []region.Match
	for _, m := range r.Matches {
		if m.Type == region.Added || m.Type == region.Removed {
			out = append(out, m)
		}
	}
	return out
}

type resultJSON struct {
	Page              string           `json:"page"`
	OldID             string           `json:"old"`
	NewID             string           `json:"new"`
	Width             int              `json:"width"`
	Height            int              `json:"height"`
	DiffPixels        int              `json:"diffPixels"`
	DiffPercent       float64          `json:"diffPercent"`
	AntiAliasedPixels int              `json:"antiAliasedPixels"`
	IgnoredPixels     int              `json:"ignoredPixels"`
	SuppressedPixels  int              `json:"suppressedPixels"`
	MSE               float64          `json:"mse"`
	PSNR              any              `json:"psnr"`
	Perceptual        *float64         `json:"perceptual"`
	Regions           []region.Region  `json:"regions"`
	RegionsOld        []region.Region  `json:"regionsOld"`
	RegionsNew        []region.Region  `json:"regionsNew"`
	Matches           []region.Match   `json:"matches"`
	Artifacts         render.Artifacts `json:"artifacts"`
	Error             string           `json:"error,omitempty"`
}

// MarshalJSON writes diffPercent with three decimals, psnr as "Inf" for
// identical canvases and perceptual as null when absent.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Page:              r.Key,
		OldID:             r.OldID,
		NewID:             r.NewID,
		Width:             r.Width,
		Height:            r.Height,
		DiffPixels:        r.DiffPixels,
		DiffPercent:       Round3(r.DiffPercent),
		AntiAliasedPixels: r.AntiAliasedPixels,
		IgnoredPixels:     r.IgnoredPixels,
		SuppressedPixels:  r.SuppressedPixels,
		MSE:               r.MSE,
		PSNR:              psnrValue(r.PSNR),
		Perceptual:        r.Perceptual,
		Regions:           nonNil(r.Regions),
		RegionsOld:        nonNil(r.RegionsOld),
		RegionsNew:        nonNil(r.RegionsNew),
		Matches:           r.Matches,
		Artifacts:         r.Artifacts,
	}
	if out.Matches == nil {
		out.Matches = []region.Match{}
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func psnrValue(v float64) any {
	switch {
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsNaN(v):
		return nil
	default:
		return v
	}
}

func nonNil(r []region.Region) []region.Region {
	if r == nil {
		return []region.Region{}
	}
	return r
}
