package compare

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// minAnomalyPercent is the floor of the anomaly threshold.
const minAnomalyPercent = 1.0

// Anomaly is a page whose change is unusually large for its batch.
type Anomaly struct {
	Page        string  `json:"page"`
	DiffPercent float64 `json:"diffPercent"`
}

// Summary aggregates a batch. Failed pages are counted but excluded from the
// statistics.
type Summary struct {
	Pages          int     `json:"pages"`
	Failed         int     `json:"failed"`
	AvgDiffPercent float64 `json:"avgDiffPercent"`
	MaxDiffPercent float64 `json:"maxDiffPercent"`
	FailPercent    float64 `json:"failPercent"`
	Passed         bool    `json:"passed"`

	// Stability is 100 minus the average diff percentage.
	Stability float64 `json:"stability"`

	// AnomalyThreshold is max(1, mean + 2 population standard deviations).
	AnomalyThreshold float64   `json:"anomalyThreshold"`
	Anomalies        []Anomaly `json:"anomalies"`
}

// Summarize computes batch statistics over the page percentages as they are
// reported, rounded to three decimals. The gate passes when every page was
// compared and the average diff percentage is at most failPercent.
func Summarize(results []*Result, failPercent float64) Summary {
	s := Summary{FailPercent: failPercent, Anomalies: []Anomaly{}}

	var diffs []float64
	var ok []*Result
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Pages++
		if r.Failed() {
			s.Failed++
			continue
		}
		diffs = append(diffs, Round3(r.DiffPercent))
		ok = append(ok, r)
	}

	if len(diffs) > 0 {
		mean, variance := stat.PopMeanVariance(diffs, nil)
		s.AvgDiffPercent = mean
		s.MaxDiffPercent = diffs[0]
		for _, d := range diffs[1:] {
			s.MaxDiffPercent = max(s.MaxDiffPercent, d)
		}
		s.AnomalyThreshold = math.Max(minAnomalyPercent, mean+2*math.Sqrt(variance))
	} else {
		s.AnomalyThreshold = minAnomalyPercent
	}

	for _, r := range ok {
		if Round3(r.DiffPercent) >= s.AnomalyThreshold {
			s.Anomalies = append(s.Anomalies, Anomaly{Page: r.Key, DiffPercent: r.DiffPercent})
		}
	}

	s.Stability = 100 - s.AvgDiffPercent
	s.Passed = s.Failed == 0 && s.AvgDiffPercent <= failPercent
	return s
}

// MarshalJSON rounds the percentages to three decimals.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := plain(s)
	out.AvgDiffPercent = Round3(s.AvgDiffPercent)
	out.MaxDiffPercent = Round3(s.MaxDiffPercent)
	out.Stability = math.Round(s.Stability*100) / 100
	out.AnomalyThreshold = Round3(s.AnomalyThreshold)
	out.Anomalies = make([]Anomaly, len(s.Anomalies))
	for i, a := range s.Anomalies {
		out.Anomalies[i] = Anomaly{Page: a.Page, DiffPercent: Round3(a.DiffPercent)}
	}
	return json.Marshal(out)
}
