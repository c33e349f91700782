package detection

import (
	"fmt"

	"github.com/samber/lo"
)

// Filter reduces a frame's detections to alert candidates
type Filter struct {
	detectionThreshold float64
	alertThreshold     float64
}

// NewFilter creates a filter. detectionThreshold is the noise floor used for
// display; alertThreshold must be at least as strict.
func NewFilter(detectionThreshold, alertThreshold float64) (*Filter, error) {
	if detectionThreshold < 0 || detectionThreshold > 1 {
		return nil, fmt.Errorf("detection threshold %.2f outside [0,1]", detectionThreshold)
	}
	if alertThreshold < 0 || alertThreshold > 1 {
		return nil, fmt.Errorf("alert threshold %.2f outside [0,1]", alertThreshold)
	}
	if alertThreshold < detectionThreshold {
		return nil, fmt.Errorf("alert threshold %.2f below detection threshold %.2f", alertThreshold, detectionThreshold)
	}
	return &Filter{
		detectionThreshold: detectionThreshold,
		alertThreshold:     alertThreshold,
	}, nil
}

// Visible returns the reportable detections above the display threshold
func (f *Filter) Visible(dets []Detection) []Detection {
	return lo.Filter(dets, func(d Detection, _ int) bool {
		return d.Label.Reportable() && d.Confidence > f.detectionThreshold
	})
}

// Candidates returns at most one candidate per reportable class, carrying the
// class's peak confidence above the alert threshold. Fire comes before smoke.
func (f *Filter) Candidates(dets []Detection) []Candidate {
	visible := f.Visible(dets)

	var out []Candidate
	for _, label := range ReportableLabels {
		matching := lo.Filter(visible, func(d Detection, _ int) bool {
			return d.Label == label && d.Confidence > f.alertThreshold
		})
		if len(matching) == 0 {
			continue
		}
		best := lo.MaxBy(matching, func(a, b Detection) bool {
			return a.Confidence > b.Confidence
		})
		out = append(out, Candidate{Label: label, Confidence: best.Confidence})
	}
	return out
}
