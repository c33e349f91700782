// Package detection holds the per-frame detection model published by the
// detector and the filter that turns a frame into alert candidates.
package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Label is the class the detector assigned to an object
type Label string

const (
	LabelOther Label = "other"
	LabelFire  Label = "fire"
	LabelSmoke Label = "smoke"
)

// classNames maps the detector's integer class index to a label
var classNames = []Label{LabelOther, LabelFire, LabelSmoke}

// ReportableLabels lists the alert classes in priority order (highest first)
var ReportableLabels = []Label{LabelFire, LabelSmoke}

// Reportable reports whether alerts are raised for this class
func (l Label) Reportable() bool {
	return l == LabelFire || l == LabelSmoke
}

// Priority orders reportable classes; lower wins. Non-reportable labels sort last.
func (l Label) Priority() int {
	for i, r := range ReportableLabels {
		if l == r {
			return i
		}
	}
	return len(ReportableLabels)
}

// UnmarshalJSON accepts either the class name or the detector's class index.
// Indices may arrive as whole-number floats. An index the detector does not
// define decodes as LabelOther so the rest of the frame is kept.
func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*l = Label(name)
		return nil
	}

	var idx float64
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("invalid class %s: %w", data, err)
	}
	*l = labelForIndex(idx)
	return nil
}

func labelForIndex(idx float64) Label {
	if idx != math.Trunc(idx) || idx < 0 || idx >= float64(len(classNames)) {
		return LabelOther
	}
	return classNames[int(idx)]
}

// Box is a bounding box as [x1, y1, x2, y2]
type Box [4]float64

// Detection represents a single object found in a frame
type Detection struct {
	Label      Label   `json:"class"`
	Confidence float64 `json:"score"`
	Box        Box     `json:"box"`
}

// Frame is one message from the detector: every detection of a single frame
type Frame struct {
	CameraID   string      `json:"camera_id"`
	Seq        uint64      `json:"seq"`
	Timestamp  int64       `json:"timestamp"` // Unix milliseconds
	Detections []Detection `json:"detections"`
}

// DecodeFrame parses a detector message
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &frame, nil
}

// Candidate is the peak-confidence alert-worthy detection of one class in a frame
type Candidate struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}
