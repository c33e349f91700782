// Package platform submits alerts to the backend's collection endpoint
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of the backend's reply is kept as the acknowledgement
const maxResponseBody = 64 * 1024

// GeoPoint is a GeoJSON point, coordinates ordered [lng, lat]
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewGeoPoint builds a GeoJSON point
func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

// AdditionalInfo carries sensor metadata alongside an alert
type AdditionalInfo struct {
	CameraID        string `json:"camera_id"`
	DetectionMethod string `json:"detection_method"`
	AlertSource     string `json:"alert_source"`
	DeviceName      string `json:"device_name"`
	AlertID         string `json:"alert_id,omitempty"`
}

// AlertRequest is the body of a submission to the collection endpoint
type AlertRequest struct {
	Location       string         `json:"location"`
	AlertType      string         `json:"alert_type"`
	Timestamp      int64          `json:"timestamp"`
	Confidence     float64        `json:"confidence"`
	SourceDeviceID string         `json:"source_device_id"`
	GeoLocation    GeoPoint       `json:"geo_location"`
	AdditionalInfo AdditionalInfo `json:"additional_info"`
}

// Client handles alert submission to the backend
type Client struct {
	alertURL   string
	httpClient *http.Client
	tokens     *TokenSource
}

// NewClient creates a submission client. tokens may be nil when the backend
// does not require a device token.
func NewClient(alertURL string, timeout time.Duration, tokens *TokenSource) *Client {
	return &Client{
		alertURL: alertURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

// SubmitAlert posts an alert and returns the backend's response body.
// Anything other than 201 Created is a SubmissionError.
func (c *Client) SubmitAlert(ctx context.Context, alert *AlertRequest) ([]byte, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return nil, &SubmissionError{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.alertURL, bytes.NewReader(body))
	if err != nil {
		return nil, &SubmissionError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", alert.SourceDeviceID)
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, &SubmissionError{Op: "sign", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &SubmissionError{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusCreated {
		return nil, &SubmissionError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("alert rejected: %s", truncate(respBody, 256)),
		}
	}

	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
