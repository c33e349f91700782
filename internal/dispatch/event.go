package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/platform"
)

// Identity describes this sensor. It is read once at startup and stamped on
// every alert.
type Identity struct {
	DeviceName      string
	SourceDeviceID  string
	CameraID        string
	Location        string
	Latitude        float64
	Longitude       float64
	DetectionMethod string
	AlertSource     string
}

// AlertEvent is one admitted alert. It is not modified after creation.
type AlertEvent struct {
	ID             string            `json:"id"`
	Location       string            `json:"location"`
	AlertType      string            `json:"alert_type"`
	Confidence     float64           `json:"confidence"`
	Timestamp      int64             `json:"timestamp"` // Unix seconds
	SourceDeviceID string            `json:"source_device_id"`
	DeviceName     string            `json:"device_name"`
	CameraID       string            `json:"camera_id"`
	GeoLocation    platform.GeoPoint `json:"geo_location"`
	identity       Identity
}

// NewEvent stamps a candidate with identity, time and a fresh id
func NewEvent(c detection.Candidate, id Identity, now time.Time) *AlertEvent {
	return &AlertEvent{
		ID:             uuid.NewString(),
		Location:       id.Location,
		AlertType:      string(c.Label),
		Confidence:     c.Confidence,
		Timestamp:      now.Unix(),
		SourceDeviceID: id.SourceDeviceID,
		DeviceName:     id.DeviceName,
		CameraID:       id.CameraID,
		GeoLocation:    platform.NewGeoPoint(id.Latitude, id.Longitude),
		identity:       id,
	}
}

// Request builds the backend submission body
func (e *AlertEvent) Request() *platform.AlertRequest {
	return &platform.AlertRequest{
		Location:       e.Location,
		AlertType:      e.AlertType,
		Timestamp:      e.Timestamp,
		Confidence:     e.Confidence,
		SourceDeviceID: e.SourceDeviceID,
		GeoLocation:    e.GeoLocation,
		AdditionalInfo: platform.AdditionalInfo{
			CameraID:        e.CameraID,
			DetectionMethod: e.identity.DetectionMethod,
			AlertSource:     e.identity.AlertSource,
			DeviceName:      e.DeviceName,
			AlertID:         e.ID,
		},
	}
}

// MessageType is the channel message type for this alert, e.g. "fire_alert"
func (e *AlertEvent) MessageType() string {
	return e.AlertType + "_alert"
}

// channelMessage is the live broadcast of an alert
type channelMessage struct {
	Type string `json:"type"`
	*AlertEvent
}

// ChannelMessage encodes the alert for the persistent channel
func (e *AlertEvent) ChannelMessage() ([]byte, error) {
	return json.Marshal(channelMessage{Type: e.MessageType(), AlertEvent: e})
}

// ackMessage relays the backend's acceptance over the channel
type ackMessage struct {
	Type    string          `json:"type"`
	AlertID string          `json:"alert_id"`
	Data    json.RawMessage `json:"data"`
}

// AckMessage wraps a backend response body for re-broadcast. A body that is
// not JSON is sent as a string.
func AckMessage(alertID string, body []byte) ([]byte, error) {
	data := json.RawMessage(body)
	if !json.Valid(body) {
		quoted, err := json.Marshal(string(body))
		if err != nil {
			return nil, err
		}
		data = quoted
	}
	return json.Marshal(ackMessage{Type: "alert_ack", AlertID: alertID, Data: data})
}
