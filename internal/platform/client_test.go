package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sampleAlert() *AlertRequest {
	return &AlertRequest{
		Location:       "Factory Zone A",
		AlertType:      "fire",
		Timestamp:      1700000000,
		Confidence:     0.91,
		SourceDeviceID: "pyro-001",
		GeoLocation:    NewGeoPoint(27.6745405, 85.4478716),
		AdditionalInfo: AdditionalInfo{
			CameraID:        "camera_001",
			DetectionMethod: "YOLO vision",
			AlertSource:     "automated_detection",
			DeviceName:      "edge-01",
		},
	}
}

func TestClient_SubmitAlert(t *testing.T) {
	t.Run("201 returns body", func(t *testing.T) {
		var got map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.URL.Path != "/api/v1/alert" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("unexpected content type %s", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":"pending_response"}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL+"/api/v1/alert", time.Second, nil)
		ack, err := c.SubmitAlert(context.Background(), sampleAlert())
		if err != nil {
			t.Fatalf("SubmitAlert returned error: %v", err)
		}
		if string(ack) != `{"status":"pending_response"}` {
			t.Errorf("unexpected ack %s", ack)
		}

		if got["alert_type"] != "fire" || got["source_device_id"] != "pyro-001" {
			t.Errorf("unexpected payload %v", got)
		}
		geo, _ := got["geo_location"].(map[string]interface{})
		coords, _ := geo["coordinates"].([]interface{})
		if geo["type"] != "Point" || len(coords) != 2 || coords[0] != 85.4478716 {
			t.Errorf("expected [lng, lat] point, got %v", geo)
		}
		info, _ := got["additional_info"].(map[string]interface{})
		if info["camera_id"] != "camera_001" || info["device_name"] != "edge-01" {
			t.Errorf("unexpected additional_info %v", info)
		}
	})

	t.Run("200 is a failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second, nil)
		_, err := c.SubmitAlert(context.Background(), sampleAlert())

		var subErr *SubmissionError
		if !errors.As(err, &subErr) {
			t.Fatalf("expected SubmissionError, got %v", err)
		}
		if subErr.StatusCode != http.StatusOK || subErr.Op != "status" {
			t.Errorf("unexpected error detail %+v", subErr)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		c := NewClient(srv.URL, 50*time.Millisecond, nil)
		start := time.Now()
		_, err := c.SubmitAlert(context.Background(), sampleAlert())

		var subErr *SubmissionError
		if !errors.As(err, &subErr) || subErr.Op != "post" {
			t.Fatalf("expected post SubmissionError, got %v", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Error("request timeout was not honoured")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1/api/v1/alert", time.Second, nil)
		if _, err := c.SubmitAlert(context.Background(), sampleAlert()); err == nil {
			t.Error("expected error for unreachable backend")
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		tokens := NewTokenSource("secret", "pyro-001", "edge-01", time.Hour)
		c := NewClient(srv.URL, time.Second, tokens)
		if _, err := c.SubmitAlert(context.Background(), sampleAlert()); err != nil {
			t.Fatalf("SubmitAlert returned error: %v", err)
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Fatalf("expected bearer token, got %q", auth)
		}

		claims := &DeviceClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
			return []byte("secret"), nil
		})
		if err != nil {
			t.Fatalf("token did not verify: %v", err)
		}
		if claims.Subject != "pyro-001" || claims.DeviceName != "edge-01" {
			t.Errorf("unexpected claims %+v", claims)
		}
	})
}

func TestTokenSource(t *testing.T) {
	t.Run("empty secret disables auth", func(t *testing.T) {
		ts := NewTokenSource("", "id", "name", time.Hour)
		if ts != nil {
			t.Fatal("expected nil token source")
		}
		header, err := ts.Header()
		if err != nil || header.Get("Authorization") != "" {
			t.Errorf("expected empty header, got %v %v", header, err)
		}
	})

	t.Run("caches until close to expiry", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		ts := NewTokenSource("secret", "id", "name", 10*time.Minute)
		ts.now = func() time.Time { return now }

		first, err := ts.Token()
		if err != nil {
			t.Fatalf("Token returned error: %v", err)
		}

		now = now.Add(5 * time.Minute)
		second, _ := ts.Token()
		if first != second {
			t.Error("expected cached token to be reused")
		}

		now = now.Add(5 * time.Minute)
		third, _ := ts.Token()
		if third == second {
			t.Error("expected token to be renewed near expiry")
		}
	})
}
