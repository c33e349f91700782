package config

import (
	"errors"
	"fmt"
	"net/url"
)

// ConfigurationError is fatal: the node must not enter its main loop
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks every knob the node depends on. All problems are returned
// joined together.
func (c *Config) Validate() error {
	var errs []error

	d := c.Detection
	if d.Threshold < 0 || d.Threshold > 1 {
		errs = append(errs, invalid("detection.threshold", "%.2f outside [0,1]", d.Threshold))
	}
	if d.AlertThreshold < 0 || d.AlertThreshold > 1 {
		errs = append(errs, invalid("detection.alertThreshold", "%.2f outside [0,1]", d.AlertThreshold))
	}
	if d.AlertThreshold < d.Threshold {
		errs = append(errs, invalid("detection.alertThreshold", "%.2f below detection threshold %.2f", d.AlertThreshold, d.Threshold))
	}
	if d.Subject == "" {
		errs = append(errs, invalid("detection.subject", "must not be empty"))
	}

	if c.Alert.Cooldown < 0 {
		errs = append(errs, invalid("alert.cooldown", "must not be negative"))
	}

	if err := checkURL(c.Central.URL, "ws", "wss"); err != nil {
		errs = append(errs, &ConfigurationError{Field: "central.url", Err: err})
	}
	for field, v := range map[string]Duration{
		"central.reconnectBackoff": c.Central.ReconnectBackoff,
		"central.handshakeTimeout": c.Central.HandshakeTimeout,
		"central.pingInterval":     c.Central.PingInterval,
		"central.pingTimeout":      c.Central.PingTimeout,
		"central.writeTimeout":     c.Central.WriteTimeout,
		"platform.requestTimeout":  c.Platform.RequestTimeout,
	} {
		if v <= 0 {
			errs = append(errs, invalid(field, "must be positive"))
		}
	}

	if err := checkURL(c.Platform.ServerURL, "http", "https"); err != nil {
		errs = append(errs, &ConfigurationError{Field: "platform.serverUrl", Err: err})
	}
	if c.Platform.DeviceSecret != "" && c.Platform.TokenTTL <= 0 {
		errs = append(errs, invalid("platform.tokenTtl", "must be positive when a device secret is set"))
	}

	id := c.Identity
	if id.SourceDeviceID == "" {
		errs = append(errs, invalid("identity.sourceDeviceId", "must not be empty"))
	}
	if id.DeviceName == "" {
		errs = append(errs, invalid("identity.deviceName", "must not be empty"))
	}
	if id.Latitude < -90 || id.Latitude > 90 {
		errs = append(errs, invalid("identity.latitude", "%f outside [-90,90]", id.Latitude))
	}
	if id.Longitude < -180 || id.Longitude > 180 {
		errs = append(errs, invalid("identity.longitude", "%f outside [-180,180]", id.Longitude))
	}

	if c.Dispatch.Workers <= 0 {
		errs = append(errs, invalid("dispatch.workers", "must be positive"))
	}
	if c.Dispatch.QueueSize <= 0 {
		errs = append(errs, invalid("dispatch.queueSize", "must be positive"))
	}

	if c.NATS.Port <= 0 || c.NATS.Port > 65535 {
		errs = append(errs, invalid("nats.port", "%d is not a valid port", c.NATS.Port))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errs = append(errs, invalid("web.port", "%d is not a valid port", c.Web.Port))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %v", raw, schemes)
}
