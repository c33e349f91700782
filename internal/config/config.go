package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "PYRO_"

// DetectionConfig holds the frame filter thresholds
type DetectionConfig struct {
	Threshold      float64 `json:"threshold" yaml:"threshold" env:"THRESHOLD"`                  // Display / noise floor
	AlertThreshold float64 `json:"alertThreshold" yaml:"alert_threshold" env:"ALERT_THRESHOLD"` // Minimum confidence to alert
	Subject        string  `json:"subject" yaml:"subject" env:"SUBJECT"`                        // NATS subject the detector publishes to
}

// AlertConfig holds deduplication settings
type AlertConfig struct {
	Cooldown Duration `json:"cooldown" yaml:"cooldown" env:"COOLDOWN"`
}

// CentralConfig holds the persistent channel settings
type CentralConfig struct {
	URL              string   `json:"url" yaml:"url" env:"URL"`
	ReconnectBackoff Duration `json:"reconnectBackoff" yaml:"reconnect_backoff" env:"RECONNECT_BACKOFF"`
	HandshakeTimeout Duration `json:"handshakeTimeout" yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	PingInterval     Duration `json:"pingInterval" yaml:"ping_interval" env:"PING_INTERVAL"`
	PingTimeout      Duration `json:"pingTimeout" yaml:"ping_timeout" env:"PING_TIMEOUT"`
	WriteTimeout     Duration `json:"writeTimeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// PlatformConfig holds the backend submission settings
type PlatformConfig struct {
	ServerURL        string   `json:"serverUrl" yaml:"server_url" env:"SERVER_URL"`
	AlertPath        string   `json:"alertPath" yaml:"alert_path" env:"ALERT_PATH"`
	RequestTimeout   Duration `json:"requestTimeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	DeviceSecret     string   `json:"deviceSecret,omitempty" yaml:"device_secret" env:"DEVICE_SECRET"`
	DeviceSecretFile string   `json:"deviceSecretFile,omitempty" yaml:"device_secret_file" env:"DEVICE_SECRET_FILE"`
	TokenTTL         Duration `json:"tokenTtl" yaml:"token_ttl" env:"TOKEN_TTL"`
}

// IdentityConfig describes this sensor to the backend. Read once at startup.
type IdentityConfig struct {
	DeviceName      string  `json:"deviceName" yaml:"device_name" env:"DEVICE_NAME"`
	SourceDeviceID  string  `json:"sourceDeviceId" yaml:"source_device_id" env:"SOURCE_DEVICE_ID"`
	CameraID        string  `json:"cameraId" yaml:"camera_id" env:"CAMERA_ID"`
	Location        string  `json:"location" yaml:"location" env:"LOCATION"`
	Latitude        float64 `json:"latitude" yaml:"latitude" env:"LATITUDE"`
	Longitude       float64 `json:"longitude" yaml:"longitude" env:"LONGITUDE"`
	DetectionMethod string  `json:"detectionMethod" yaml:"detection_method" env:"DETECTION_METHOD"`
	AlertSource     string  `json:"alertSource" yaml:"alert_source" env:"ALERT_SOURCE"`
	NodeModel       string  `json:"nodeModel,omitempty" yaml:"node_model" env:"NODE_MODEL"`
}

// DispatchConfig sizes the delivery worker pool
type DispatchConfig struct {
	Workers   int `json:"workers" yaml:"workers" env:"WORKERS"`
	QueueSize int `json:"queueSize" yaml:"queue_size" env:"QUEUE_SIZE"`
}

// NATSConfig holds the embedded detection bus settings
type NATSConfig struct {
	Port       int   `json:"port" yaml:"port" env:"PORT"`
	MaxPayload int32 `json:"maxPayload" yaml:"max_payload" env:"MAX_PAYLOAD"`
}

// WebConfig holds the status server settings
type WebConfig struct {
	Port int `json:"port" yaml:"port" env:"PORT"`
}

// Config holds the complete node configuration
type Config struct {
	Detection DetectionConfig `json:"detection" yaml:"detection" envPrefix:"DETECTION_"`
	Alert     AlertConfig     `json:"alert" yaml:"alert" envPrefix:"ALERT_"`
	Central   CentralConfig   `json:"central" yaml:"central" envPrefix:"CENTRAL_"`
	Platform  PlatformConfig  `json:"platform" yaml:"platform" envPrefix:"PLATFORM_"`
	Identity  IdentityConfig  `json:"identity" yaml:"identity" envPrefix:"IDENTITY_"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch" envPrefix:"DISPATCH_"`
	NATS      NATSConfig      `json:"nats" yaml:"nats" envPrefix:"NATS_"`
	Web       WebConfig       `json:"web" yaml:"web" envPrefix:"WEB_"`
}

// Default returns the built-in configuration, with identity derived from the host
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pyroalert"
	}

	return &Config{
		Detection: DetectionConfig{
			Threshold:      0.1,
			AlertThreshold: 0.6,
			Subject:        "detections.camera_001",
		},
		Alert: AlertConfig{
			Cooldown: Duration(5 * time.Second),
		},
		Central: CentralConfig{
			URL:              "ws://localhost:8080/ws/fire-alerts",
			ReconnectBackoff: Duration(5 * time.Second),
			HandshakeTimeout: Duration(10 * time.Second),
			PingInterval:     Duration(20 * time.Second),
			PingTimeout:      Duration(10 * time.Second),
			WriteTimeout:     Duration(5 * time.Second),
		},
		Platform: PlatformConfig{
			ServerURL:      "http://localhost:8080",
			AlertPath:      "/api/v1/alert",
			RequestTimeout: Duration(5 * time.Second),
			TokenTTL:       Duration(time.Hour),
		},
		Identity: IdentityConfig{
			DeviceName:      hostname,
			SourceDeviceID:  deriveDeviceID(hostname),
			CameraID:        "camera_001",
			Location:        "Factory Zone A",
			Latitude:        27.6745405,
			Longitude:       85.4478716,
			DetectionMethod: "YOLO vision",
			AlertSource:     "automated_detection",
			NodeModel:       detectNodeModel(),
		},
		Dispatch: DispatchConfig{
			Workers:   4,
			QueueSize: 32,
		},
		NATS: NATSConfig{
			Port:       4222,
			MaxPayload: 1024 * 1024,
		},
		Web: WebConfig{
			Port: 8090,
		},
	}
}

// LoadDotEnv loads a .env file into the process environment. A missing
// default file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return &ConfigurationError{Field: ".env", Err: err}
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &ConfigurationError{Field: path, Err: err}
	}
	return nil
}

// Load builds the configuration: defaults, then the optional file, then
// PYRO_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, &ConfigurationError{Field: "environment", Err: err}
	}

	if err := cfg.resolveSecret(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads a JSON or YAML config file over the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigurationError{Field: path, Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return &ConfigurationError{Field: path, Err: fmt.Errorf("failed to parse: %w", err)}
	}
	return nil
}

// resolveSecret reads the device secret from disk when configured by path
func (c *Config) resolveSecret() error {
	if c.Platform.DeviceSecretFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Platform.DeviceSecretFile)
	if err != nil {
		return &ConfigurationError{Field: "platform.deviceSecretFile", Err: err}
	}
	c.Platform.DeviceSecret = strings.TrimSpace(string(data))
	if c.Platform.DeviceSecret == "" {
		return &ConfigurationError{Field: "platform.deviceSecretFile", Err: fmt.Errorf("%s is empty", c.Platform.DeviceSecretFile)}
	}
	return nil
}

// AlertURL returns the full backend submission URL
func (c *Config) AlertURL() string {
	return strings.TrimRight(c.Platform.ServerURL, "/") + c.Platform.AlertPath
}

// WriteDefault writes the default configuration to path as indented JSON
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// deriveDeviceID builds a stable source device id from the primary MAC,
// falling back to the hostname
func deriveDeviceID(hostname string) string {
	mac := getMACAddress()
	if mac == "" {
		return "pyro-" + hostname
	}
	return "pyro-" + strings.ReplaceAll(mac, ":", "")
}

// getMACAddress returns the primary MAC address
func getMACAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		// Skip loopback and interfaces that are down
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if iface.Name == "docker0" || strings.HasPrefix(iface.Name, "br-") || strings.HasPrefix(iface.Name, "veth") {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// detectNodeModel detects the hardware model
func detectNodeModel() string {
	data, err := os.ReadFile("/proc/device-tree/model")
	if err == nil {
		return strings.TrimRight(string(data), "\x00\n")
	}

	if _, err := os.Stat("/sys/devices/soc0/family"); err == nil {
		return "NVIDIA Jetson"
	}

	return "Generic Linux"
}
