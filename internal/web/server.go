// Package web serves the node's local status API
package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/somash07/PyroAlert/internal/central"
	"github.com/somash07/PyroAlert/internal/config"
	"github.com/somash07/PyroAlert/internal/detection"
	"github.com/somash07/PyroAlert/internal/dispatch"
	"github.com/somash07/PyroAlert/internal/metrics"
	"github.com/somash07/PyroAlert/internal/natsserver"
)

// ChannelStatus reports the persistent channel
type ChannelStatus interface {
	Stats() central.Stats
}

// DispatchStatus reports the delivery pool
type DispatchStatus interface {
	Stats() dispatch.Stats
}

// BusStatus reports the detection bus
type BusStatus interface {
	GetStats() natsserver.Stats
}

// CooldownStatus reports the per-class gate
type CooldownStatus interface {
	Cooldown() time.Duration
	Snapshot() map[detection.Label]time.Time
}

// Deps are the components the status API reports on. Any of them may be nil.
type Deps struct {
	Channel  ChannelStatus
	Dispatch DispatchStatus
	Bus      BusStatus
	Cooldown CooldownStatus
	Metrics  *metrics.Metrics
}

// Server is the status API server
type Server struct {
	config  *config.Config
	deps    Deps
	port    int
	started time.Time
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a status server
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  cfg,
		deps:    deps,
		port:    cfg.Web.Port,
		started: time.Now(),
		router:  gin.New(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Printf("🌐 Status API starting on http://0.0.0.0:%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ServeHTTP lets the router be driven directly
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	s.router.Use(cors.New(corsCfg))

	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleAPIStatus)
		api.GET("/resources", s.handleAPIResources)
		api.GET("/config", s.handleAPIConfig)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	channel := "unknown"
	if s.deps.Channel != nil {
		channel = s.deps.Channel.Stats().State
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"channel":   channel,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleAPIStatus(c *gin.Context) {
	id := s.config.Identity

	status := gin.H{
		"deviceName":     id.DeviceName,
		"sourceDeviceId": id.SourceDeviceID,
		"cameraId":       id.CameraID,
		"location":       id.Location,
		"nodeModel":      id.NodeModel,
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"thresholds": gin.H{
			"detection": s.config.Detection.Threshold,
			"alert":     s.config.Detection.AlertThreshold,
		},
	}

	if s.deps.Channel != nil {
		status["channel"] = s.deps.Channel.Stats()
	}
	if s.deps.Dispatch != nil {
		status["dispatch"] = s.deps.Dispatch.Stats()
	}
	if s.deps.Bus != nil {
		status["nats"] = s.deps.Bus.GetStats()
	}
	if s.deps.Cooldown != nil {
		last := lo.MapEntries(s.deps.Cooldown.Snapshot(), func(label detection.Label, t time.Time) (string, string) {
			return string(label), t.Format(time.RFC3339)
		})
		status["cooldown"] = gin.H{
			"window":    s.deps.Cooldown.Cooldown().String(),
			"lastAlert": last,
		}
	}
	if m := s.deps.Metrics; m != nil {
		frames := gin.H{
			"received":  m.FramesReceived.Load(),
			"malformed": m.FramesMalformed.Load(),
		}
		if ts := m.LastFrameUnix.Load(); ts > 0 {
			frames["lastFrameAt"] = time.Unix(ts, 0).Format(time.RFC3339)
		}
		status["frames"] = frames
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAPIResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"resources": getResources(),
	})
}

// handleAPIConfig returns the running configuration with secrets removed
func (s *Server) handleAPIConfig(c *gin.Context) {
	cfg := *s.config
	if cfg.Platform.DeviceSecret != "" {
		cfg.Platform.DeviceSecret = "***"
	}
	c.JSON(http.StatusOK, cfg)
}

// getResources returns current host resources
func getResources() map[string]interface{} {
	resources := map[string]interface{}{
		"timestamp": time.Now(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		resources["cpuPercent"] = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		resources["memoryTotal"] = memInfo.Total
		resources["memoryUsed"] = memInfo.Used
		resources["memoryPercent"] = memInfo.UsedPercent
	}

	if usage, err := disk.Usage("/"); err == nil {
		resources["diskPercent"] = usage.UsedPercent
	}

	if uptime, err := host.Uptime(); err == nil {
		resources["hostUptime"] = uptime
	}

	return resources
}
