package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"solarmax-monitor/internal/inverter"
	"solarmax-monitor/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	router   *gin.Engine
	server   *http.Server
	registry *prometheus.Registry
	logger   *zap.Logger
	port     int
	limiter  *rate.Limiter

	// mu serialises every exchange with the device; the protocol cannot
	// interleave requests on one connection.
	mu      sync.Mutex
	device  *inverter.SolarMax
	lastErr error
	lastAt  time.Time
}

type ServerConfig struct {
	Port     int
	Device   *inverter.SolarMax
	Registry *prometheus.Registry
	Logger   *zap.Logger
	// RateLimit is the number of live device queries allowed per second,
	// with bursts of up to Burst. Zero disables throttling.
	RateLimit float64
	Burst     int
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(logger))

	s := &Server{
		router:   router,
		registry: cfg.Registry,
		logger:   logger,
		port:     cfg.Port,
		limiter:  limiter,
		device:   cfg.Device,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	if s.registry != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/commands", s.commandsHandler)
		api.GET("/commands/:code", s.queryHandler)
		api.GET("/readings", s.readingsHandler)
		api.GET("/status", s.statusHandler)

		api.GET("/config/inverter", s.getInverterConfigHandler)
		api.POST("/config/inverter/test", s.testInverterConfigHandler)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		level := zap.DebugLevel
		if status >= 500 {
			level = zap.ErrorLevel
		} else if status >= 400 {
			level = zap.WarnLevel
		}

		logger.Check(level, "http_request").Write(
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// withDevice runs fn while holding exclusive access to the device and
// records the outcome for the health endpoint.
func (s *Server) withDevice(fn func(d *inverter.SolarMax) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := fn(s.device)
	if errors.Is(err, inverter.ErrUnknownCommand) {
		return err
	}
	s.lastErr = err
	s.lastAt = time.Now()
	return err
}

// writeError maps query errors to HTTP statuses. Protocol validation
// failures are reported as 502.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, inverter.ErrUnknownCommand):
		status = http.StatusNotFound
	case errors.Is(err, inverter.ErrConnectFailed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, inverter.ErrShortRead):
		status = http.StatusGatewayTimeout
	case errors.Is(err, inverter.ErrAlreadyOpen), errors.Is(err, inverter.ErrNotOpen):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) allow(c *gin.Context) bool {
	if s.limiter.Allow() {
		return true
	}
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "device query rate exceeded"})
	return false
}

func (s *Server) healthHandler(c *gin.Context) {
	s.mu.Lock()
	lastErr, lastAt := s.lastErr, s.lastAt
	s.mu.Unlock()

	resp := gin.H{
		"status":          "healthy",
		"inverter_online": !lastAt.IsZero() && lastErr == nil,
		"timestamp":       time.Now(),
	}
	if !lastAt.IsZero() {
		resp["last_query_at"] = lastAt
	}
	if lastErr != nil {
		resp["last_error"] = lastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) commandsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, inverter.Commands())
}

func (s *Server) queryHandler(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
		return
	}
	cmd, err := inverter.Lookup(code)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !s.allow(c) {
		return
	}

	var v inverter.Value
	err = s.withDevice(func(d *inverter.SolarMax) error {
		var qerr error
		v, qerr = d.Query(code)
		return qerr
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, inverter.Reading{Code: cmd.Code, Mnemonic: cmd.Mnemonic, Value: v, Unit: cmd.Unit})
}

func parseCodes(s string) ([]int, error) {
	if s == "" {
		return inverter.HeadlineCodes, nil
	}
	parts := strings.Split(s, ",")
	codes := make([]int, 0, len(parts))
	for _, p := range parts {
		code, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid code %q", p)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func (s *Server) readingsHandler(c *gin.Context) {
	codes, err := parseCodes(c.Query("codes"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, code := range codes {
		if _, err := inverter.Lookup(code); err != nil {
			s.writeError(c, err)
			return
		}
	}
	if !s.allow(c) {
		return
	}

	var readings []inverter.Reading
	err = s.withDevice(func(d *inverter.SolarMax) error {
		var qerr error
		readings, qerr = d.QueryMany(codes)
		return qerr
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"readings":  readings,
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	s.mu.Lock()
	status := s.device.Status()
	s.mu.Unlock()

	readings := make([]inverter.Reading, 0, len(status))
	for _, code := range inverter.Codes() {
		v, ok := status[code]
		if !ok {
			continue
		}
		cmd, _ := inverter.Lookup(code)
		readings = append(readings, inverter.Reading{Code: code, Mnemonic: cmd.Mnemonic, Value: v, Unit: cmd.Unit})
	}
	c.JSON(http.StatusOK, readings)
}

// InverterConfigResponse represents the inverter configuration
type InverterConfigResponse struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Address        int    `json:"address"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	VerifyChecksum bool   `json:"verify_checksum"`
}

// InverterConfigRequest represents a connection test request
type InverterConfigRequest struct {
	Host           string `json:"host" binding:"required"`
	Port           int    `json:"port" binding:"required,min=1,max=65535"`
	Address        int    `json:"address" binding:"min=0,max=255"`
	TimeoutSeconds int    `json:"timeout_seconds" binding:"required,min=1,max=60"`
}

func (s *Server) getInverterConfigHandler(c *gin.Context) {
	cfg := s.device.Config()
	c.JSON(http.StatusOK, InverterConfigResponse{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Address:        cfg.Address,
		TimeoutSeconds: int(cfg.Timeout.Seconds()),
		VerifyChecksum: cfg.VerifyChecksum,
	})
}

// Test an inverter configuration without applying it
func (s *Server) testInverterConfigHandler(c *gin.Context) {
	var req InverterConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "success": false})
		return
	}
	if !s.allow(c) {
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	probe := inverter.NewSolarMax(inverter.Config{
		Host:           req.Host,
		Port:           req.Port,
		Address:        req.Address,
		ConnectTimeout: timeout,
		Timeout:        timeout,
	}, inverter.WithLogger(s.logger))

	if err := probe.TestConnection(); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	v, err := probe.Query(inverter.CodeSoftwareVersion)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"software_version": v.String(),
	})
}
