package remoteadapter

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/volvotools/vagdiag/internal/adapter"
)

// Server exposes a local adapter.Device over HTTP/JSON, matching the
// routes Client dials. Grounded on
// _examples/guiperry-HASHER/cmd/driver/hasher-host/main.go's runAPIServer
// (gin.New + gin.Recovery, an "/api/v1"-style grouped route table, JSON
// handlers returning gin.H maps) — the handler bodies are new, the
// router shape is the teacher's.
type Server struct {
	device adapter.Device

	mu       sync.Mutex
	channels map[string]adapter.Channel
	nextID   uint64
}

// NewServer wraps device (typically a *usbtransport.Device) for remote
// access.
func NewServer(device adapter.Device) *Server {
	return &Server{device: device, channels: make(map[string]adapter.Channel)}
}

// Router builds the gin.Engine serving s's routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/channels", s.handleConnect)
	router.DELETE("/device", s.handleCloseDevice)

	ch := router.Group("/channels/:id")
	ch.GET("/read", s.handleRead)
	ch.POST("/write", s.handleWrite)
	ch.POST("/periodic/start", s.handleStartPeriodic)
	ch.POST("/periodic/stop", s.handleStopPeriodic)
	ch.POST("/filter", s.handleSetFilter)
	ch.POST("/ioctl", s.handleIoctl)
	ch.POST("/clear-rx", s.handleClearRx)
	ch.POST("/clear-tx", s.handleClearTx)
	ch.POST("/config", s.handleSetConfig)
	ch.DELETE("", s.handleCloseChannel)

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", s.handleMetrics)

	return router
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics reports basic daemon-side counters for operators who
// script health checks over curl (SPEC_FULL §6 "Daemon health").
func (s *Server) handleMetrics(c *gin.Context) {
	s.mu.Lock()
	openChannels := len(s.channels)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"open_channels": openChannels})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := s.device.Connect(req.Protocol, req.Flags, req.Baud)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.nextID++
	id := strconv.FormatUint(s.nextID, 10)
	s.channels[id] = channel
	s.mu.Unlock()

	c.JSON(http.StatusOK, connectResponse{ChannelID: id})
}

func (s *Server) handleCloseDevice(c *gin.Context) {
	if err := s.device.Close(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) channel(c *gin.Context) (adapter.Channel, bool) {
	s.mu.Lock()
	ch, ok := s.channels[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown channel %q", c.Param("id"))})
	}
	return ch, ok
}

func (s *Server) handleRead(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}

	timeoutMs, _ := strconv.ParseInt(c.Query("timeout_ms"), 10, 64)
	frames, err := ch.Read(time.Duration(timeoutMs) * time.Millisecond)
	if err != nil {
		writeAdapterError(c, err)
		return
	}

	encoded := make([]string, len(frames))
	for i, f := range frames {
		encoded[i] = base64.StdEncoding.EncodeToString(f)
	}
	c.JSON(http.StatusOK, readResponse{Frames: encoded})
}

func (s *Server) handleWrite(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}

	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frames := make([][]byte, len(req.Frames))
	for i, f := range req.Frames {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frames[i] = b
	}

	n, err := ch.Write(frames, 5*time.Second)
	if err != nil {
		writeAdapterError(c, err)
		return
	}
	c.JSON(http.StatusOK, writeResponse{Written: n})
}

func (s *Server) handleStartPeriodic(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	var req startPeriodicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := base64.StdEncoding.DecodeString(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle, err := ch.StartPeriodic(frame, time.Duration(req.IntervalMs)*time.Millisecond)
	if err != nil {
		writeAdapterError(c, err)
		return
	}
	c.JSON(http.StatusOK, startPeriodicResponse{Handle: uint32(handle)})
}

func (s *Server) handleStopPeriodic(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	var req struct {
		Handle uint32 `json:"handle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ch.StopPeriodic(adapter.PeriodicHandle(req.Handle)); err != nil {
		writeAdapterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetFilter(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	var req setFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mask, err1 := base64.StdEncoding.DecodeString(req.Mask)
	pattern, err2 := base64.StdEncoding.DecodeString(req.Pattern)
	flow, err3 := base64.StdEncoding.DecodeString(req.Flow)
	if err1 != nil || err2 != nil || err3 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 field"})
		return
	}
	handle, err := ch.SetFilter(req.Kind, mask, pattern, flow)
	if err != nil {
		writeAdapterError(c, err)
		return
	}
	c.JSON(http.StatusOK, setFilterResponse{Handle: uint32(handle)})
}

func (s *Server) handleIoctl(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	var req ioctlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := base64.StdEncoding.DecodeString(req.In)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := ch.Ioctl(req.ID, in, req.OutLen)
	if err != nil {
		writeAdapterError(c, err)
		return
	}
	c.JSON(http.StatusOK, ioctlResponse{Data: base64.StdEncoding.EncodeToString(out)})
}

func (s *Server) handleClearRx(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	if err := ch.ClearRx(); err != nil {
		writeAdapterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleClearTx(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	if err := ch.ClearTx(); err != nil {
		writeAdapterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetConfig(c *gin.Context) {
	ch, ok := s.channel(c)
	if !ok {
		return
	}
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ch.SetConfig(req.Pairs); err != nil {
		writeAdapterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCloseChannel(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	ch, ok := s.channels[id]
	delete(s.channels, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown channel %q", id)})
		return
	}
	if err := ch.Close(); err != nil {
		writeAdapterError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeAdapterError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var aerr *adapter.Error
	if errors.As(err, &aerr) && aerr.Code == adapter.Timeout {
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
