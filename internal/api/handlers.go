package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/hwmond/internal/network"
	"github.com/gin-gonic/gin"
)

type monitoringStatus struct {
	Running    bool   `json:"running"`
	IntervalMS int64  `json:"interval_ms"`
	Executed   uint64 `json:"executed"`
	Skipped    uint64 `json:"skipped"`
	Clients    int    `json:"clients"`
}

type intervalRequest struct {
	IntervalMS int64 `json:"interval_ms" binding:"required,gt=0"`
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap := s.monitor.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getPrimaryNetwork(c *gin.Context) {
	snap := s.monitor.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot available yet"})
		return
	}

	primary, ok := network.Primary(snap.Network)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no network adapter"})
		return
	}
	c.JSON(http.StatusOK, primary)
}

func (s *Server) status() monitoringStatus {
	stats := s.monitor.Stats()
	return monitoringStatus{
		Running:    s.monitor.Running(),
		IntervalMS: s.monitor.Interval().Milliseconds(),
		Executed:   stats.Executed,
		Skipped:    stats.Skipped,
		Clients:    s.hub.ClientCount(),
	}
}

func (s *Server) getMonitoring(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) startMonitoring(c *gin.Context) {
	if err := s.monitor.Start(s.baseCtx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) stopMonitoring(c *gin.Context) {
	s.monitor.Stop()
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) setInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_ms must be a positive integer"})
		return
	}

	if err := s.monitor.SetInterval(time.Duration(req.IntervalMS) * time.Millisecond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	s.hub.serve(conn)
}
