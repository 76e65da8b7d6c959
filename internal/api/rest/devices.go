package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	runners := s.lm.Pollers().Runners()

	response := make([]gin.H, 0, len(runners))
	for _, runner := range runners {
		cfg := runner.Config()
		conn := runner.ConnInfo()

		entry := gin.H{
			"id":       cfg.DeviceID,
			"name":     cfg.Name,
			"location": cfg.Location,
			"address":  cfg.Endpoint(),
			"state":    conn.State,
			"channels": len(cfg.Channels),
		}
		if h, ok := s.lm.Health().DeviceHealth(cfg.DeviceID); ok {
			entry["status"] = h.Status
		}

		response = append(response, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": response,
		"count":   len(response),
	})
}

// GET /api/v1/devices/:id
func (s *Server) getDevice(c *gin.Context) {
	deviceID := c.Param("id")

	runner, exists := s.lm.Pollers().Runner(deviceID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"config":     runner.Config(),
		"connection": runner.ConnInfo(),
	})
}

// GET /api/v1/devices/:id/health
func (s *Server) getDeviceHealth(c *gin.Context) {
	deviceID := c.Param("id")

	health, exists := s.lm.Health().DeviceHealth(deviceID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	c.JSON(http.StatusOK, health)
}

// GET /api/v1/devices/:id/readings
func (s *Server) getDeviceReadings(c *gin.Context) {
	deviceID := c.Param("id")

	runner, exists := s.lm.Pollers().Runner(deviceID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	readings := runner.LatestReadings()

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"readings":  readings,
		"count":     len(readings),
	})
}
