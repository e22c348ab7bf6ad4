package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dougsko/audiohook/pkg/monitor"
)

// handleGetStatus returns daemon status via socket
func (d *AudiohookDaemon) handleGetStatus(c *gin.Context) {
	resp, err := d.socketClient.SendCommand("STATUS")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	if !resp.Success {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": resp.Error,
		})
		return
	}

	c.JSON(http.StatusOK, resp.Data)
}

// handleGetDrivers lists the installed pro-audio drivers
func (d *AudiohookDaemon) handleGetDrivers(c *gin.Context) {
	drivers, err := d.socketClient.GetDrivers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"drivers": drivers,
		"count":   len(drivers),
	})
}

// handleGetSessions returns the session history
func (d *AudiohookDaemon) handleGetSessions(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		limit = 50
	}

	fetch := func() (interface{}, error) { return d.socketClient.GetSessions(limit) }
	if c.Query("active") == "true" {
		fetch = func() (interface{}, error) { return d.socketClient.GetActiveSessions() }
	}

	sessions, err := fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
	})
}

// handleGetEvents returns the event log of one session
func (d *AudiohookDaemon) handleGetEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := d.socketClient.GetEvents(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"events":     events,
	})
}

// handleGetLevels returns the current level and spectrum snapshot
func (d *AudiohookDaemon) handleGetLevels(c *gin.Context) {
	levels, err := d.socketClient.GetLevels()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, levels)
}

// handleGetConfig returns the exposed configuration values
func (d *AudiohookDaemon) handleGetConfig(c *gin.Context) {
	values, err := d.socketClient.ListConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, values)
}

// handlePlay starts the test consumer
func (d *AudiohookDaemon) handlePlay(c *gin.Context) {
	var req struct {
		Source string `json:"source"`
		Arg    string `json:"arg"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	name, err := d.socketClient.Play(req.Source, req.Arg)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "playing",
		"source": name,
	})
}

// handleStop stops the test consumer
func (d *AudiohookDaemon) handleStop(c *gin.Context) {
	if err := d.socketClient.StopPlayback(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "stopped",
	})
}

// handleReset asks the pro-audio backend to reload its driver
func (d *AudiohookDaemon) handleReset(c *gin.Context) {
	if err := d.socketClient.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "reset requested",
	})
}

// handlePanel opens the pro-audio driver's control panel
func (d *AudiohookDaemon) handlePanel(c *gin.Context) {
	if err := d.socketClient.Panel(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "control panel opened",
	})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleLevelsWebSocket streams level updates at up to 10Hz
func (d *AudiohookDaemon) handleLevelsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Warnf(component, "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	levelMonitor := d.coreEngine.Monitor()
	if levelMonitor == nil {
		conn.WriteJSON(map[string]string{
			"error": "level monitor not enabled",
		})
		return
	}

	updates := levelMonitor.Subscribe()
	defer levelMonitor.Unsubscribe(updates)

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var latest *monitor.LevelData
	for {
		select {
		case level, ok := <-updates:
			if !ok {
				return
			}
			latest = &level

		case <-ticker.C:
			if latest == nil {
				continue
			}
			spectrum := levelMonitor.GetCurrentSpectrum()
			data := map[string]interface{}{
				"type":        "levels",
				"timestamp":   latest.Timestamp,
				"rms":         latest.RMSLevel,
				"peak":        latest.PeakLevel,
				"clipping":    latest.Clipping,
				"sample_rate": spectrum.SampleRate,
				"spectrum": map[string]interface{}{
					"bins":      spectrum.Spectrum,
					"freq_step": spectrum.FreqStep,
				},
			}
			latest = nil

			if err := conn.WriteJSON(data); err != nil {
				d.log.Debugf(component, "websocket write error: %v", err)
				return
			}

		case <-closed:
			return

		case <-d.ctx.Done():
			return
		}
	}
}
