// Package ws streams completion events over WebSocket. The stream is a
// mirror of the namespace's completion queue delivery, not a replacement:
// events still land on the queue for polling consumers.
package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arclight-os/core/internal/core"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/shared/types"
)

const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades control-plane connections to completion streams.
type Handler struct {
	core    *core.Core
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

func NewHandler(c *core.Core, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{core: c, logger: logger, metrics: metrics}
}

// StreamCompletions streams the namespace's completion events until the
// client disconnects.
func (h *Handler) StreamCompletions(c *gin.Context) {
	raw, err := strconv.ParseUint(c.Param("ns"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid namespace id"})
		return
	}
	ns := types.NamespaceID(raw)
	if !h.core.Namespaces().Exists(ns) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "namespace not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.StreamConnections.Inc()
		defer h.metrics.StreamConnections.Dec()
	}

	events, cancel := h.core.Scheduler().Watch(ns)
	defer cancel()

	// Reader goroutine: the stream is one-way, but reading is what
	// surfaces client disconnects and close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(gin.H{"type": "hello", "namespace": uint32(ns)}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(gin.H{"type": "completion", "event": ev}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
