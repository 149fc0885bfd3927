package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/gateway"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// handleUpgrade verifies an upgrade request with the gateway, completes
// the handshake and serves the connection until it ends.
func (s *Server) handleUpgrade(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"message": http.StatusText(http.StatusUpgradeRequired)})
		return
	}

	id := s.newID()
	log := s.logger.WithContext(observability.ContextWithConnectionID(c.Request.Context(), id))

	verdict := s.gateway.VerifyClient(c.Request.Context(), id, c.Request)
	if !verdict.Verified {
		log.Debug("connection rejected", observability.Int("status", verdict.StatusCode))
		reject(c, verdict)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered the request.
		log.Debug("websocket upgrade failed", observability.Error(err))
		s.gateway.Abandon(id)
		return
	}

	identity := events.Identity{
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	conn := newConn(ws, id, identity, s.cfg.WriteTimeout)

	if err := s.gateway.AddClient(conn, id); err != nil {
		log.Warn("connection not registered", observability.Error(err))
		_ = conn.Close(gateway.CloseGoingAway, gateway.ReasonGoingAway)
		s.gateway.Abandon(id)
		return
	}

	conn.serve(s.gateway, s.cfg.MaxMessageSize)
}

// reject answers a refused upgrade. A verdict without a status is
// refused with 401.
func reject(c *gin.Context, v gateway.Verdict) {
	status := v.StatusCode
	if status == 0 {
		status = http.StatusUnauthorized
	}
	for k, val := range v.Headers {
		c.Header(k, val)
	}
	msg := v.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.String(status, msg)
}

func (s *Server) registerConnectionRoutes(r gin.IRoutes) {
	r.POST("/@connections/:id", s.postToConnection)
	r.GET("/@connections/:id", s.getConnection)
	r.DELETE("/@connections/:id", s.deleteConnection)
}

func gone(c *gin.Context) {
	c.JSON(http.StatusGone, gin.H{"message": http.StatusText(http.StatusGone)})
}

func (s *Server) postToConnection(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if !s.gateway.Send(c.Param("id"), body) {
		gone(c)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getConnection(c *gin.Context) {
	info, ok := s.gateway.Info(c.Param("id"))
	if !ok {
		gone(c)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) deleteConnection(c *gin.Context) {
	if !s.gateway.Close(c.Param("id")) {
		gone(c)
		return
	}
	c.Status(http.StatusNoContent)
}
