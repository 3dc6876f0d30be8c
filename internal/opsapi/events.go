package opsapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The ops API binds to an operator-only address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams every service event as JSON until the client goes
// away. Events are dropped, not queued without bound, when the client reads
// slower than the service emits.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	queue := make(chan vectorservice.Event, s.eventBuffer)
	var dropped atomic.Int64
	unsubscribe := s.svc.Subscribe(func(e vectorservice.Event) {
		select {
		case queue <- e:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	// The read side only watches for the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream opened", zap.String("remote_addr", c.ClientIP()))
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			if n := dropped.Load(); n > 0 {
				s.logger.Info("event stream closed", zap.Int64("dropped", n))
			}
			return
		case <-c.Request.Context().Done():
			return
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("event write failed", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
