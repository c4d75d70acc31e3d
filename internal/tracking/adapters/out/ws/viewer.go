package ws

import (
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/utils"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the write pump uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type closeReason int

const (
	reasonUnregistered closeReason = iota
	reasonQueueOverflow
	reasonSessionEnded
	reasonShutdown
)

func (r closeReason) String() string {
	switch r {
	case reasonQueueOverflow:
		return "queue_overflow"
	case reasonSessionEnded:
		return "session_ended"
	case reasonShutdown:
		return "shutdown"
	default:
		return "unregistered"
	}
}

func (r closeReason) frame() []byte {
	switch r {
	case reasonQueueOverflow:
		return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "viewer too slow")
	case reasonSessionEnded:
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	case reasonShutdown:
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	default:
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
}

// Viewer is one live connection watching one session.
type Viewer struct {
	ID        string
	SessionID string
	UserID    string
	Role      string

	conn Conn
	send chan []byte
	done chan struct{}

	// set by the hub loop before send is closed
	reason closeReason
}

// NewViewer creates an unregistered viewer with the hub's queue size.
func (h *Hub) NewViewer(sessionID, userID, role string, conn Conn) *Viewer {
	return &Viewer{
		ID:        utils.NewUUID(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		conn:      conn,
		send:      make(chan []byte, h.opts.queueSize),
		done:      make(chan struct{}),
	}
}

// Preload queues a frame ahead of any broadcast. Only valid before Register.
func (v *Viewer) Preload(msg []byte) bool {
	select {
	case v.send <- msg:
		return true
	default:
		return false
	}
}

// Done is closed once the write pump has exited and closed the connection.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// writePump is the only writer of v.conn after registration.
func (v *Viewer) writePump(h *Hub) {
	ticker := time.NewTicker(h.opts.pingInterval)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
		close(v.done)
	}()

	for {
		select {
		case msg, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(h.opts.writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, v.reason.frame())
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn(logger.Entry{
					Action:    "viewer_write_failed",
					Message:   err.Error(),
					SessionID: v.SessionID,
					Error:     &logger.ErrObj{Msg: err.Error()},
					Additional: map[string]any{
						"viewer_id": v.ID,
					},
				})
				h.Unregister(v)
				return
			}

		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(h.opts.writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Debug(logger.Entry{
					Action:    "viewer_ping_failed",
					Message:   err.Error(),
					SessionID: v.SessionID,
					Additional: map[string]any{
						"viewer_id": v.ID,
					},
				})
				h.Unregister(v)
				return
			}
		}
	}
}
