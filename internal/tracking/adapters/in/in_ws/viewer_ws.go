package in_ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"walktrack/internal/shared/config"
	"walktrack/internal/shared/logger"
	"walktrack/internal/tracking/adapters/out/ws"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 8192

// AuthFunc validates a token and returns the caller identity.
type AuthFunc func(token string) (userID, role string, err error)

// ViewerHandler upgrades GET /ws/sessions/{session_id} and subscribes the
// connection to the session's live locations. Viewers only listen; anything
// they send is read and discarded so pongs and close frames get processed.
type ViewerHandler struct {
	hub         *ws.Hub
	authFunc    AuthFunc
	authTimeout time.Duration
	pongWait    time.Duration
	upgrader    websocket.Upgrader
	log         *logger.Logger
}

// NewViewerHandler; a nil authFunc accepts every connection without a
// token message, for deployments that authenticate upstream.
func NewViewerHandler(hub *ws.Hub, authFunc AuthFunc, cfg config.WSConfig, log *logger.Logger) *ViewerHandler {
	return &ViewerHandler{
		hub:         hub,
		authFunc:    authFunc,
		authTimeout: cfg.AuthTimeout,
		pongWait:    cfg.PongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers of the owner app connect from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

type authMessage struct {
	Token string `json:"token"`
}

type subscribedMessage struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

func (h *ViewerHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.Warn(logger.Entry{
			Action:    "ws_upgrade_failed",
			Message:   err.Error(),
			SessionID: sessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
		return
	}

	userID, role, ok := h.authenticate(conn, sessionID)
	if !ok {
		return
	}

	viewer := h.hub.NewViewer(sessionID, userID, role, conn)
	ack, _ := json.Marshal(subscribedMessage{Status: "subscribed", SessionID: sessionID, UserID: userID})
	viewer.Preload(ack)

	if err := h.hub.Register(viewer); err != nil {
		h.reject(conn, sessionID, err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go h.readPump(viewer, conn)
}

// authenticate runs the token-first handshake. On failure the connection
// is already closed.
func (h *ViewerHandler) authenticate(conn *websocket.Conn, sessionID string) (userID, role string, ok bool) {
	if h.authFunc == nil {
		return "", "", true
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.authTimeout))

	var msg authMessage
	if err := conn.ReadJSON(&msg); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth timeout"))
		_ = conn.Close()
		h.log.Warn(logger.Entry{
			Action:    "ws_auth_failed",
			Message:   "no auth message received",
			SessionID: sessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
		return "", "", false
	}

	userID, role, err := h.authFunc(msg.Token)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid token"})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		_ = conn.Close()
		h.log.Warn(logger.Entry{
			Action:    "ws_auth_invalid_token",
			Message:   err.Error(),
			SessionID: sessionID,
			Error:     &logger.ErrObj{Msg: err.Error()},
		})
		return "", "", false
	}

	return userID, role, true
}

func (h *ViewerHandler) reject(conn *websocket.Conn, sessionID string, err error) {
	code, reason := websocket.CloseInternalServerErr, "registration failed"
	switch {
	case errors.Is(err, ws.ErrSessionEnded):
		code, reason = websocket.CloseNormalClosure, "session ended"
	case errors.Is(err, ws.ErrHubClosed):
		code, reason = websocket.CloseGoingAway, "server shutting down"
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()

	h.log.Info(logger.Entry{
		Action:    "ws_viewer_rejected",
		Message:   err.Error(),
		SessionID: sessionID,
	})
}

// readPump ends with Unregister; the hub then closes send and the write
// pump closes the connection.
func (h *ViewerHandler) readPump(v *ws.Viewer, conn *websocket.Conn) {
	defer h.hub.Unregister(v)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug(logger.Entry{
					Action:    "ws_read_error",
					Message:   v.ID,
					SessionID: v.SessionID,
					Error:     &logger.ErrObj{Msg: err.Error()},
				})
			}
			return
		}
	}
}
