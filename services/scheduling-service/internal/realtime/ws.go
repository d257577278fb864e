package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ReadMarker marks a notification read on behalf of its recipient.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, notificationID string) (model.NotificationRecord, error)
}

// Handler upgrades GET /ws to a websocket session. The access token comes
// from the access_token query parameter or the Authorization header.
type Handler struct {
	hub       *Hub
	resolver  identity.Resolver
	reads     ReadMarker
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize int
}

func NewHandler(hub *Hub, resolver identity.Resolver, reads ReadMarker, logger *slog.Logger, origins httpx.CORSPolicy) *Handler {
	return &Handler{
		hub:       hub,
		resolver:  resolver,
		reads:     reads,
		logger:    logger,
		queueSize: DefaultSendQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	who, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, string(model.KindUnauthorized), "invalid or missing access token", false)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := NewConn(who, h.queueSize)
	if err := h.hub.Register(c); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	h.logger.Info("realtime client connected", "conn_id", c.ID, "user_id", who.UserID)

	go h.writePump(ws, c)
	h.readPump(ws, c)
}

func (h *Handler) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		h.hub.Unregister(c)
		_ = ws.Close()
		h.logger.Info("realtime client disconnected", "conn_id", c.ID, "user_id", c.Identity.UserID)
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("realtime read failed", "conn_id", c.ID, "err", err)
			}
			return
		}
		h.handle(c, data)
	}
}

func (h *Handler) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case data := <-c.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.hub.Unregister(c)
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// handle processes one client frame. Failures are reported to the client and
// never close the connection.
func (h *Handler) handle(c *Conn, data []byte) {
	msg, err := DecodeClient(data)
	if err != nil {
		code := "BAD_REQUEST"
		if errors.Is(err, errUnknownType) {
			code = "UNKNOWN_TYPE"
		}
		h.hub.Reply(c, ErrorMessage{Code: code, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case SubscribeProvider:
		h.join(c, identity.ProviderRoom(m.ProviderID))
	case SubscribeSubject:
		h.join(c, identity.SubjectRoom(m.SubjectID))
	case NotificationRead:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := h.reads.MarkRead(ctx, c.Identity.UserID, m.NotificationID); err != nil {
			h.hub.Reply(c, errorReply(err))
		}
	}
}

func (h *Handler) join(c *Conn, room identity.Room) {
	if err := h.hub.Join(c, room); err != nil {
		h.hub.Reply(c, errorReply(err))
		return
	}
	h.hub.Reply(c, Subscribed{Room: room})
}

func errorReply(err error) ErrorMessage {
	var me *model.Error
	if errors.As(err, &me) {
		return ErrorMessage{Code: string(me.Kind), Message: me.Message}
	}
	return ErrorMessage{Code: string(model.KindTransient), Message: "request failed"}
}
