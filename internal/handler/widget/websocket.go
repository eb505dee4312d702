package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/service/mount"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	MountID   string      `json:"mountId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// handleWebSocket 处理渲染层的双向连接：上行事件，下行状态快照
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[websocket] upgrade failed")
		return
	}
	defer conn.Close()

	log.Debug().Str("mount", c.ID()).Msg("[websocket] connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	outbox := make(chan outgoingMessage, 8)
	go h.writeLoop(ctx, cancel, conn, updates, outbox)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("mount", c.ID()).Msg("[websocket] read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if reply, ok := h.handleMessage(c, msg); ok {
			select {
			case outbox <- reply:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleMessage applies one inbound message. Accepted events need no reply:
// the resulting state arrives through the subscription.
func (h *Handler) handleMessage(c *mount.Controller, msg inboundMessage) (outgoingMessage, bool) {
	if !c.Allow() {
		return errorMessage("too many events"), true
	}

	ev := Event{Type: msg.Type}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return errorMessage("invalid payload"), true
		}
		ev.Type = msg.Type
	}

	if _, err := applyEvent(c, ev); err != nil {
		if errors.Is(err, mount.ErrUnavailable) || errors.Is(err, errInvalidEvent) {
			return errorMessage(err.Error()), true
		}
		log.Warn().Err(err).Str("mount", c.ID()).Msg("[websocket] event failed")
		return errorMessage("event failed"), true
	}
	return outgoingMessage{}, false
}

// writeLoop 是连接上唯一的写入者
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, updates <-chan mount.Snapshot, outbox <-chan outgoingMessage) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var msg outgoingMessage
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unmounted"),
					time.Now().Add(writeTimeout))
				conn.Close()
				return
			}
			msg = outgoingMessage{Type: "state", MountID: snap.MountID, Data: snap, Timestamp: time.Now().Unix()}
		case msg = <-outbox:
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("[websocket] write failed")
			conn.Close()
			return
		}
	}
}

func errorMessage(message string) outgoingMessage {
	return outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
}
