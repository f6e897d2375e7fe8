package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AgentMesh-Net/labeler-go/internal/stream"
	"github.com/AgentMesh-Net/labeler-go/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// SubscribeLabels handles GET /xrpc/com.atproto.label.subscribeLabels.
// Sessions receive only events published after they attach.
func (h *handlers) SubscribeLabels(w http.ResponseWriter, r *http.Request) {
	sub, err := h.pub.Subscribe()
	if err != nil {
		util.WriteError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "stream is shutting down")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("session", sub.ID, "remote", r.RemoteAddr)
	logger.Info("stream session opened", "subscribers", h.pub.SubscriberCount())

	// Clients never send anything meaningful; reading keeps control frames
	// flowing and notices disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeStream(conn, sub.Err())
				logger.Info("stream session detached", "reason", sub.Err())
				return
			}
			frame, err := ev.Frame()
			if err != nil {
				logger.Error("encode frame", "seq", ev.Seq, "err", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logger.Info("stream send failed", "seq", ev.Seq, "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Info("stream ping failed", "err", err)
				return
			}
		case <-done:
			logger.Info("stream session closed by client")
			return
		case <-h.bg.Done():
			h.closeStream(conn, stream.ErrClosed)
			return
		}
	}
}

// closeStream sends an error frame naming why the server is dropping the
// session, then a close frame.
func (h *handlers) closeStream(conn *websocket.Conn, reason error) {
	name, msg := stream.ErrorShutdown, "server shutting down"
	if errors.Is(reason, stream.ErrLagged) {
		name, msg = stream.ErrorConsumerTooSlow, "subscriber fell behind the live stream"
	}
	deadline := time.Now().Add(writeWait)
	if frame, err := stream.EncodeErrorFrame(name, msg); err == nil {
		conn.SetWriteDeadline(deadline)
		conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, name), deadline)
}
