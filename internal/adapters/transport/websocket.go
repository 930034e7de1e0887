package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

const wsWriteTimeout = 5 * time.Second

// WebSocket exchanges JSON text frames with a gateway over one connection.
type WebSocket struct {
	base
	url    string
	header http.Header

	wmu  sync.Mutex
	conn *websocket.Conn
}

// NewWebSocket prepares a websocket client for url. Start dials.
func NewWebSocket(url string, header http.Header, opts ...Option) *WebSocket {
	w := &WebSocket{url: url, header: header}
	w.init("websocket", opts)
	return w
}

// Start dials the gateway and begins reading frames.
func (w *WebSocket) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.wmu.Lock()
	w.conn = conn
	w.wmu.Unlock()
	w.logger.Info(ctx, "connected", logger.String("url", w.url))
	go w.readLoop(ctx, conn)
	return nil
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.closeEvents()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				w.logger.Warn(ctx, "read failed", logger.Error(err))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		ev, err := w.decode(frame)
		if err != nil {
			w.logger.Warn(ctx, "skipping frame", logger.Error(err))
			continue
		}
		if !w.deliver(ctx, ev) && ctx.Err() != nil {
			return
		}
	}
}

// Send writes msg as one text frame.
func (w *WebSocket) Send(_ context.Context, msg model.Message) error {
	bs, err := encode(msg)
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if w.conn == nil {
		return ErrNotStarted
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, bs); err != nil {
		metrics.RecordTransportFrame(w.name, "out", "error")
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	metrics.RecordTransportFrame(w.name, "out", "ok")
	return nil
}

// Stop sends a close frame and closes the connection.
func (w *WebSocket) Stop(context.Context) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if w.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}
