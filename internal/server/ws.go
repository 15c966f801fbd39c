package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Yuzoo0703/Trae-chat-room/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity comes from the query string, not the origin; the HTTP
	// collaborator owns real authentication.
	CheckOrigin: func(*http.Request) bool { return true },
}

var errBackpressure = errors.New("send buffer full")

// wsConn adapts a websocket to the relay's connection contract: a buffered
// send channel drained by one writer goroutine, with backpressure tearing the
// connection down instead of blocking the engine.
type wsConn struct {
	ws     *websocket.Conn
	sendCh chan protocol.Frame
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func newWSConn(parent context.Context, ws *websocket.Conn, buffer int, log *zap.Logger) *wsConn {
	ctx, cancel := context.WithCancel(parent)
	c := &wsConn{
		ws:     ws,
		sendCh: make(chan protocol.Frame, buffer),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go c.writer()
	return c
}

// Push queues a frame for delivery. Never blocks: a full buffer cancels the
// connection and reports backpressure.
func (c *wsConn) Push(frame protocol.Frame) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.sendCh <- frame:
		return nil
	default:
		c.cancel()
		return errBackpressure
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *wsConn) Close() error {
	c.cancel()
	return nil
}

func (c *wsConn) writer() {
	defer c.ws.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendCh:
			if err := c.ws.WriteJSON(frame); err != nil {
				c.log.Warn("websocket write failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

// handleWS upgrades the connection, resolves the supplied identity against
// the directory, and runs the read loop. Connections without a resolvable
// identity get exactly one error frame before the close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(r.Context(), ws, s.cfg.Relay.SendBuffer, s.log)

	q := r.URL.Query()
	user, rerr := s.relay.ResolveIdentity(q.Get("userId"), q.Get("username"))
	if rerr != nil {
		// Written directly: the writer goroutine has nothing queued yet, and
		// Close would race the frame out of the send buffer.
		_ = ws.WriteJSON(protocol.MustFrame(protocol.TypeError, protocol.Error{Message: rerr.Message}))
		conn.Close()
		return
	}

	displaced, had := s.relay.Connect(user, conn)
	if had && displaced != conn {
		_ = displaced.Close()
	}

	s.readLoop(user.ID, conn)
}

func (s *Server) readLoop(userID string, conn *wsConn) {
	defer func() {
		s.relay.Disconnect(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			// Protocol garbage gets no diagnostic.
			continue
		}

		if rerr := s.relay.HandleFrame(userID, conn, frame); rerr != nil {
			_ = conn.Push(protocol.MustFrame(protocol.TypeError, protocol.Error{Message: rerr.Message}))
			if rerr.Fatal {
				return
			}
		}
	}
}
