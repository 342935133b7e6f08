package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/sportmart/orders/internal/logger"
)

const (
	joinDeadline = 10 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 4 << 10
	outboxSize   = 32
)

// joinMessage is the only client-to-server frame: everything after it is
// server push.
type joinMessage struct {
	Type string `json:"type"` // admin:join | user:join
	ID   string `json:"id"`
}

// Gateway upgrades HTTP requests and bridges sockets into the hub.
type Gateway struct {
	Hub *Hub
	Log *logger.Logger
}

func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.Log.Error("ws_accept", err, nil)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	join, err := readJoin(ctx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected join message")
		return
	}

	s := newWSSender(ctx, conn)
	go s.writePump()

	switch join.Type {
	case "admin:join":
		g.Hub.RegisterAdmin(join.ID, s)
	case "user:join":
		g.Hub.RegisterUser(join.ID, s)
	default:
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown join type")
		return
	}
	g.Log.Info("ws_connected", map[string]any{"join": join.Type, "id": join.ID})

	// Read loop exists only to notice the peer going away; inbound frames
	// are discarded.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	g.Hub.Unregister(s)
	s.Close()
	g.Log.Info("ws_disconnected", map[string]any{"join": join.Type, "id": join.ID})
}

func readJoin(ctx context.Context, conn *websocket.Conn) (*joinMessage, error) {
	joinCtx, cancel := context.WithTimeout(ctx, joinDeadline)
	defer cancel()
	_, data, err := conn.Read(joinCtx)
	if err != nil {
		return nil, err
	}
	var m joinMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// wsSender adapts one websocket connection to the hub's Sender contract:
// Send enqueues without blocking, the write pump drains.
type wsSender struct {
	ctx       context.Context
	cancel    context.CancelFunc
	conn      *websocket.Conn
	out       chan []byte
	closeOnce sync.Once
}

func newWSSender(parent context.Context, conn *websocket.Conn) *wsSender {
	ctx, cancel := context.WithCancel(parent)
	return &wsSender{ctx: ctx, cancel: cancel, conn: conn, out: make(chan []byte, outboxSize)}
}

func (s *wsSender) Send(msg []byte) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false // slow consumer, drop
	}
}

func (s *wsSender) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "closed")
	})
}

func (s *wsSender) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			writeCtx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}
