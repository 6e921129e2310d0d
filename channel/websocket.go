package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/hub"
)

// Broadcaster fans the event stream out to WebSocket clients. It implements
// http.Handler for the accept endpoint; NewWebSocketChannel attaches it to a
// hub.
type Broadcaster struct {
	logger       *zap.Logger
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger:       logger.With(zap.String("component", "ws_broadcaster")),
		writeTimeout: 5 * time.Second,
		conns:        make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection subscribed until
// the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	b.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))

	// Drain client frames so pings are answered; any read error means the
	// client is gone.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "closing")
	b.logger.Debug("client disconnected", zap.String("remote", r.RemoteAddr))
}

// Broadcast writes one JSON-encoded event to every connected client. A
// failing client is dropped; the rest keep receiving.
func (b *Broadcaster) Broadcast(ev hub.EnrichedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("event marshal failed", zap.String("event_type", ev.Type()), zap.Error(err))
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), b.writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			b.mu.Lock()
			delete(b.conns, conn)
			b.mu.Unlock()
			conn.Close(websocket.StatusPolicyViolation, "write failed")
			b.logger.Debug("dropping slow client", zap.Error(err))
		}
	}
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for conn := range conns {
		conn.Close(websocket.StatusGoingAway, "hub stopped")
	}
}

// NewWebSocketChannel builds a channel that forwards every event to the
// broadcaster's clients and disconnects them when the hub stops.
func NewWebSocketChannel(b *Broadcaster) hub.ChannelDefinition {
	return hub.ChannelDefinition{
		Name: "websocket",
		On: map[string]hub.ChannelHandler{
			"*": func(cc hub.ChannelContext) error {
				b.Broadcast(cc.Event)
				return nil
			},
		},
		OnComplete: func(cc hub.ChannelContext) error {
			b.Close()
			return nil
		},
	}
}
