package limitorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaifufi/limit-order-go/chain"
	"github.com/kaifufi/limit-order-go/server"
)

const (
	// Heartbeat interval
	HeartbeatInterval = 30 * time.Second

	// Reconnect settings
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10

	writeWait = 5 * time.Second
)

// WSEventHandler is called for every protocol event received
type WSEventHandler func(event *chain.Event)

// WSMessageHandler is called for every decoded message, events included
type WSMessageHandler func(msg *server.WSMessage)

// WSErrorHandler is a callback function for handling WebSocket errors
type WSErrorHandler func(err error)

// WSConfig holds configuration for the WebSocket client
type WSConfig struct {
	Endpoint             string
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	OnEvent              WSEventHandler
	OnMessage            WSMessageHandler
	OnError              WSErrorHandler
	OnConnect            func()
	OnDisconnect         func()
}

// WSClient follows the node's event feed. Subscriptions survive
// reconnects.
type WSClient struct {
	config WSConfig

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc

	// gorilla allows one concurrent writer.
	writeMtx sync.Mutex

	subMu         sync.RWMutex
	subscriptions map[string]struct{}
}

// NewWSClient creates a new WebSocket client
func NewWSClient(config WSConfig) *WSClient {
	if config.Endpoint == "" {
		config.Endpoint = wsEndpoint(DefaultHost)
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	return &WSClient{
		config:        config,
		subscriptions: make(map[string]struct{}),
	}
}

// Connect establishes a WebSocket connection. The connection is kept alive,
// and restored after failures, until ctx is done or Disconnect is called.
func (ws *WSClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}
	ws.ctx, ws.cancel = context.WithCancel(ctx)
	if err := ws.dial(ws.ctx); err != nil {
		ws.cancel()
		return err
	}
	return nil
}

// dial must be called with mu held.
func (ws *WSClient) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	ws.conn = conn
	ws.connected = true

	done := make(chan struct{})
	go ws.readLoop(conn, done)
	go ws.heartbeat(ctx, conn, done)

	if ws.config.OnConnect != nil {
		go ws.config.OnConnect()
	}
	return nil
}

// Disconnect closes the WebSocket connection and stops reconnecting
func (ws *WSClient) Disconnect() error {
	ws.mu.Lock()
	if ws.cancel != nil {
		ws.cancel()
	}
	if !ws.connected {
		ws.mu.Unlock()
		return nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.connected = false
	ws.mu.Unlock()

	ws.writeMtx.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	ws.writeMtx.Unlock()
	err := conn.Close()

	if ws.config.OnDisconnect != nil {
		go ws.config.OnDisconnect()
	}
	return err
}

// IsConnected returns the current connection status
func (ws *WSClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}

// Subscribe subscribes to a channel, server.ChannelAll for every event
func (ws *WSClient) Subscribe(channel string) error {
	if err := ws.sendMessage(&server.WSRequest{Action: server.ActionSubscribe, Channel: channel}); err != nil {
		return err
	}

	// Track subscription for reconnection
	ws.subMu.Lock()
	ws.subscriptions[channel] = struct{}{}
	ws.subMu.Unlock()
	return nil
}

// Unsubscribe unsubscribes from a channel
func (ws *WSClient) Unsubscribe(channel string) error {
	if err := ws.sendMessage(&server.WSRequest{Action: server.ActionUnsubscribe, Channel: channel}); err != nil {
		return err
	}

	ws.subMu.Lock()
	delete(ws.subscriptions, channel)
	ws.subMu.Unlock()
	return nil
}

// SubscribeOrderFilled subscribes to standard order fills
func (ws *WSClient) SubscribeOrderFilled() error {
	return ws.Subscribe(server.ChannelOrderFilled)
}

// SubscribeOrderFilledRFQ subscribes to RFQ order fills
func (ws *WSClient) SubscribeOrderFilledRFQ() error {
	return ws.Subscribe(server.ChannelOrderFilledRFQ)
}

// SubscribeOrderCancelled subscribes to cancellations
func (ws *WSClient) SubscribeOrderCancelled() error {
	return ws.Subscribe(server.ChannelOrderCancelled)
}

// SubscribeBitInvalidatorUpdated subscribes to nonce bitmap updates
func (ws *WSClient) SubscribeBitInvalidatorUpdated() error {
	return ws.Subscribe(server.ChannelBitInvalidatorUpdated)
}

// SubscribeEpochIncreased subscribes to epoch changes
func (ws *WSClient) SubscribeEpochIncreased() error {
	return ws.Subscribe(server.ChannelEpochIncreased)
}

// SubscribeAll subscribes to every event
func (ws *WSClient) SubscribeAll() error {
	return ws.Subscribe(server.ChannelAll)
}

// sendMessage sends a message over the WebSocket connection
func (ws *WSClient) sendMessage(msg interface{}) error {
	ws.mu.RLock()
	conn := ws.conn
	ws.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return ws.write(conn, msg)
}

func (ws *WSClient) write(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ws.writeMtx.Lock()
	defer ws.writeMtx.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (ws *WSClient) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.write(conn, &server.WSRequest{Action: server.ActionHeartbeat}); err != nil {
				ws.onError(fmt.Errorf("heartbeat failed: %w", err))
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop reads until the connection fails, then hands over to
// reconnection.
func (ws *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			ws.handleDisconnect(conn, err)
			return
		}

		var msg server.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.onError(fmt.Errorf("bad message: %w", err))
			continue
		}
		if ws.config.OnMessage != nil {
			ws.config.OnMessage(&msg)
		}
		switch msg.MsgType {
		case server.MsgTypeEvent:
			if msg.Event != nil && ws.config.OnEvent != nil {
				ws.config.OnEvent(msg.Event)
			}
		case server.MsgTypeError:
			ws.onError(fmt.Errorf("server: %s", msg.Error))
		}
	}
}

func (ws *WSClient) onError(err error) {
	if ws.config.OnError != nil {
		ws.config.OnError(err)
	}
}

// handleDisconnect handles a failed connection and attempts reconnection.
// A connection closed by Disconnect is not current anymore and is ignored.
func (ws *WSClient) handleDisconnect(conn *websocket.Conn, err error) {
	ws.mu.Lock()
	if ws.conn != conn {
		ws.mu.Unlock()
		return
	}
	ws.conn = nil
	ws.connected = false
	ctx := ws.ctx
	ws.mu.Unlock()
	conn.Close()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		ws.onError(fmt.Errorf("read error: %w", err))
	}
	if ws.config.OnDisconnect != nil {
		ws.config.OnDisconnect()
	}

	go ws.attemptReconnect(ctx)
}

// attemptReconnect attempts to reconnect to the WebSocket
func (ws *WSClient) attemptReconnect(ctx context.Context) {
	for attempt := 1; attempt <= ws.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(ws.config.ReconnectInterval):
		}

		ws.mu.Lock()
		if ctx.Err() != nil || ws.connected {
			ws.mu.Unlock()
			return
		}
		err := ws.dial(ctx)
		ws.mu.Unlock()
		if err != nil {
			ws.onError(fmt.Errorf("reconnect attempt %d failed: %w", attempt, err))
			continue
		}

		ws.resubscribe()
		return
	}

	ws.onError(fmt.Errorf("max reconnect attempts (%d) reached", ws.config.MaxReconnectAttempts))
}

// resubscribe resubscribes to all tracked subscriptions
func (ws *WSClient) resubscribe() {
	for _, channel := range ws.GetSubscriptions() {
		if err := ws.sendMessage(&server.WSRequest{Action: server.ActionSubscribe, Channel: channel}); err != nil {
			ws.onError(fmt.Errorf("resubscribe failed: %w", err))
		}
	}
}

// GetSubscriptions returns the subscribed channels, sorted
func (ws *WSClient) GetSubscriptions() []string {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	subs := make([]string, 0, len(ws.subscriptions))
	for channel := range ws.subscriptions {
		subs = append(subs, channel)
	}
	sort.Strings(subs)
	return subs
}
