package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/kaifufi/limit-order-go/chain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 5 * time.Second
	// maxMessageSize is the largest client message accepted.
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{}

// wsClient is one websocket connection and its channel subscriptions.
type wsClient struct {
	conn *websocket.Conn
	addr string
	send chan *WSMessage
	quit chan struct{}
	once sync.Once

	subsMtx sync.RWMutex
	subs    map[string]bool
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

// queue hands msg to the write loop unless the client is closing.
func (c *wsClient) queue(msg *WSMessage) {
	select {
	case c.send <- msg:
	case <-c.quit:
	}
}

func (c *wsClient) subscribed(name string) bool {
	c.subsMtx.RLock()
	defer c.subsMtx.RUnlock()
	return c.subs[ChannelAll] || c.subs[name]
}

func (c *wsClient) setSubscription(channel string, on bool) {
	c.subsMtx.Lock()
	defer c.subsMtx.Unlock()
	if on {
		c.subs[channel] = true
	} else {
		delete(c.subs, channel)
	}
}

// handleWS upgrades the connection and streams committed engine events to
// the channels the client subscribes to.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Websocket upgrade for %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := &wsClient{
		conn: conn,
		addr: r.RemoteAddr,
		send: make(chan *WSMessage, sendBuffer),
		quit: make(chan struct{}),
		subs: make(map[string]bool),
	}
	feed, unsubscribe := s.ledger.Subscribe(s.cfg.FeedBuffer)

	s.wsMtx.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wsMtx.Unlock()
	log.Debugf("Websocket client %s connected, %d connected", c.addr, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(c, feed)
	}()

	s.readLoop(c)

	c.close()
	unsubscribe()
	wg.Wait()

	s.wsMtx.Lock()
	delete(s.clients, c)
	s.wsMtx.Unlock()
	log.Debugf("Websocket client %s disconnected", c.addr)
}

// readLoop handles client requests until the connection fails. A client
// that sends nothing, not even a pong, for two ping periods is dropped.
func (s *Server) readLoop(c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	deadline := 2 * s.cfg.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var req WSRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("Websocket read from %s failed: %v", c.addr, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		switch req.Action {
		case ActionHeartbeat:
			c.queue(&WSMessage{MsgType: MsgTypeHeartbeat})
		case ActionSubscribe, ActionUnsubscribe:
			if !channels[req.Channel] {
				c.queue(&WSMessage{MsgType: MsgTypeError, Channel: req.Channel, Error: "unknown channel"})
				continue
			}
			subscribe := req.Action == ActionSubscribe
			c.setSubscription(req.Channel, subscribe)
			msgType := MsgTypeUnsubscribed
			if subscribe {
				msgType = MsgTypeSubscribed
			}
			c.queue(&WSMessage{MsgType: msgType, Channel: req.Channel})
		default:
			c.queue(&WSMessage{MsgType: MsgTypeError, Error: "unknown action " + req.Action})
		}
	}
}

// writeLoop is the only writer of c.conn's data frames.
func (s *Server) writeLoop(c *wsClient, feed <-chan *types.Log) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()
	defer c.close()

	write := func(msg *WSMessage) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debugf("Websocket write to %s failed: %v", c.addr, err)
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-c.send:
			if !write(msg) {
				return
			}
		case lg, ok := <-feed:
			if !ok {
				return
			}
			if lg.Address != s.engine.Address() {
				continue
			}
			ev, err := chain.ParseEvent(lg)
			if err != nil {
				continue
			}
			if !c.subscribed(ev.Name) {
				continue
			}
			if !write(&WSMessage{MsgType: MsgTypeEvent, Channel: ev.Name, Event: ev}) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.Debugf("Websocket ping to %s failed: %v", c.addr, err)
				return
			}
		case <-c.quit:
			return
		}
	}
}

// closeClients disconnects every websocket client.
func (s *Server) closeClients() {
	s.wsMtx.Lock()
	defer s.wsMtx.Unlock()
	for c := range s.clients {
		c.close()
	}
}
