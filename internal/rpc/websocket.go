package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/mempool"
)

// Subscription kinds.
const (
	subNewHeads               = "newHeads"
	subNewPendingTransactions = "newPendingTransactions"
)

// WSSubscriptionManager manages WebSocket connections and subscriptions.
type WSSubscriptionManager struct {
	mu          sync.RWMutex
	subscribers map[uint64]*wsSubscription
	nextID      atomic.Uint64
	handler     *Handler
	logger      log.Logger
	upgrader    websocket.Upgrader
}

const (
	// wsWriteTimeout bounds a single frame write to a client.
	wsWriteTimeout = 10 * time.Second

	// wsSendQueue is the number of outbound messages buffered per connection.
	// A client that falls this far behind is disconnected.
	wsSendQueue = 256
)

var (
	errConnClosed    = errors.New("websocket connection closed")
	errSendQueueFull = errors.New("websocket send queue full")
)

// wsConn queues outbound messages for a single writer goroutine, so event
// forwarding never waits on a client's socket.
type wsConn struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, queue int) *wsConn {
	return &wsConn{
		conn:   conn,
		send:   make(chan []byte, queue),
		closed: make(chan struct{}),
	}
}

// writeLoop writes queued messages until the connection closes or a write
// fails or times out.
func (c *wsConn) writeLoop() {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// writeJSON queues v without blocking. When the queue is full the
// connection is closed.
func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.close()
		return errSendQueueFull
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

type wsSubscription struct {
	id      uint64
	conn    *wsConn
	subType string
}

type wsNotification struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  wsNotifParams `json:"params"`
}

type wsNotifParams struct {
	Subscription string      `json:"subscription"`
	Result       interface{} `json:"result"`
}

// NewWSSubscriptionManager creates a new WebSocket subscription manager.
func NewWSSubscriptionManager(handler *Handler) *WSSubscriptionManager {
	return &WSSubscriptionManager{
		subscribers: make(map[uint64]*wsSubscription),
		handler:     handler,
		logger:      log.New("module", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for devnet
			},
		},
	}
}

// Start subscribes to pool and chain events and forwards them to WebSocket
// subscribers until ctx is done.
func (m *WSSubscriptionManager) Start(ctx context.Context, pool *mempool.MemPool, ch *chain.Chain) {
	txCh := make(chan mempool.NewTxsEvent, 256)
	txSub := pool.SubscribeNewTxsEvent(txCh)
	headCh := make(chan chain.ChainHeadEvent, 16)
	headSub := ch.SubscribeChainHeadEvent(headCh)

	go m.loop(ctx, txCh, txSub, headCh, headSub)
}

func (m *WSSubscriptionManager) loop(ctx context.Context, txCh <-chan mempool.NewTxsEvent, txSub event.Subscription, headCh <-chan chain.ChainHeadEvent, headSub event.Subscription) {
	defer txSub.Unsubscribe()
	defer headSub.Unsubscribe()

	for {
		select {
		case ev := <-txCh:
			for _, tx := range ev.Txs {
				m.broadcast(subNewPendingTransactions, tx.Hash())
			}
		case ev := <-headCh:
			m.broadcast(subNewHeads, newRPCHeader(ev.Header))
		case err := <-txSub.Err():
			if err != nil {
				m.logger.Warn("Pending transaction feed closed", "err", err)
			}
			return
		case err := <-headSub.Err():
			if err != nil {
				m.logger.Warn("Chain head feed closed", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and manages subscriptions.
func (m *WSSubscriptionManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("WebSocket upgrade failed", "err", err)
		return
	}
	conn := newWSConn(raw, wsSendQueue)
	defer conn.close()
	defer m.cleanupConn(conn)
	go conn.writeLoop()

	m.logger.Debug("WebSocket connection established", "remote", r.RemoteAddr)

	for {
		_, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("WebSocket read error", "err", err)
			}
			return
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			m.writeError(conn, nil, codeParseError, "parse error")
			continue
		}

		switch req.Method {
		case "mempool_subscribe":
			m.handleSubscribe(conn, &req)
		case "mempool_unsubscribe":
			m.handleUnsubscribe(conn, &req)
		default:
			conn.writeJSON(m.handler.Handle(r.Context(), &req))
		}
	}
}

func (m *WSSubscriptionManager) handleSubscribe(conn *wsConn, req *JSONRPCRequest) {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		m.writeError(conn, req.ID, codeInvalidParams, "invalid subscription type")
		return
	}

	subType := params[0]
	switch subType {
	case subNewHeads, subNewPendingTransactions:
	default:
		m.writeError(conn, req.ID, codeInvalidParams, fmt.Sprintf("unsupported subscription type: %s", subType))
		return
	}

	sub := &wsSubscription{id: m.nextID.Add(1), conn: conn, subType: subType}
	m.mu.Lock()
	m.subscribers[sub.id] = sub
	m.mu.Unlock()

	m.logger.Debug("New subscription", "id", sub.id, "type", subType)
	m.writeResult(conn, req.ID, hexutil.Uint64(sub.id))
}

func (m *WSSubscriptionManager) handleUnsubscribe(conn *wsConn, req *JSONRPCRequest) {
	var params []hexutil.Uint64
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		m.writeError(conn, req.ID, codeInvalidParams, "invalid subscription id")
		return
	}

	id := uint64(params[0])
	m.mu.Lock()
	sub, exists := m.subscribers[id]
	exists = exists && sub.conn == conn
	if exists {
		delete(m.subscribers, id)
	}
	m.mu.Unlock()

	m.writeResult(conn, req.ID, exists)
}

// broadcast sends result to every subscriber of subType. Subscriptions whose
// connection fails to write are dropped.
func (m *WSSubscriptionManager) broadcast(subType string, result interface{}) {
	m.mu.RLock()
	targets := make([]*wsSubscription, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		if sub.subType == subType {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		err := sub.conn.writeJSON(&wsNotification{
			JSONRPC: "2.0",
			Method:  "mempool_subscription",
			Params: wsNotifParams{
				Subscription: hexutil.EncodeUint64(sub.id),
				Result:       result,
			},
		})
		if err != nil {
			m.logger.Debug("Failed to write to subscriber", "id", sub.id, "err", err)
			m.mu.Lock()
			delete(m.subscribers, sub.id)
			m.mu.Unlock()
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (m *WSSubscriptionManager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// cleanupConn removes all subscriptions for a disconnected connection.
func (m *WSSubscriptionManager) cleanupConn(conn *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subscribers {
		if sub.conn == conn {
			delete(m.subscribers, id)
		}
	}
}

func (m *WSSubscriptionManager) writeResult(conn *wsConn, id interface{}, result interface{}) {
	encoded, _ := json.Marshal(result)
	raw := json.RawMessage(encoded)
	conn.writeJSON(&JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: &raw})
}

func (m *WSSubscriptionManager) writeError(conn *wsConn, id interface{}, code int, msg string) {
	conn.writeJSON(&JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: msg},
	})
}
