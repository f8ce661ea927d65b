package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wire is the minimal duplex message channel the gateway needs. The
// production implementation wraps a websocket; tests use an in-memory
// pipe.
type wire interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// wsWire adapts coder/websocket to the wire interface.
type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsWire) WriteMessage(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsWire) Close(code int, reason string) error {
	return w.conn.Close(websocket.StatusCode(code), reason)
}

// Client is one registered browser connection. Writes are serialized by
// writeMu so messages reach the client in send order.
type Client struct {
	ID   string
	conn wire
	ctx  context.Context

	writeMu sync.Mutex

	bucketMu sync.Mutex
	buckets  map[string]*tokenBucket

	kiMu      sync.Mutex
	pendingKI map[string]chan []string
}

func newClient(id string, conn wire, ctx context.Context) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		ctx:       ctx,
		buckets:   make(map[string]*tokenBucket),
		pendingKI: make(map[string]chan []string),
	}
}

// send marshals and writes one message with the server timestamp set.
func (c *Client) send(event string, payload any, correlationID string) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = data
	}
	msg := Message{
		Event:         event,
		Payload:       raw,
		CorrelationID: correlationID,
		Timestamp:     nowMillis(),
	}
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(c.ctx, data)
}

// sendError emits the standard error reply shape.
func (c *Client) sendError(code, message, correlationID string) {
	c.send(EvError, &ErrorPayload{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Timestamp:     nowMillis(),
	}, correlationID)
}

// allow checks the client's token bucket for the event. The second
// return value reports whether overflow should be dropped silently.
func (c *Client) allow(event string) (ok, silent bool) {
	rule, limited := rateLimits[event]
	if !limited {
		return true, false
	}
	c.bucketMu.Lock()
	tb, exists := c.buckets[event]
	if !exists {
		tb = newTokenBucket(rule.perSecond)
		c.buckets[event] = tb
	}
	c.bucketMu.Unlock()
	return tb.allow(), rule.silentDrop
}

// addPending registers a keyboard-interactive continuation.
func (c *Client) addPending(requestID string) chan []string {
	ch := make(chan []string, 1)
	c.kiMu.Lock()
	c.pendingKI[requestID] = ch
	c.kiMu.Unlock()
	return ch
}

func (c *Client) removePending(requestID string) {
	c.kiMu.Lock()
	delete(c.pendingKI, requestID)
	c.kiMu.Unlock()
}

// deliverPending hands prompt answers to the waiting continuation.
func (c *Client) deliverPending(requestID string, answers []string) bool {
	c.kiMu.Lock()
	ch, ok := c.pendingKI[requestID]
	c.kiMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- answers:
		return true
	default:
		return false
	}
}

// kiTimeout bounds how long an interactive auth prompt may stay open.
const kiTimeout = 2 * time.Minute
