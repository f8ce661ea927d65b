// Package gateway mediates the duplex JSON event channel between
// browser clients and the session core: registration, validation, rate
// limiting, dispatch, per-session fanout and the reconnect protocol.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/logging"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/sshclient"
	"github.com/gluk-w/termhub/internal/status"
	"github.com/gluk-w/termhub/internal/vault"
	"github.com/google/uuid"
)

// maxMessageSize bounds one inbound frame.
const maxMessageSize = 1024 * 1024

type handlerFunc func(c *Client, raw json.RawMessage, correlationID string)

// Gateway owns the client table and the event dispatch table.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*Client

	mgr      *session.Manager
	buffers  *buffer.Engine
	detector *status.Detector
	vault    *vault.Vault

	corsOrigin string
	handlers   map[string]handlerFunc
}

// New builds a gateway over the core services. The vault may be nil
// when no master password is configured.
func New(mgr *session.Manager, buffers *buffer.Engine, detector *status.Detector, v *vault.Vault, corsOrigin string) *Gateway {
	g := &Gateway{
		clients:    make(map[string]*Client),
		mgr:        mgr,
		buffers:    buffers,
		detector:   detector,
		vault:      v,
		corsOrigin: corsOrigin,
	}
	g.handlers = map[string]handlerFunc{
		EvPing:                g.handlePing,
		EvReconnect:           g.handleReconnect,
		EvSessionCreate:       g.handleSessionCreate,
		EvSessionTerminate:    g.handleSessionTerminate,
		EvSessionList:         g.handleSessionList,
		EvTerminalInput:       g.handleTerminalInput,
		EvTerminalResize:      g.handleTerminalResize,
		EvTerminalReconnect:   g.handleTerminalReconnect,
		EvTerminalClear:       g.handleTerminalClear,
		EvStatusPatternAdd:    g.handlePatternAdd,
		EvStatusPatternRemove: g.handlePatternRemove,
		EvStatusPatternsList:  g.handlePatternsList,
		EvSSHConnect:          g.handleSSHConnect,
		EvSSHInput:            g.handleSSHInput,
		EvSSHResize:           g.handleSSHResize,
		EvSSHClose:            g.handleSSHClose,
		EvSSHKeyboardResponse: g.handleKeyboardResponse,
	}
	return g
}

// HandleWS upgrades an HTTP request to the event channel.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if g.corsOrigin != "" {
		opts.OriginPatterns = []string{g.corsOrigin}
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Printf("[gateway] accept: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	g.Serve(r.Context(), &wsWire{conn: conn})
	conn.Close(websocket.StatusNormalClosure, "")
}

// Serve runs the read loop for one connection until it closes. Exposed
// on the wire interface so tests can drive an in-memory channel.
func (g *Gateway) Serve(ctx context.Context, conn wire) {
	clientID := uuid.New().String()
	c := newClient(clientID, conn, ctx)

	g.mu.Lock()
	g.clients[clientID] = c
	g.mu.Unlock()

	c.send(EvConnected, map[string]string{"clientId": clientID}, "")
	log.Printf("[gateway] client %s connected", clientID)

	defer func() {
		g.mu.Lock()
		delete(g.clients, clientID)
		g.mu.Unlock()
		g.mgr.HandleClientDisconnect(clientID)
		log.Printf("[gateway] client %s disconnected", clientID)
	}()

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		g.dispatch(c, data)
	}
}

// dispatch applies the per-event discipline: rate limit, then schema
// validation inside the handler, then the handler itself. Handlers
// never panic the loop; unexpected failures become INTERNAL_ERROR.
func (g *Gateway) dispatch(c *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(CodeInvalidMessage, "message is not valid JSON", "")
		return
	}
	if msg.Event == "" {
		c.sendError(CodeInvalidMessage, "missing event name", msg.CorrelationID)
		return
	}

	logging.Debugf("[gateway] client %s event %s", c.ID, msg.Event)

	if ok, silent := c.allow(msg.Event); !ok {
		if !silent {
			c.sendError(CodeRateLimited, "rate limit exceeded for "+msg.Event, msg.CorrelationID)
		}
		return
	}

	h, ok := g.handlers[msg.Event]
	if !ok {
		c.sendError(CodeInvalidMessage, "unknown event "+msg.Event, msg.CorrelationID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] handler %s panicked: %v", msg.Event, r)
			c.sendError(CodeInternal, "internal error", msg.CorrelationID)
		}
	}()
	h(c, msg.Payload, msg.CorrelationID)
}

func (g *Gateway) client(id string) *Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients[id]
}

// ownerOf returns the client currently entitled to a session's output.
func (g *Gateway) ownerOf(sessionID string) *Client {
	owner := g.mgr.Owner(sessionID)
	if owner == "" {
		return nil
	}
	return g.client(owner)
}

// FanoutOutput forwards raw shell output to the owning client only.
func (g *Gateway) FanoutOutput(sessionID string, data []byte) {
	c := g.ownerOf(sessionID)
	if c == nil {
		return
	}
	logging.Tracef("[gateway] session %s output %d bytes", sessionID, len(data))
	c.send(EvTerminalOutput, map[string]any{
		"sessionId": sessionID,
		"data":      string(data),
	}, "")
}

// FanoutStatusChange forwards an activity transition to the owner.
func (g *Gateway) FanoutStatusChange(change *status.Change) {
	c := g.ownerOf(change.SessionID)
	if c == nil {
		return
	}
	c.send(EvStatusChange, map[string]any{
		"sessionId":      change.SessionID,
		"previousStatus": change.PreviousStatus,
		"newStatus":      change.NewStatus,
		"matchedPattern": change.MatchedPattern,
		"timestamp":      change.Timestamp.UnixMilli(),
	}, "")
}

// FanoutStateChange forwards a lifecycle transition to the owner.
func (g *Gateway) FanoutStateChange(sessionID string, previous, next session.State) {
	c := g.ownerOf(sessionID)
	if c == nil {
		return
	}
	c.send(EvSessionStatusChange, map[string]any{
		"sessionId": sessionID,
		"previous":  previous,
		"status":    next,
	}, "")
}

// FanoutTermination announces a session's end to the owner.
func (g *Gateway) FanoutTermination(sessionID string, exitCode *int) {
	c := g.ownerOf(sessionID)
	if c == nil {
		return
	}
	payload := map[string]any{"sessionId": sessionID}
	if exitCode != nil {
		payload["exitCode"] = *exitCode
	}
	c.send(EvSessionTerminated, payload, "")
}

// FanoutSessionError reports an unrecoverable session error to the owner.
func (g *Gateway) FanoutSessionError(sessionID string, err error) {
	c := g.ownerOf(sessionID)
	if c == nil {
		return
	}
	c.send(EvSessionError, map[string]any{
		"sessionId": sessionID,
		"code":      codeFor(err),
		"message":   err.Error(),
	}, "")
}

// codeFor maps core errors onto the stable wire codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, session.ErrSessionTerminated):
		return CodeSessionTerminated
	case errors.Is(err, session.ErrProjectNotFound):
		return CodeProjectNotFound
	case errors.Is(err, session.ErrSpawnFailed):
		return CodePTYSpawnFailed
	case errors.Is(err, session.ErrWriteFailed):
		return CodePTYWriteFailed
	case errors.Is(err, sshclient.ErrAuth):
		return CodeSSHAuthFailed
	case errors.Is(err, sshclient.ErrTimeout):
		return CodeSSHTimeout
	case errors.Is(err, sshclient.ErrConnection):
		return CodeSSHConnFailed
	default:
		return CodeInternal
	}
}

// ClientCount reports connected clients, used by the stats endpoint.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}
