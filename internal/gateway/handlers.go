package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gluk-w/termhub/internal/ids"
	"github.com/gluk-w/termhub/internal/logging"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/sshclient"
	"github.com/gluk-w/termhub/internal/status"
	"github.com/gluk-w/termhub/internal/vault"
	"github.com/google/uuid"
)

func (g *Gateway) handlePing(c *Client, _ json.RawMessage, correlationID string) {
	c.send(EvPong, nil, correlationID)
}

// handleReconnect runs the bulk reconnect protocol: re-bind the listed
// sessions, reply with the session inventory, then replay each non-empty
// disconnect delta as a terminal:buffer message. The reply is sent
// before any replay so the client can allocate terminals first.
func (g *Gateway) handleReconnect(c *Client, raw json.RawMessage, correlationID string) {
	var p reconnectPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}

	res := g.mgr.HandleClientReconnect(c.ID, p.SessionIDs)
	c.send(EvReconnectReply, res, correlationID)

	for _, snap := range res.Buffers {
		if snap.OutputSinceDisconnect == "" {
			continue
		}
		c.send(EvTerminalBuffer, map[string]any{
			"sessionId": snap.SessionID,
			"data":      snap.OutputSinceDisconnect,
			"isReplay":  true,
		}, "")
	}
}

func (g *Gateway) handleSessionCreate(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionCreatePayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}

	if p.Type == string(session.TypeRemoteShell) {
		g.connectRemote(c, p.ProjectID, p.SSH, correlationID, EvSessionCreated)
		return
	}

	s, err := g.mgr.CreateTerminalSession(c.ctx, c.ID, p.ProjectID, p.Terminal)
	if err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
		return
	}
	c.send(EvSessionCreated, g.infoOf(s), correlationID)
}

func (g *Gateway) handleSessionTerminate(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionIDPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.TerminateSession(p.SessionID); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
		return
	}
	c.send(EvSessionTerminated, map[string]string{"sessionId": p.SessionID}, correlationID)
}

func (g *Gateway) handleSessionList(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionListPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	var infos []session.Info
	if p.ProjectID != "" {
		infos = g.mgr.ListProject(p.ProjectID)
	} else {
		infos = g.mgr.List()
	}
	if infos == nil {
		infos = []session.Info{}
	}
	c.send(EvSessionListResponse, map[string]any{"sessions": infos}, correlationID)
}

func (g *Gateway) handleTerminalInput(c *Client, raw json.RawMessage, correlationID string) {
	var p terminalInputPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.Write(p.SessionID, []byte(p.Data)); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
	}
}

func (g *Gateway) handleTerminalResize(c *Client, raw json.RawMessage, correlationID string) {
	var p terminalResizePayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.Resize(p.SessionID, p.Cols, p.Rows); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
	}
}

// handleTerminalReconnect re-attaches a single session and replies with
// the disconnect delta inline.
func (g *Gateway) handleTerminalReconnect(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionIDPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}

	res := g.mgr.HandleClientReconnect(c.ID, []string{p.SessionID})
	if len(res.ActiveSessions) == 0 {
		c.send(EvTerminalReconnectReply, map[string]any{
			"sessionId": p.SessionID,
			"success":   false,
			"error":     "session not found or terminated",
		}, correlationID)
		return
	}

	reply := map[string]any{
		"sessionId":     p.SessionID,
		"success":       true,
		"currentStatus": res.ActiveSessions[0].Activity,
	}
	if len(res.Buffers) > 0 {
		reply["bufferedOutput"] = res.Buffers[0].OutputSinceDisconnect
	}
	c.send(EvTerminalReconnectReply, reply, correlationID)
}

func (g *Gateway) handleTerminalClear(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionIDPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if !g.buffers.Clear(p.SessionID) {
		c.sendError(CodeBufferNotFound, "no buffer for session "+p.SessionID, correlationID)
		return
	}
	c.send(EvTerminalClear, map[string]string{"sessionId": p.SessionID}, correlationID)
}

func (g *Gateway) handlePatternAdd(c *Client, raw json.RawMessage, correlationID string) {
	var p patternAddPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if p.ID == "" {
		p.ID = ids.New(ids.Pattern)
	}
	p.Enabled = true
	if err := g.detector.AddPattern(p.Pattern); err != nil {
		c.sendError(CodeValidationFailed, "invalid pattern: "+err.Error(), correlationID)
		return
	}
	c.send(EvStatusPatternAdd, map[string]string{"id": p.ID}, correlationID)
}

func (g *Gateway) handlePatternRemove(c *Client, raw json.RawMessage, correlationID string) {
	var p patternRemovePayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	removed := g.detector.RemovePattern(p.ID)
	c.send(EvStatusPatternRemove, map[string]any{"id": p.ID, "removed": removed}, correlationID)
}

func (g *Gateway) handlePatternsList(c *Client, _ json.RawMessage, correlationID string) {
	patterns := g.detector.GetPatterns()
	if patterns == nil {
		patterns = []status.Pattern{}
	}
	c.send(EvStatusPatternsList, map[string]any{"patterns": patterns}, correlationID)
}

func (g *Gateway) handleSSHConnect(c *Client, raw json.RawMessage, correlationID string) {
	var p sshConnectPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	g.connectRemote(c, p.ProjectID, p.SSH, correlationID, EvSSHConnected)
}

// connectRemote dials an SSH session off the read loop. Dialing must
// not block dispatch: keyboard-interactive answers arrive over the same
// connection this handler was invoked from.
func (g *Gateway) connectRemote(c *Client, projectID string, cfg session.SSHConfig, correlationID, replyEvent string) {
	if cfg.CredentialID != "" {
		if err := g.resolveCredential(&cfg); err != nil {
			c.sendError(CodeSSHAuthFailed, err.Error(), correlationID)
			return
		}
	}

	go func() {
		s, err := g.mgr.CreateRemoteSession(c.ctx, c.ID, projectID, cfg, g.interactiveFunc(c))
		if err != nil {
			c.sendError(codeFor(err), err.Error(), correlationID)
			return
		}
		c.send(replyEvent, g.infoOf(s), correlationID)
	}()
}

// resolveCredential fills host and secrets from the vault record.
func (g *Gateway) resolveCredential(cfg *session.SSHConfig) error {
	if g.vault == nil || !g.vault.Initialized() {
		return errors.New("credential vault is not configured")
	}
	rec, err := g.vault.Get(cfg.CredentialID)
	if err != nil {
		return err
	}
	password, privateKey, err := g.vault.Secrets(cfg.CredentialID)
	if err != nil {
		return err
	}
	if cfg.Host == "" {
		cfg.Host = rec.Host
	}
	if cfg.Port == 0 {
		cfg.Port = rec.Port
	}
	if cfg.Username == "" {
		cfg.Username = rec.Username
	}
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = rec.AuthMethod
	}
	cfg.Password = password
	cfg.PrivateKey = privateKey
	logging.Debugf("[gateway] credential %s resolved for %s@%s:%d (secret %s)",
		cfg.CredentialID, cfg.Username, cfg.Host, cfg.Port, vault.Mask(rec.EncryptedPassword))
	return nil
}

// interactiveFunc bridges SSH keyboard-interactive challenges to the
// browser: emit the prompts, then block the dial until the client's
// answers come back or the window expires.
func (g *Gateway) interactiveFunc(c *Client) sshclient.InteractiveFunc {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		if len(questions) == 0 {
			return nil, nil
		}
		requestID := uuid.New().String()
		ch := c.addPending(requestID)
		defer c.removePending(requestID)

		c.send(EvSSHKeyboardInteractive, map[string]any{
			"requestId":   requestID,
			"name":        name,
			"instruction": instruction,
			"prompts":     questions,
			"echos":       echos,
		}, "")

		select {
		case answers := <-ch:
			return answers, nil
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(kiTimeout):
			log.Printf("[gateway] keyboard-interactive request %s timed out", requestID)
			return nil, errors.New("keyboard-interactive prompt timed out")
		}
	}
}

func (g *Gateway) handleSSHInput(c *Client, raw json.RawMessage, correlationID string) {
	var p terminalInputPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.Write(p.SessionID, []byte(p.Data)); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
	}
}

func (g *Gateway) handleSSHResize(c *Client, raw json.RawMessage, correlationID string) {
	var p terminalResizePayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.Resize(p.SessionID, p.Cols, p.Rows); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
	}
}

func (g *Gateway) handleSSHClose(c *Client, raw json.RawMessage, correlationID string) {
	var p sessionIDPayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if err := g.mgr.TerminateSession(p.SessionID); err != nil {
		c.sendError(codeFor(err), err.Error(), correlationID)
		return
	}
	c.send(EvSSHClose, map[string]string{"sessionId": p.SessionID}, correlationID)
}

func (g *Gateway) handleKeyboardResponse(c *Client, raw json.RawMessage, correlationID string) {
	var p keyboardResponsePayload
	if err := decode(raw, &p); err != nil {
		c.sendError(CodeValidationFailed, err.Error(), correlationID)
		return
	}
	if !c.deliverPending(p.RequestID, p.Answers) {
		c.sendError(CodeValidationFailed, "no pending prompt for request "+p.RequestID, correlationID)
	}
}

func (g *Gateway) infoOf(s *session.Session) session.Info {
	infos := g.mgr.ListProject(s.ProjectID)
	for _, info := range infos {
		if info.ID == s.ID {
			return info
		}
	}
	return session.Info{ID: s.ID, Type: s.Type, ProjectID: s.ProjectID, Status: s.State()}
}
