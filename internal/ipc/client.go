package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fnmoded/internal/keymode"
)

// Client errors.
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// DaemonError is an error the daemon reported for a request.
type DaemonError struct {
	Code    int
	Message string
}

func (e *DaemonError) Error() string {
	return e.Message
}

// ClientConfig configures the IPC client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// AutoReconnect re-dials after a lost connection. One-shot commands
	// leave it off; long-lived frontends turn it on.
	AutoReconnect bool
	ReconnectWait time.Duration
	MaxReconnect  int
}

// DefaultClientConfig returns client defaults for the given socket path.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "fnmodectl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  false,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called for each streamed event.
type EventHandler func(event *Event)

// Client talks to the daemon over the IPC socket.
type Client struct {
	mu            sync.RWMutex
	conn          net.Conn
	config        ClientConfig
	sessionID     string
	serverVersion string
	permission    PermissionLevel

	connected    atomic.Bool
	reconnecting atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32
	writeMu   sync.Mutex

	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client. Connect must be called before use.
func NewClient(cfg ClientConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:    cfg,
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials the daemon and performs the handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	conn, err := c.dial()
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrDaemonNotRunning) {
			return err
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.closeConn()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// Close shuts the client down.
func (c *Client) Close() error {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(c.eventChan)
	case <-time.After(2 * time.Second):
		// Reader still alive; leave the event channel open rather than
		// panic a pending send.
	}
	return nil
}

// closeConn tears the connection down and fails pending requests.
func (c *Client) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.mu.Unlock()

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the server-assigned session ID.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerVersion returns the daemon version from the handshake.
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// SetEventHandler registers a callback for streamed events. Events also
// arrive on the Events channel regardless.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the streamed event channel.
func (c *Client) Events() <-chan *Event {
	return c.eventChan
}

func (c *Client) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err == nil {
			return &DaemonError{Code: errResp.Code, Message: errResp.Message}
		}
		return errors.New("handshake rejected")
	}
	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.serverVersion = ack.ServerVersion
	c.permission = ack.Permission
	c.mu.Unlock()

	return nil
}

// request sends a request and waits for its response.
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

func (c *Client) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		encoded, err := Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		data = encoded
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeMessage(msg, 10*time.Second); err != nil {
		c.closeConn()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}
			c.closeConn()
			if c.config.AutoReconnect {
				// Reconnect on a fresh goroutine; this reader is done and
				// Connect will start its replacement.
				go c.tryReconnect()
			}
			return
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Keepalive answer.

	case MsgPing:
		c.writeMessage(NewMessage(MsgPong, msg.Header.RequestID, nil), 5*time.Second)

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
			// Consumer is behind; drop rather than stall the reader.
		}
		c.eventMu.RLock()
		handler := c.eventHandler
		c.eventMu.RUnlock()
		if handler != nil {
			go handler(&event)
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

func (c *Client) sendPing() {
	c.writeMessage(NewMessage(MsgPing, c.nextReqID.Add(1), nil), 5*time.Second)
}

// writeMessage serializes frame writes. Requests, pong replies, and
// keepalive pings share one connection across goroutines.
func (c *Client) writeMessage(msg *Message, deadline time.Duration) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(deadline))
	return msg.Write(conn)
}

func (c *Client) tryReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.config.MaxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.ReconnectWait):
		}
		if err := c.Connect(); err == nil {
			return
		}
	}
}

// call sends a request and decodes the response into out, translating a
// daemon error response into a DaemonError.
func (c *Client) call(msgType MessageType, payload, out any) error {
	return c.callTimeout(msgType, payload, out, c.config.RequestTimeout)
}

func (c *Client) callTimeout(msgType MessageType, payload, out any, timeout time.Duration) error {
	resp, err := c.requestWithTimeout(msgType, payload, timeout)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("undecodable daemon error: %w", err)
		}
		return &DaemonError{Code: errResp.Code, Message: errResp.Message}
	}
	if out != nil {
		if err := Decode(resp.Payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// High-level API.

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %#04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status fetches the daemon status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MsgStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Mode returns the current hardware mode.
func (c *Client) Mode() (keymode.KeyboardState, error) {
	var resp ModeResponse
	if err := c.call(MsgGetMode, nil, &resp); err != nil {
		return keymode.StateError, err
	}
	return resp.State, nil
}

// SetMode forces the hardware mode until the next focus change.
func (c *Client) SetMode(state keymode.KeyboardState) (*SetModeResponse, error) {
	var resp SetModeResponse
	if err := c.call(MsgSetMode, &SetModeRequest{State: state}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DefaultBehavior returns the global default behavior.
func (c *Client) DefaultBehavior() (keymode.AppBehavior, error) {
	var resp DefaultResponse
	if err := c.call(MsgGetDefault, nil, &resp); err != nil {
		return keymode.BehaviorInherited, err
	}
	return resp.Behavior, nil
}

// SetDefaultBehavior changes the global default behavior.
func (c *Client) SetDefaultBehavior(b keymode.AppBehavior) error {
	return c.call(MsgSetDefault, &SetDefaultRequest{Behavior: b}, nil)
}

// ListRules fetches every stored rule plus the default.
func (c *Client) ListRules() (*ListRulesResponse, error) {
	var resp ListRulesResponse
	if err := c.call(MsgListRules, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetRule upserts a rule.
func (c *Client) SetRule(req *SetRuleRequest) (*RuleInfo, error) {
	var resp SetRuleResponse
	if err := c.call(MsgSetRule, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Rule, nil
}

// DeleteRule removes a rule and reports whether one existed.
func (c *Client) DeleteRule(appID, origin string) (bool, error) {
	var resp DeleteRuleResponse
	if err := c.call(MsgDeleteRule, &DeleteRuleRequest{AppID: appID, Origin: origin}, &resp); err != nil {
		return false, err
	}
	return resp.Removed, nil
}

// ListApps fetches running applications with resolved behaviors.
func (c *Client) ListApps() ([]AppEntry, error) {
	var resp ListAppsResponse
	if err := c.call(MsgListApps, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Apps, nil
}

// ExportRules fetches the rule set as a portable document.
func (c *Client) ExportRules() ([]byte, error) {
	var resp ExportRulesResponse
	if err := c.call(MsgExportRules, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}

// ImportRules applies a rule-set document. Mode is "merge" or "replace".
func (c *Client) ImportRules(document []byte, mode string) (*ImportRulesResponse, error) {
	var resp ImportRulesResponse
	req := &ImportRulesRequest{Document: document, Mode: mode}
	if err := c.call(MsgImportRules, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenPanel asks the panel host to open a panel.
func (c *Client) OpenPanel(panel string) error {
	return c.call(MsgOpenPanel, &OpenPanelRequest{Panel: panel}, nil)
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	return c.callTimeout(MsgShutdown, nil, nil, 5*time.Second)
}

// Subscribe streams events of the given types, or all types when none
// are given.
func (c *Client) Subscribe(events ...EventType) error {
	var resp SubscribeResponse
	return c.call(MsgSubscribe, &SubscribeRequest{Events: events}, &resp)
}

// Unsubscribe stops the event stream.
func (c *Client) Unsubscribe() error {
	return c.call(MsgUnsubscribe, nil, nil)
}
