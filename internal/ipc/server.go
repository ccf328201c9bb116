package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fnmoded/internal/logging"
)

// ServerConfig configures the IPC server.
type ServerConfig struct {
	// SocketPath is the unix socket path, or the pipe name base on Windows.
	SocketPath string

	// Version is the daemon version reported in handshakes and status.
	Version string

	// MaxSessions limits concurrent client connections.
	MaxSessions int

	// ReadTimeout bounds a single message read. An idle session gets a
	// ping instead of being dropped.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single message write.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a server config for the given socket path.
// Path resolution lives in the config package; this only fills in the
// protocol timeouts.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:   socketPath,
		Version:      "dev",
		MaxSessions:  16,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// PeerCredentials identify the process on the other end of a connection.
type PeerCredentials struct {
	UID int
	GID int
	PID int
}

// Session is one connected client.
type Session struct {
	ID           string
	Name         string
	Version      string
	Permission   PermissionLevel
	Peer         PeerCredentials
	ConnectedAt  time.Time
	LastActivity time.Time

	conn    net.Conn
	writeMu sync.Mutex
}

// Handler processes requests the server does not answer itself.
type Handler interface {
	HandleMessage(ctx context.Context, sess *Session, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, sess *Session, msg *Message) (*Message, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, sess *Session, msg *Message) (*Message, error) {
	return f(ctx, sess, msg)
}

// subscription tracks which streamed events a session wants.
type subscription struct {
	id        string
	sessionID string
	events    map[EventType]struct{} // nil means all
	created   time.Time
}

func (s *subscription) wants(t EventType) bool {
	if s.events == nil {
		return true
	}
	_, ok := s.events[t]
	return ok
}

// Server accepts frontend connections and routes their requests.
type Server struct {
	mu          sync.RWMutex
	config      ServerConfig
	listener    net.Listener
	handler     Handler
	logger      *logging.Logger
	sessions    map[string]*Session
	subscribers map[string]*subscription
	startedAt   time.Time
	eventChan   chan *Event
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewServer creates an IPC server. The handler answers everything beyond
// ping, handshake, and subscription bookkeeping.
func NewServer(config ServerConfig, handler Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		config:      config,
		handler:     handler,
		logger:      logger.WithComponent("ipc"),
		sessions:    make(map[string]*Session),
		subscribers: make(map[string]*subscription),
		eventChan:   make(chan *Event, 100),
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}

	listener, err := listen(s.config.SocketPath)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen on %s: %w", s.config.SocketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.wg.Add(2)
	go s.acceptLoop()
	go s.eventBroadcaster()

	s.logger.Info("ipc server listening", "socket", s.config.SocketPath)
	return nil
}

// Stop shuts the server down and disconnects every session.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for id, sess := range s.sessions {
		sess.conn.Close()
		delete(s.sessions, id)
	}
	s.subscribers = make(map[string]*subscription)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc server stop timed out waiting for connections")
	}

	if runtime.GOOS != "windows" {
		os.Remove(s.config.SocketPath)
	}

	s.logger.Info("ipc server stopped")
	return nil
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Broadcast queues an event for every subscribed session. It never
// blocks; when the queue is full the event is dropped.
func (s *Server) Broadcast(event *Event) {
	if event == nil || !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		s.logger.Debug("event queue full, dropping event",
			"type", fmt.Sprintf("%#04x", uint16(event.Type)))
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if !s.running.Load() {
				return
			}
			s.logger.Debug("accept failed", "error", err)
			continue
		}

		cred, err := s.verifyPeer(conn)
		if err != nil {
			s.logger.Warn("rejecting ipc connection", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.sessions) >= s.config.MaxSessions {
			s.mu.Unlock()
			s.logger.Warn("rejecting ipc connection, session limit reached",
				"limit", s.config.MaxSessions)
			conn.Close()
			continue
		}
		sess := &Session{
			ID:           uuid.New().String(),
			Permission:   PermReadWrite,
			Peer:         *cred,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
			conn:         conn,
		}
		s.sessions[sess.ID] = sess
		s.mu.Unlock()

		s.logger.Debug("session opened", "session", sess.ID, "peer_pid", cred.PID)

		s.wg.Add(1)
		go s.handleConnection(sess)
	}
}

// verifyPeer rejects connections from other users. Socket permissions
// already restrict access on unix; the credential check closes the gap
// when the socket directory was replaced between creation and connect.
func (s *Server) verifyPeer(conn net.Conn) (*PeerCredentials, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return nil, fmt.Errorf("peer credentials unavailable: %w", err)
	}
	if cred.UID != os.Getuid() {
		return nil, fmt.Errorf("peer uid %d does not match daemon uid %d", cred.UID, os.Getuid())
	}
	return cred, nil
}

func (s *Server) handleConnection(sess *Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		delete(s.subscribers, sess.ID)
		s.mu.Unlock()
		sess.conn.Close()
		s.logger.Debug("session closed", "session", sess.ID, "client", sess.Name)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		msg, err := ReadMessage(sess.conn)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if err := s.sendPing(sess); err != nil {
					return
				}
				continue
			}
			return
		}

		sess.LastActivity = time.Now()

		resp, err := s.processMessage(sess, msg)
		if err != nil {
			s.logger.Warn("request failed",
				"session", sess.ID,
				"type", fmt.Sprintf("%#04x", uint16(msg.Header.Type)),
				"error", err)
			resp = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if resp != nil {
			if err := s.sendMessage(sess, resp); err != nil {
				return
			}
		}
	}
}

// processMessage answers protocol-level messages and delegates the rest
// to the handler.
func (s *Server) processMessage(sess *Session, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgPong:
		return nil, nil

	case MsgHandshake:
		return s.handleHandshake(sess, msg)

	case MsgSubscribe:
		return s.handleSubscribe(sess, msg)

	case MsgUnsubscribe:
		s.mu.Lock()
		delete(s.subscribers, sess.ID)
		s.mu.Unlock()
		return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil

	default:
		if s.handler == nil {
			return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "no handler registered"), nil
		}
		return s.handler.HandleMessage(s.ctx, sess, msg)
	}
}

func (s *Server) handleHandshake(sess *Session, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	sess.Name = req.ClientName
	sess.Version = req.ClientVersion

	s.logger.Debug("handshake complete",
		"session", sess.ID,
		"client", req.ClientName,
		"client_version", req.ClientVersion)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.config.Version,
		ProtocolVersion: ProtocolVersion,
		SessionID:       sess.ID,
		Permission:      sess.Permission,
	})
}

func (s *Server) handleSubscribe(sess *Session, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed subscribe request"), nil
		}
	}

	sub := &subscription{
		id:        uuid.New().String(),
		sessionID: sess.ID,
		created:   time.Now(),
	}
	if len(req.Events) > 0 {
		sub.events = make(map[EventType]struct{}, len(req.Events))
		for _, t := range req.Events {
			sub.events[t] = struct{}{}
		}
	}

	s.mu.Lock()
	s.subscribers[sess.ID] = sub
	s.mu.Unlock()

	s.logger.Debug("session subscribed",
		"session", sess.ID,
		"events", len(req.Events))

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		SubscriptionID: sub.id,
	})
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for {
		var event *Event
		select {
		case <-s.ctx.Done():
			return
		case event = <-s.eventChan:
		}

		s.mu.RLock()
		targets := make([]*Session, 0, len(s.subscribers))
		for sessID, sub := range s.subscribers {
			if !sub.wants(event.Type) {
				continue
			}
			if sess, ok := s.sessions[sessID]; ok {
				targets = append(targets, sess)
			}
		}
		s.mu.RUnlock()

		for _, sess := range targets {
			s.wg.Add(1)
			go func(sess *Session) {
				defer s.wg.Done()
				if err := s.sendEvent(sess, event); err != nil {
					s.logger.Debug("event delivery failed",
						"session", sess.ID,
						"error", err)
				}
			}(sess)
		}
	}
}

func (s *Server) sendEvent(sess *Session, event *Event) error {
	msg, err := NewResponse(MsgEvent, 0, event)
	if err != nil {
		return err
	}
	return s.sendMessage(sess, msg)
}

func (s *Server) sendPing(sess *Session) error {
	return s.sendMessage(sess, NewMessage(MsgPing, 0, nil))
}

func (s *Server) sendMessage(sess *Session, msg *Message) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return msg.Write(sess.conn)
}
