// Package ipc connects the fnmoded daemon with its frontends (ctl, tray,
// panel host) over a local socket.
//
// The protocol is a fixed 16-byte binary header followed by a JSON
// payload: request/response for commands, plus a push stream of events
// for subscribed clients. Access is restricted to the daemon owner's
// uid through socket permissions and peer credentials.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"fnmoded/internal/bus"
	"fnmoded/internal/keymode"
)

// Protocol version for compatibility checking.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x46495043 // "FIPC" - fnmoded IPC
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006
	MsgShutdownResp MessageType = 0x0007

	// Status (0x01xx)
	MsgStatus     MessageType = 0x0100
	MsgStatusResp MessageType = 0x0101

	// Keyboard mode and default behavior (0x02xx)
	MsgGetMode        MessageType = 0x0200
	MsgGetModeResp    MessageType = 0x0201
	MsgSetMode        MessageType = 0x0202
	MsgSetModeResp    MessageType = 0x0203
	MsgGetDefault     MessageType = 0x0204
	MsgGetDefaultResp MessageType = 0x0205
	MsgSetDefault     MessageType = 0x0206
	MsgSetDefaultResp MessageType = 0x0207

	// Rules (0x03xx)
	MsgListRules       MessageType = 0x0300
	MsgListRulesResp   MessageType = 0x0301
	MsgSetRule         MessageType = 0x0302
	MsgSetRuleResp     MessageType = 0x0303
	MsgDeleteRule      MessageType = 0x0304
	MsgDeleteRuleResp  MessageType = 0x0305
	MsgExportRules     MessageType = 0x0306
	MsgExportRulesResp MessageType = 0x0307
	MsgImportRules     MessageType = 0x0308
	MsgImportRulesResp MessageType = 0x0309

	// Running applications (0x04xx)
	MsgListApps     MessageType = 0x0400
	MsgListAppsResp MessageType = 0x0401

	// Panels (0x05xx)
	MsgOpenPanel     MessageType = 0x0500
	MsgOpenPanelResp MessageType = 0x0501

	// Event streaming (0x06xx)
	MsgSubscribe       MessageType = 0x0600
	MsgSubscribeResp   MessageType = 0x0601
	MsgUnsubscribe     MessageType = 0x0602
	MsgUnsubscribeResp MessageType = 0x0603
	MsgEvent           MessageType = 0x0604
)

// EventType identifies the type of streamed event.
type EventType uint16

const (
	EventModeChanged    EventType = 0x0001
	EventFocusChanged   EventType = 0x0002
	EventRuleChanged    EventType = 0x0003
	EventDefaultChanged EventType = 0x0004
	EventPanelRequested EventType = 0x0005
	EventDaemonShutdown EventType = 0x0006
)

// PermissionLevel defines client access levels. Peer-credential checks at
// accept time grant ReadWrite to same-uid clients; everyone else is
// refused before the handshake.
type PermissionLevel uint8

const (
	PermReadOnly  PermissionLevel = 0x01
	PermReadWrite PermissionLevel = 0x02
)

// Header is the fixed-size message header (16 bytes, big endian).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, header excluded
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// FlagJSON marks the payload as JSON, the only codec this version speaks.
const FlagJSON uint8 = 0x01

// maxPayload bounds a single message; the largest legitimate payload is
// an exported rule-set document.
const maxPayload = 16 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/response payloads.

// HandshakeRequest is sent by the client to open a session.
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse acknowledges the session.
type HandshakeResponse struct {
	ServerVersion   string          `json:"server_version"`
	ProtocolVersion uint8           `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Permission      PermissionLevel `json:"permission"`
}

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes.
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
)

// StatusResponse is the daemon status snapshot.
type StatusResponse struct {
	Version         string                `json:"version"`
	StartedAt       time.Time             `json:"started_at"`
	Uptime          time.Duration         `json:"uptime"`
	Running         bool                  `json:"running"`
	CurrentState    keymode.KeyboardState `json:"current_state"`
	LaunchState     keymode.KeyboardState `json:"launch_state"`
	DefaultBehavior keymode.AppBehavior   `json:"default_behavior"`
	CurrentAppID    string                `json:"current_app_id,omitempty"`
	CurrentAppName  string                `json:"current_app_name,omitempty"`
	CurrentBehavior keymode.AppBehavior   `json:"current_behavior"`
	FocusedAppID    string                `json:"focused_app_id,omitempty"`
	FocusedAppName  string                `json:"focused_app_name,omitempty"`
	KeyboardOK      bool                  `json:"keyboard_ok"`
	KeyboardDetail  string                `json:"keyboard_detail,omitempty"`
	TrackerOK       bool                  `json:"tracker_ok"`
	TrackerDetail   string                `json:"tracker_detail,omitempty"`
	RuleCount       int                   `json:"rule_count"`
}

// ModeResponse carries the current hardware mode.
type ModeResponse struct {
	State keymode.KeyboardState `json:"state"`
}

// SetModeRequest forces a hardware mode. The forced mode lasts until the
// next focus change re-resolves it.
type SetModeRequest struct {
	State keymode.KeyboardState `json:"state"`
}

// SetModeResponse reports the transition.
type SetModeResponse struct {
	State    keymode.KeyboardState `json:"state"`
	Previous keymode.KeyboardState `json:"previous"`
}

// DefaultResponse carries the global default behavior.
type DefaultResponse struct {
	Behavior keymode.AppBehavior `json:"behavior"`
}

// SetDefaultRequest changes the global default behavior.
type SetDefaultRequest struct {
	Behavior keymode.AppBehavior `json:"behavior"`
}

// SetDefaultResponse acknowledges the change.
type SetDefaultResponse struct {
	Behavior keymode.AppBehavior `json:"behavior"`
}

// RuleInfo is one stored rule on the wire.
type RuleInfo struct {
	AppID     string              `json:"app_id"`
	Name      string              `json:"name,omitempty"`
	Path      string              `json:"path,omitempty"`
	Behavior  keymode.AppBehavior `json:"behavior"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ListRulesResponse lists every stored rule plus the default they inherit.
type ListRulesResponse struct {
	Default keymode.AppBehavior `json:"default_behavior"`
	Rules   []RuleInfo          `json:"rules"`
}

// SetRuleRequest upserts a rule. BehaviorInherited removes it. Origin is
// the bus origin name and controls which frontend views refresh.
type SetRuleRequest struct {
	AppID    string              `json:"app_id"`
	Name     string              `json:"name,omitempty"`
	Path     string              `json:"path,omitempty"`
	Behavior keymode.AppBehavior `json:"behavior"`
	Origin   string              `json:"origin,omitempty"`
}

// SetRuleResponse echoes the stored rule.
type SetRuleResponse struct {
	Rule RuleInfo `json:"rule"`
}

// DeleteRuleRequest removes a rule.
type DeleteRuleRequest struct {
	AppID  string `json:"app_id"`
	Origin string `json:"origin,omitempty"`
}

// DeleteRuleResponse reports whether a rule existed.
type DeleteRuleResponse struct {
	Removed bool `json:"removed"`
}

// AppEntry is a running application with its resolved behavior.
type AppEntry struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Path     string                `json:"path,omitempty"`
	PID      int                   `json:"pid,omitempty"`
	Behavior keymode.AppBehavior   `json:"behavior"`
	State    keymode.KeyboardState `json:"state"`
}

// ListAppsResponse lists running applications.
type ListAppsResponse struct {
	Apps []AppEntry `json:"apps"`
}

// ExportRulesResponse carries a complete rule-set document.
type ExportRulesResponse struct {
	Document json.RawMessage `json:"document"`
}

// ImportRulesRequest carries a rule-set document to apply.
type ImportRulesRequest struct {
	Document json.RawMessage `json:"document"`
	Mode     string          `json:"mode,omitempty"` // "merge" (default) or "replace"
}

// ImportRulesResponse summarizes what the import changed.
type ImportRulesResponse struct {
	RulesImported  int  `json:"rules_imported"`
	Replaced       bool `json:"replaced"`
	DefaultApplied bool `json:"default_applied"`
}

// OpenPanelRequest asks the daemon to announce a panel request; the panel
// host picks it up from the event stream.
type OpenPanelRequest struct {
	Panel string `json:"panel"`
}

// OpenPanelResponse acknowledges the announcement.
type OpenPanelResponse struct {
	Panel string `json:"panel"`
}

// SubscribeRequest subscribes the session to streamed events. An empty
// list subscribes to all event types.
type SubscribeRequest struct {
	Events []EventType `json:"events"`
}

// SubscribeResponse acknowledges the subscription.
type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is one streamed event.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds a streamed event with an encoded data payload.
func NewEvent(t EventType, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode event data: %w", err)
		}
		raw = encoded
	}
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// DecodeData decodes the event payload into v.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %#04x has no data", uint16(e.Type))
	}
	return json.Unmarshal(e.Data, v)
}

// Streamed event payloads.

// ModeChangedEvent reports that the hardware mode switched.
type ModeChangedEvent struct {
	AppID    string                `json:"app_id,omitempty"`
	Behavior keymode.AppBehavior   `json:"behavior"`
	State    keymode.KeyboardState `json:"state"`
	Previous keymode.KeyboardState `json:"previous"`
}

// FocusChangedEvent reports a new frontmost application.
type FocusChangedEvent struct {
	AppID   string `json:"app_id"`
	AppName string `json:"app_name,omitempty"`
	AppPath string `json:"app_path,omitempty"`
}

// RuleChangedEvent reports a rule edit. Behavior "inherited" means the
// rule was removed. Origin tells frontends which views to refresh.
type RuleChangedEvent struct {
	AppID    string              `json:"app_id"`
	AppName  string              `json:"app_name,omitempty"`
	AppPath  string              `json:"app_path,omitempty"`
	Behavior keymode.AppBehavior `json:"behavior"`
	Origin   string              `json:"origin"`
}

// DefaultChangedEvent reports a new global default behavior.
type DefaultChangedEvent struct {
	Behavior keymode.AppBehavior `json:"behavior"`
}

// PanelRequestedEvent asks the panel host to open a panel.
type PanelRequestedEvent struct {
	Panel string `json:"panel"`
}

// EventFromBus converts an internal bus event to its wire form.
func EventFromBus(ev bus.Event) (*Event, error) {
	switch e := ev.(type) {
	case bus.ModeApplied:
		return NewEvent(EventModeChanged, ModeChangedEvent{
			AppID:    e.AppID,
			Behavior: e.Behavior,
			State:    e.State,
			Previous: e.Previous,
		})
	case bus.FocusChanged:
		return NewEvent(EventFocusChanged, FocusChangedEvent{
			AppID:   e.AppID,
			AppName: e.AppName,
			AppPath: e.AppPath,
		})
	case bus.BehaviorChanged:
		return NewEvent(EventRuleChanged, RuleChangedEvent{
			AppID:    e.AppID,
			AppName:  e.AppName,
			AppPath:  e.AppPath,
			Behavior: e.Behavior,
			Origin:   e.Origin.String(),
		})
	case bus.DefaultChanged:
		return NewEvent(EventDefaultChanged, DefaultChangedEvent{Behavior: e.Behavior})
	case bus.PanelRequested:
		return NewEvent(EventPanelRequested, PanelRequestedEvent{Panel: e.Panel})
	default:
		return nil, fmt.Errorf("no wire form for bus event %s", ev.Kind())
	}
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes into a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message with an encoded payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
