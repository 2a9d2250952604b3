// Package device speaks the MeshCore companion wire protocol over a serial
// link. Packet framing, mesh routing, path tracking, and crypto live in the
// radio firmware; this package only exchanges framed JSON with it.
package device

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (64 KB).
	MaxFrameSize = 64 * 1024
)

// Frame types sent to the companion.
const (
	TypeSendDirect    = "send_direct"
	TypeSendBroadcast = "send_broadcast"
	TypeGetSelfInfo   = "get_self_info"
	TypePing          = "ping"
)

// Frame types received from the companion.
const (
	TypeSelfInfo       = "self_info"
	TypeContactMsgRecv = "contact_msg_recv"
	TypeChannelMsgRecv = "channel_msg_recv"
	TypeContactSeen    = "contact_seen"
	TypeSendResult     = "send_result"
	TypePong           = "pong"
	TypeError          = "error"
)

// Companion error codes reported in error frames.
const (
	CodeInvalidCommand = 1
	CodeInvalidParam   = 2
	CodeNotReady       = 3
	CodeTimeout        = 4
	CodeNoRoute        = 5
	CodeBufferFull     = 6
	CodeInvalidState   = 7
	CodeInternal       = 8
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("device: frame exceeds max size")
	// ErrLinkDown indicates the companion link is not ready for commands.
	ErrLinkDown = errors.New("device: link not ready")
	// ErrInvalidFrameType indicates the frame type is missing or unknown.
	ErrInvalidFrameType = errors.New("device: invalid frame type")
)

var companionErrorText = map[int]string{
	CodeInvalidCommand: "invalid command",
	CodeInvalidParam:   "invalid parameter",
	CodeNotReady:       "not ready",
	CodeTimeout:        "timeout",
	CodeNoRoute:        "no route to destination",
	CodeBufferFull:     "buffer full",
	CodeInvalidState:   "invalid state",
	CodeInternal:       "internal error",
}

// CompanionError is an error frame reported by the radio firmware.
type CompanionError struct {
	Code int
}

func (e *CompanionError) Error() string {
	text, ok := companionErrorText[e.Code]
	if !ok {
		return fmt.Sprintf("device: unknown companion error %d", e.Code)
	}
	return "device: companion error: " + text
}

// IsNoRoute reports whether err is a companion no-route error.
func IsNoRoute(err error) bool {
	var companionErr *CompanionError
	return errors.As(err, &companionErr) && companionErr.Code == CodeNoRoute
}

// IsNotReady reports whether err means the radio cannot take commands right
// now, either because the link is down or the firmware reported not-ready.
func IsNotReady(err error) bool {
	if errors.Is(err, ErrLinkDown) {
		return true
	}
	var companionErr *CompanionError
	return errors.As(err, &companionErr) && companionErr.Code == CodeNotReady
}

// Command is an outbound frame payload.
type Command struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Receiver string `json:"receiver,omitempty"`
}

// Event is an inbound frame payload. Fields are populated per Type:
// self_info carries NodeID/NodeName, contact_msg_recv carries
// Content/FromID/ToID/Path, channel_msg_recv the same without ToID,
// contact_seen carries NodeID/NodeName, send_result carries
// MessageID/Sender/Receiver/Path, and error carries Code.
type Event struct {
	Type      string   `json:"type"`
	MessageID string   `json:"message_id,omitempty"`
	Content   string   `json:"content,omitempty"`
	FromID    string   `json:"from_id,omitempty"`
	ToID      string   `json:"to_id,omitempty"`
	Path      []string `json:"path,omitempty"`
	NodeID    string   `json:"node_id,omitempty"`
	NodeName  string   `json:"node_name,omitempty"`
	Sender    string   `json:"sender,omitempty"`
	Receiver  string   `json:"receiver,omitempty"`
	Code      int      `json:"code,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// SendResult describes one accepted outbound message.
type SendResult struct {
	MessageID string
	Sender    string
	Receiver  *string
	Path      []string
	Timestamp int64
}

// EncodeCommand marshals a command to a frame payload.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd.Type == "" {
		return nil, ErrInvalidFrameType
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return payload, nil
}

// DecodeEvent unmarshals an inbound frame payload.
func DecodeEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return nil, ErrInvalidFrameType
	}
	return &event, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}
