// Package sacp defines the event envelope exchanged with the host over the
// serial protocol, the printer and update command tables, and the explicit
// encoding of every payload the control plane sends or receives.
//
// Framing and CRC belong to the transport; events reaching this package are
// already verified.
package sacp

import "fmt"

// MaxPayload is the largest payload an event may carry.
const MaxPayload = 1024

// Source is the logical channel an event arrived on.
type Source uint8

const (
	SourceHMI      Source = iota // touch screen
	SourceHost                   // controller PC or network bridge
	SourceInternal               // raised by the firmware itself
)

func (s Source) String() string {
	switch s {
	case SourceHMI:
		return "hmi"
	case SourceHost:
		return "host"
	case SourceInternal:
		return "internal"
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// Attr is the event attribute.
type Attr uint8

const (
	AttrRequest Attr = 0
	AttrAck     Attr = 1
)

// Origin identifies who sent a request, so that an asynchronous completion
// can be routed back to them.
type Origin struct {
	Source     Source
	ReceiverID uint8
	Sequence   uint16
}

// Event is a unit of inbound or outbound communication.
type Event struct {
	Origin
	Attr    Attr
	Command Command
	Payload []byte
}

// NewRequest returns a firmware initiated request to the peer at origin.
// The transport assigns the sequence number.
func NewRequest(o Origin, cmd Command, payload []byte) Event {
	o.Sequence = 0
	return Event{Origin: o, Attr: AttrRequest, Command: cmd, Payload: payload}
}

// NewAck returns an acknowledgement of the request that came from origin.
func NewAck(o Origin, cmd Command, payload []byte) Event {
	return Event{Origin: o, Attr: AttrAck, Command: cmd, Payload: payload}
}

// Reply returns the acknowledgement of e carrying payload.
func (e Event) Reply(payload []byte) Event {
	return NewAck(e.Origin, e.Command, payload)
}

// Len returns the payload length.
func (e Event) Len() int {
	return len(e.Payload)
}

// Validate checks the envelope bounds.
func (e Event) Validate() error {
	if len(e.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(e.Payload))
	}
	return nil
}

func (e Event) String() string {
	return fmt.Sprintf("%s attr=%d src=%s rcv=%d seq=%d len=%d", e.Command, e.Attr, e.Source, e.ReceiverID, e.Sequence, len(e.Payload))
}

// Sender hands outbound events to the transport.
type Sender interface {
	Send(ev Event) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ev Event) error

func (f SenderFunc) Send(ev Event) error {
	return f(ev)
}
