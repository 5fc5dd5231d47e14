package transport

import (
	"fmt"
	"time"

	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Transport creates sockets
type Transport interface {
	CreateSocket(address string) (ClosableSocket, error)
}

// Socket sends and receives packets addressed by network address
type Socket interface {
	// Send sends a packet to the destination. A zero timeout means no
	// timeout.
	Send(dest string, pkt Packet, timeout time.Duration) error
	// Recv blocks until a packet arrives or the timeout expires. A zero
	// timeout waits forever.
	Recv(timeout time.Duration) (Packet, error)
	GetAddress() string
	GetIns() []Packet
	GetOuts() []Packet
}

// ClosableSocket is a socket that can be closed
type ClosableSocket interface {
	Socket
	Close() error
}

// Header is the routing information of a packet
type Header struct {
	Source      string
	RelayedBy   string
	Destination string
}

// NewHeader returns a header for a packet sent from source to dest
func NewHeader(source, relayedBy, dest string) Header {
	return Header{
		Source:      source,
		RelayedBy:   relayedBy,
		Destination: dest,
	}
}

// Message is the content of a packet
type Message struct {
	Type    string
	Payload []byte
}

// Packet is what travels between sockets
type Packet struct {
	Header *Header
	Msg    *Message
}

// Marshal encodes the packet
func (p Packet) Marshal() ([]byte, error) {
	return protobuf.Encode(&p)
}

// Unmarshal decodes bytes produced by Marshal into the packet
func (p *Packet) Unmarshal(bs []byte) error {
	err := protobuf.Decode(bs, p)
	if err != nil {
		return xerrors.Errorf("failed to decode transport packet: %v", err)
	}
	return nil
}

// Copy returns a deep copy of the packet
func (p Packet) Copy() Packet {
	out := Packet{}
	if p.Header != nil {
		h := *p.Header
		out.Header = &h
	}
	if p.Msg != nil {
		payload := make([]byte, len(p.Msg.Payload))
		copy(payload, p.Msg.Payload)
		out.Msg = &Message{Type: p.Msg.Type, Payload: payload}
	}
	return out
}

func (p Packet) String() string {
	if p.Header == nil || p.Msg == nil {
		return "packet{}"
	}
	return fmt.Sprintf("packet{%s->%s %s %dB}", p.Header.Source, p.Header.Destination,
		p.Msg.Type, len(p.Msg.Payload))
}

// TimeoutError is returned when a socket operation times out
type TimeoutError time.Duration

func (err TimeoutError) Error() string {
	return fmt.Sprintf("timeout reached after %v", time.Duration(err))
}
