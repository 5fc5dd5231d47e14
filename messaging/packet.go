package messaging

import (
	"errors"
	"math"

	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// AnyRound disables the round filter of a receive
const AnyRound uint64 = math.MaxUint64

// ErrUnknownType is returned when decoding a packet with a type this node
// does not know
var ErrUnknownType = errors.New("unknown message type")

// Packet is the envelope of every message exchanged by the members
type Packet struct {
	Type   Type
	Sender uint32
	// Round is the sequence number of the sharing instance or barrier the
	// packet belongs to
	Round   uint64
	Payload []byte
}

// wirePacket is the protobuf encoded form of a Packet
type wirePacket struct {
	Type    uint32
	Sender  uint32
	Round   uint64
	Payload []byte
}

// Encode returns the wire encoding of the packet
func (p *Packet) Encode() ([]byte, error) {
	return protobuf.Encode(&wirePacket{
		Type:    uint32(p.Type),
		Sender:  p.Sender,
		Round:   p.Round,
		Payload: p.Payload,
	})
}

// Decode parses a packet received from the network
func Decode(bs []byte) (*Packet, error) {
	wp := &wirePacket{}
	err := protobuf.Decode(bs, wp)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode packet: %v", err)
	}
	t := Type(wp.Type)
	if wp.Type > math.MaxUint8 || !t.Valid() {
		return nil, xerrors.Errorf("type %d: %w", wp.Type, ErrUnknownType)
	}
	return &Packet{
		Type:    t,
		Sender:  wp.Sender,
		Round:   wp.Round,
		Payload: wp.Payload,
	}, nil
}
