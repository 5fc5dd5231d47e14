package networking

import (
	"context"
	"errors"

	"student_25_dcnet/logging"
	"student_25_dcnet/messaging"

	"github.com/rs/zerolog"
)

// Node decodes the packets arriving on a network interface and files them in
// a router, one mailbox per message type
type Node struct {
	iface  NetworkInterface
	router *messaging.Router
	logger zerolog.Logger
}

func NewNode(iface NetworkInterface) *Node {
	return &Node{
		iface:  iface,
		router: messaging.NewRouter(),
		logger: logging.GetComponentLogger(iface.GetID(), "node"),
	}
}

// ID returns the identifier of the node on the network
func (n *Node) ID() int64 {
	return n.iface.GetID()
}

// Start runs the receive loop until the context is done
func (n *Node) Start(ctx context.Context) error {
	for {
		bs, err := n.iface.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			n.logger.Error().Err(err).Msg("failed to receive")
			continue
		}

		err = n.handleMessage(bs)
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to handle message")
		}
	}
}

func (n *Node) handleMessage(message []byte) error {
	packet, err := messaging.Decode(message)
	if err != nil {
		return err
	}
	n.router.Deliver(packet)
	return nil
}

// Send encodes the packet and sends it to the given network id
func (n *Node) Send(to int64, packet *messaging.Packet) error {
	bs, err := packet.Encode()
	if err != nil {
		return err
	}
	return n.iface.Send(bs, to)
}

// Broadcast encodes the packet and sends it to every node of the network
func (n *Node) Broadcast(packet *messaging.Packet) error {
	bs, err := packet.Encode()
	if err != nil {
		return err
	}
	return n.iface.Broadcast(bs)
}

// Receive returns the next packet of the round with one of the given types
func (n *Node) Receive(ctx context.Context, round uint64, types ...messaging.Type) (*messaging.Packet, error) {
	return n.router.Receive(ctx, round, types...)
}
