package dcnet

import (
	"context"
	"fmt"
	"time"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/membership"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"

	"golang.org/x/xerrors"
)

// helloInterval is how long Init waits before broadcasting its hello again
const helloInterval = time.Second

// state is one step of the round state machine. run returns the state that
// follows.
type state interface {
	fmt.Stringer
	run(ctx context.Context, dc *DCNetwork) (state, error)
}

// initState builds the group from the hellos of the other members
type initState struct{}

func (initState) String() string { return "init" }

func (initState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	dc.group.Reset()

	payload, err := marshalling.EncodeHello(marshalling.Hello{
		NodeID:    dc.conf.NodeID,
		PublicKey: dc.group.Self().PublicKey,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to encode hello: %w", err)
	}
	hello := dc.packet(messaging.Hello, round, payload)
	ack := dc.packet(messaging.HelloAck, round, payload)

	dc.sayHello(hello)
	for !dc.group.Complete() {
		rctx, cancel := context.WithTimeout(ctx, helloInterval)
		pkt, err := dc.node.Receive(rctx, round, messaging.Hello, messaging.HelloAck)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			dc.sayHello(hello)
			continue
		}

		h, err := marshalling.DecodeHello(dc.params, pkt.Payload)
		if err != nil || h.NodeID != pkt.Sender {
			dc.logger.Warn().Msgf("invalid hello from %d", pkt.Sender)
			continue
		}
		if _, ok := dc.excluded[h.NodeID]; ok || h.NodeID == dc.conf.NodeID {
			continue
		}
		if pkt.Type == messaging.Hello {
			err = dc.node.Send(int64(h.NodeID), ack)
			if err != nil {
				dc.logger.Warn().Err(err).Msgf("failed to acknowledge %d", h.NodeID)
			}
		}
		dc.admit(h)
	}

	metrics.GroupSize.Set(float64(dc.group.Size()))
	dc.logger.Info().Msgf("group complete with %d members", dc.group.Size())
	return readyState{}, nil
}

func (dc *DCNetwork) sayHello(hello *messaging.Packet) {
	err := dc.node.Broadcast(hello)
	if err != nil {
		dc.logger.Warn().Err(err).Msg("failed to broadcast hello")
	}
}

func (dc *DCNetwork) admit(h *marshalling.Hello) {
	if dc.group.Contains(h.NodeID) {
		return
	}
	if dc.conf.Roster != nil {
		key, ok := dc.conf.Roster[h.NodeID]
		if !ok || !key.Equal(h.PublicKey) {
			dc.logger.Warn().Msgf("node %d is not in the roster", h.NodeID)
			return
		}
	}
	err := dc.group.Insert(membership.Member{
		NodeID:    h.NodeID,
		Conn:      int64(h.NodeID),
		PublicKey: h.PublicKey,
	})
	if err != nil {
		dc.logger.Warn().Err(err).Msgf("failed to admit %d", h.NodeID)
		return
	}
	dc.logger.Debug().Msgf("admitted %d", h.NodeID)
}

// readyState synchronises the members before a reservation round. The
// member with the smallest node id collects a Ready from everybody and
// answers with Start.
type readyState struct{}

func (readyState) String() string { return "ready" }

func (readyState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	coordinator := dc.group.Coordinator()

	if coordinator.NodeID != dc.conf.NodeID {
		err := dc.node.Send(coordinator.Conn, dc.packet(messaging.Ready, round, nil))
		if err != nil {
			return nil, xerrors.Errorf("failed to signal readiness: %w", err)
		}
		for {
			pkt, err := dc.node.Receive(ctx, round, messaging.Start)
			if err != nil {
				return nil, err
			}
			if pkt.Sender == coordinator.NodeID {
				return reservationState{}, nil
			}
		}
	}

	ready := make(map[uint32]struct{})
	for len(ready) < dc.group.Size()-1 {
		pkt, err := dc.node.Receive(ctx, round, messaging.Ready)
		if err != nil {
			return nil, err
		}
		if pkt.Sender != dc.conf.NodeID && dc.group.Contains(pkt.Sender) {
			ready[pkt.Sender] = struct{}{}
		}
	}
	for _, m := range dc.group.Ring() {
		err := dc.node.Send(m.Conn, dc.packet(messaging.Start, round, nil))
		if err != nil {
			return nil, xerrors.Errorf("failed to start %d: %w", m.NodeID, err)
		}
	}
	return reservationState{}, nil
}
