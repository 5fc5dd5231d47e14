package dcnet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"student_25_dcnet/logging"
	"student_25_dcnet/membership"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/pedersencommitment"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"
	"student_25_dcnet/tools"

	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

const (
	defaultQueueSize      = 64
	defaultDeliveryBuffer = 64
	defaultIdleDelay      = time.Second
)

var (
	// ErrEmptyMessage is returned when submitting a message without content
	ErrEmptyMessage = errors.New("empty message")
	// ErrMessageTooLarge is returned when a message does not fit in a slot
	ErrMessageTooLarge = errors.New("message too large")
	// ErrExcluded is returned by Run when the group excluded this member
	ErrExcluded = errors.New("excluded from the group")
	// ErrGroupTooSmall is returned by Run when exclusions left less than two
	// members
	ErrGroupTooSmall = errors.New("group too small")
)

// Security selects how rounds are shared
type Security int

const (
	// SecuritySecured commits to every share and blames cheaters
	SecuritySecured Security = iota
	// SecurityUnsecured XORs the shares and drops invalid slots
	SecurityUnsecured
	// SecurityAdaptive starts unsecured and switches to secured for good
	// once jamming is suspected
	SecurityAdaptive
)

func (s Security) String() string {
	switch s {
	case SecurityUnsecured:
		return "unsecured"
	case SecurityAdaptive:
		return "adaptive"
	default:
		return "secured"
	}
}

// ParseSecurity reads a security level as written in configuration files
func ParseSecurity(s string) (Security, error) {
	switch s {
	case "", "secured":
		return SecuritySecured, nil
	case "unsecured":
		return SecurityUnsecured, nil
	case "adaptive":
		return SecurityAdaptive, nil
	default:
		return SecuritySecured, xerrors.Errorf("unknown security level %q", s)
	}
}

// Config is the configuration of a member
type Config struct {
	Suite     pedersencommitment.Suite
	NodeID    uint32
	Private   kyber.Scalar
	GroupSize int
	Security  Security
	// Workers bounds the goroutines splitting slots, all CPUs if not positive
	Workers int
	// IdleDelay is waited after a round in which nobody sent anything
	IdleDelay time.Duration
	// Roster maps every expected node id to its public key. When set, hellos
	// that do not match it are ignored.
	Roster map[uint32]kyber.Point
	// SlotPicker returns the reservation slot among n. Slots are drawn at
	// random when nil.
	SlotPicker     func(n int) int
	QueueSize      int
	DeliveryBuffer int
}

// Node is the network endpoint of a member
type Node interface {
	sharing.Node
	Broadcast(packet *messaging.Packet) error
}

// Delivery is a message reconstructed in a transmission round
type Delivery struct {
	Round   uint64
	Slot    int
	Payload []byte
}

// Stats counts what happened since the member started
type Stats struct {
	Rounds       uint64
	Deliveries   uint64
	Collisions   uint64
	Blames       uint64
	Exclusions   uint64
	FairnessRuns uint64
}

type counters struct {
	rounds       atomic.Uint64
	deliveries   atomic.Uint64
	collisions   atomic.Uint64
	blames       atomic.Uint64
	exclusions   atomic.Uint64
	fairnessRuns atomic.Uint64
}

// DCNetwork is one member of a DC-net group. Run drives its rounds; the host
// submits messages and reads what the group published.
type DCNetwork struct {
	conf       Config
	params     *pedersencommitment.Params
	node       Node
	group      *membership.Group
	engine     *sharing.Engine
	pending    *tools.ConcurrentQueue[[]byte]
	deliveries chan Delivery
	// secured is the current mode, it only changes in adaptive security
	secured  bool
	round    uint64
	excluded map[uint32]struct{}
	counters counters
	logger   zerolog.Logger
}

// NewDCNetwork returns a member that talks through node
func NewDCNetwork(conf Config, node Node) (*DCNetwork, error) {
	if conf.Suite == nil {
		return nil, xerrors.New("missing suite")
	}
	if conf.Private == nil {
		return nil, xerrors.New("missing private key")
	}
	if conf.GroupSize < 2 {
		return nil, xerrors.Errorf("group of %d members: %w", conf.GroupSize, ErrGroupTooSmall)
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = defaultQueueSize
	}
	if conf.DeliveryBuffer <= 0 {
		conf.DeliveryBuffer = defaultDeliveryBuffer
	}
	if conf.IdleDelay <= 0 {
		conf.IdleDelay = defaultIdleDelay
	}

	params := pedersencommitment.NewParams(conf.Suite)
	self := membership.Member{
		NodeID:    conf.NodeID,
		Conn:      int64(conf.NodeID),
		PublicKey: conf.Suite.Point().Mul(conf.Private, nil),
	}
	if conf.Roster != nil {
		key, ok := conf.Roster[conf.NodeID]
		if !ok || !key.Equal(self.PublicKey) {
			return nil, xerrors.Errorf("roster does not hold the key of node %d", conf.NodeID)
		}
	}
	group := membership.NewGroup(conf.GroupSize, self, conf.Private)

	return &DCNetwork{
		conf:       conf,
		params:     params,
		node:       node,
		group:      group,
		engine:     sharing.NewEngine(params, group, node, conf.Workers),
		pending:    tools.NewConcurrentQueue[[]byte](conf.QueueSize),
		deliveries: make(chan Delivery, conf.DeliveryBuffer),
		secured:    conf.Security != SecurityUnsecured && conf.Security != SecurityAdaptive,
		excluded:   make(map[uint32]struct{}),
		logger:     logging.GetComponentLogger(int64(conf.NodeID), "dcnet"),
	}, nil
}

// SubmitMessage queues a message for the next rounds. It is published at
// most once.
func (dc *DCNetwork) SubmitMessage(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}
	if len(msg) > slots.MaxPayload {
		return xerrors.Errorf("%d bytes: %w", len(msg), ErrMessageTooLarge)
	}
	err := dc.pending.Push(append([]byte(nil), msg...))
	if err != nil {
		return err
	}
	metrics.PendingMessages.Set(float64(dc.pending.Len()))
	return nil
}

// Deliveries returns the channel of reconstructed messages
func (dc *DCNetwork) Deliveries() <-chan Delivery {
	return dc.deliveries
}

// Stats returns a snapshot of the counters
func (dc *DCNetwork) Stats() Stats {
	return Stats{
		Rounds:       dc.counters.rounds.Load(),
		Deliveries:   dc.counters.deliveries.Load(),
		Collisions:   dc.counters.collisions.Load(),
		Blames:       dc.counters.blames.Load(),
		Exclusions:   dc.counters.exclusions.Load(),
		FairnessRuns: dc.counters.fairnessRuns.Load(),
	}
}

// Members returns the current members of the group
func (dc *DCNetwork) Members() []membership.Member {
	return dc.group.Members()
}

// Run drives the rounds until the context is done, this member is
// excluded or the group becomes too small
func (dc *DCNetwork) Run(ctx context.Context) error {
	dc.logger.Info().Msgf("starting in %s mode, group of %d", dc.conf.Security, dc.conf.GroupSize)

	var current state = initState{}
	for {
		next, err := current.run(ctx, dc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dc.logger.Error().Err(err).Msgf("stopping in %s", current)
			return err
		}
		current = next
	}
}

func (dc *DCNetwork) nextRound() uint64 {
	dc.round++
	dc.counters.rounds.Add(1)
	return dc.round
}

func (dc *DCNetwork) packet(t messaging.Type, round uint64, payload []byte) *messaging.Packet {
	return &messaging.Packet{
		Type:    t,
		Sender:  dc.conf.NodeID,
		Round:   round,
		Payload: payload,
	}
}

func (dc *DCNetwork) mode() sharing.Mode {
	if dc.secured {
		return sharing.Secured
	}
	return sharing.Unsecured
}

func (dc *DCNetwork) deliver(ctx context.Context, d Delivery) error {
	select {
	case dc.deliveries <- d:
	case <-ctx.Done():
		return ctx.Err()
	}
	dc.counters.deliveries.Add(1)
	metrics.DeliveriesTotal.Inc()
	dc.logger.Info().Msgf("delivered %d bytes from slot %d of round %d", len(d.Payload), d.Slot, d.Round)
	return nil
}

// wait sleeps for d unless the context ends first
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emptyValues returns zeroed slots for the layout
func emptyValues(layout slots.Layout) [][]byte {
	values := make([][]byte, layout.Slots())
	for i := range values {
		values[i] = make([]byte, layout.Length(i))
	}
	return values
}
