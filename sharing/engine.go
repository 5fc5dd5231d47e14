package sharing

// Two phase sharing shared by every round of the DC-net. Each member splits
// its slots into k additive shares, commits to them, sends every peer its
// share, broadcasts the sum of the shares it received and finally adds up
// the sums of everybody. The commitments let each step be checked.

import (
	"context"
	"crypto/cipher"
	"runtime"
	"time"

	"student_25_dcnet/logging"
	"student_25_dcnet/marshalling"
	"student_25_dcnet/membership"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/pedersencommitment"
	"student_25_dcnet/secretsharing"
	"student_25_dcnet/slots"

	"github.com/rs/zerolog"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Mode selects the arithmetic of a sharing instance
type Mode int

const (
	// Secured splits slices into scalars and commits to every share
	Secured Mode = iota
	// Unsecured splits bytes with XOR and sends no commitment
	Unsecured
)

func (m Mode) String() string {
	if m == Unsecured {
		return "unsecured"
	}
	return "secured"
}

// Node sends and receives the packets of an instance
type Node interface {
	Send(to int64, packet *messaging.Packet) error
	Receive(ctx context.Context, round uint64, types ...messaging.Type) (*messaging.Packet, error)
}

// Instance describes one run of the sharing protocol
type Instance struct {
	// Name labels logs and metrics
	Name   string
	Round  uint64
	Mode   Mode
	Phases messaging.Phases
	Layout slots.Layout
	// Values holds the local content of every slot
	Values [][]byte
	// Blinding returns the stream the blinding scalars of a slot are drawn
	// from, in (share, slice) order. When nil they are drawn at random.
	Blinding func(slot int) cipher.Stream
}

// Result is what a member knows at the end of an instance. After a
// mismatch the commitments are complete but Slots is nil.
type Result struct {
	Layout slots.Layout
	// Slots holds the reconstructed slots. A slot whose slices overflow is
	// nil.
	Slots [][]byte
	// Commitments[m] is the cube broadcast by the member of index m
	Commitments []*slots.Cube[kyber.Point]
	// Blinding holds the blinding scalars of the local shares
	Blinding *slots.Cube[kyber.Scalar]
}

// Engine runs sharing instances for one member of a group
type Engine struct {
	params  *pedersencommitment.Params
	group   *membership.Group
	node    Node
	workers int
	logger  zerolog.Logger
}

// NewEngine returns an engine. Slots are split on at most workers
// goroutines, all CPUs when workers is not positive.
func NewEngine(params *pedersencommitment.Params, group *membership.Group, node Node, workers int) *Engine {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Engine{
		params:  params,
		group:   group,
		node:    node,
		workers: workers,
		logger:  logging.GetComponentLogger(int64(group.Self().NodeID), "sharing"),
	}
}

// Params returns the commitment parameters of the engine
func (e *Engine) Params() *pedersencommitment.Params {
	return e.params
}

// Run executes the instance with every other member of the group. It
// returns a *MismatchError along with the partial result when a check fails
// here or elsewhere.
func (e *Engine) Run(ctx context.Context, inst Instance) (*Result, error) {
	err := e.check(inst)
	if err != nil {
		return nil, err
	}
	defer metrics.ObserveSharing(inst.Name, time.Now())

	members := e.group.Members()
	indices := make(map[uint32]int, len(members))
	for i, m := range members {
		indices[m.NodeID] = i
	}
	r := &run{
		Engine:  e,
		inst:    inst,
		members: members,
		indices: indices,
		ring:    e.group.Ring(),
		self:    e.group.Self().NodeID,
		own:     indices[e.group.Self().NodeID],
		k:       len(members),
		logger: e.logger.With().
			Str("instance", inst.Name).
			Uint64("round", inst.Round).
			Logger(),
	}
	r.logger.Debug().Msgf("starting %s sharing over %s", inst.Mode, inst.Layout)

	if inst.Mode == Unsecured {
		return r.unsecured(ctx)
	}
	return r.secured(ctx)
}

func (e *Engine) check(inst Instance) error {
	if len(inst.Values) != inst.Layout.Slots() {
		return xerrors.Errorf("%d values for %d slots", len(inst.Values), inst.Layout.Slots())
	}
	for slot, v := range inst.Values {
		if len(v) != inst.Layout.Length(slot) || len(v) == 0 {
			return xerrors.Errorf("slot %d holds %d bytes, layout says %d", slot, len(v), inst.Layout.Length(slot))
		}
	}
	if e.group.Size() < 2 {
		return xerrors.Errorf("sharing needs 2 members, group has %d", e.group.Size())
	}
	return nil
}

// run holds the state of one instance
type run struct {
	*Engine
	inst    Instance
	members []membership.Member
	indices map[uint32]int
	ring    []membership.Member
	self    uint32
	own     int
	k       int
	logger  zerolog.Logger
}

func (r *run) packet(t messaging.Type, payload []byte) *messaging.Packet {
	return &messaging.Packet{
		Type:    t,
		Sender:  r.self,
		Round:   r.inst.Round,
		Payload: payload,
	}
}

// fanOut sends to every peer the packets built for it, one goroutine per
// peer
func (r *run) fanOut(ctx context.Context, build func(peer int) ([]*messaging.Packet, error)) error {
	g, _ := errgroup.WithContext(ctx)
	for _, peer := range r.ring {
		g.Go(func() error {
			packets, err := build(r.indices[peer.NodeID])
			if err != nil {
				return err
			}
			for _, p := range packets {
				err = r.node.Send(peer.Conn, p)
				if err != nil {
					return xerrors.Errorf("failed to send %s to %d: %w", p.Type, peer.NodeID, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *run) broadcast(ctx context.Context, packets []*messaging.Packet) error {
	return r.fanOut(ctx, func(int) ([]*messaging.Packet, error) {
		return packets, nil
	})
}

// next returns the next packet of type t sent by a peer, with the index of
// the peer. When blame is set, a blame message of the instance aborts it.
func (r *run) next(ctx context.Context, t messaging.Type, blame bool) (*messaging.Packet, int, error) {
	types := []messaging.Type{t}
	if blame {
		types = append(types, messaging.BlameShare, messaging.BlameSum)
	}
	for {
		pkt, err := r.node.Receive(ctx, r.inst.Round, types...)
		if err != nil {
			return nil, 0, err
		}
		idx, ok := r.indices[pkt.Sender]
		if !ok || idx == r.own {
			r.logger.Warn().Msgf("ignoring %s from %d", pkt.Type, pkt.Sender)
			continue
		}
		if pkt.Type == messaging.BlameShare || pkt.Type == messaging.BlameSum {
			kind := marshalling.KindShare
			if pkt.Type == messaging.BlameSum {
				kind = marshalling.KindSum
			}
			a, err := OpenAccusation(r.params, r.group, r.inst.Round, pkt.Payload)
			if err != nil || a.Accuser != pkt.Sender || a.Kind != kind {
				r.logger.Warn().Err(err).Msgf("invalid blame from %d", pkt.Sender)
				continue
			}
			r.logger.Warn().Msgf("%d blames %d at slot %d", pkt.Sender, a.Record.Suspect, a.Record.Slot)
			return nil, 0, &MismatchError{
				Kind:    kind,
				Accuser: pkt.Sender,
				Record:  a.Record,
			}
		}
		return pkt, idx, nil
	}
}

// slotOf returns the slot index prefixing a payload if it is in the layout
func (r *run) slotOf(pkt *messaging.Packet) (int, bool) {
	slot, err := marshalling.PeekSlot(pkt.Payload)
	if err != nil || slot >= r.inst.Layout.Slots() {
		r.logger.Warn().Msgf("%s from %d has no valid slot", pkt.Type, pkt.Sender)
		return 0, false
	}
	return slot, true
}

// accuse broadcasts the blame record and returns the mismatch
func (r *run) accuse(ctx context.Context, t messaging.Type, kind marshalling.AccusationKind,
	record marshalling.BlameRecord) error {

	r.logger.Warn().Msgf("commitment mismatch: member %d at slot %d slice %d",
		record.Suspect, record.Slot, record.Slice)

	mismatch := &MismatchError{
		Kind:    kind,
		Accuser: r.self,
		Record:  record,
		Local:   true,
	}
	payload, err := SignAccusation(r.params.Suite, r.group.PrivateKey(), r.inst.Round, mismatch.Accusation())
	if err != nil {
		return err
	}
	err = r.broadcast(ctx, []*messaging.Packet{r.packet(t, payload)})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to broadcast blame")
	}
	return mismatch
}

// finish sends Finished and waits for the Finished of every peer
func (r *run) finish(ctx context.Context, blame bool) error {
	err := r.broadcast(ctx, []*messaging.Packet{r.packet(r.inst.Phases.Finished, nil)})
	if err != nil {
		return err
	}
	done := make(map[int]struct{}, r.k-1)
	for len(done) < r.k-1 {
		_, idx, err := r.next(ctx, r.inst.Phases.Finished, blame)
		if err != nil {
			return err
		}
		done[idx] = struct{}{}
	}
	return nil
}

// tracker remembers which (member, slot) pairs were received in a phase
type tracker struct {
	seen    []bool
	slots   int
	missing int
}

func newTracker(k, nslots int) *tracker {
	return &tracker{
		seen:    make([]bool, k*nslots),
		slots:   nslots,
		missing: (k - 1) * nslots,
	}
}

// mark returns false if the pair was already received
func (t *tracker) mark(member, slot int) bool {
	i := member*t.slots + slot
	if t.seen[i] {
		return false
	}
	t.seen[i] = true
	t.missing--
	return true
}

func (t *tracker) has(member, slot int) bool {
	return t.seen[member*t.slots+slot]
}

func (t *tracker) done() bool {
	return t.missing == 0
}

func (r *run) secured(ctx context.Context) (*Result, error) {
	layout := r.inst.Layout
	phases := r.inst.Phases

	shares := slots.NewCube[kyber.Scalar](layout, r.k)
	blinding := slots.NewCube[kyber.Scalar](layout, r.k)
	commits := make([]*slots.Cube[kyber.Point], r.k)
	for m := range commits {
		commits[m] = slots.NewCube[kyber.Point](layout, r.k)
	}
	result := &Result{
		Layout:      layout,
		Commitments: commits,
		Blinding:    blinding,
	}

	// Phase A: commit and distribute
	err := r.split(ctx, shares, blinding, commits[r.own])
	if err != nil {
		return nil, err
	}

	packets := make([]*messaging.Packet, layout.Slots())
	for slot := range packets {
		points := make([]kyber.Point, 0, r.k*layout.Slices(slot))
		for j := 0; j < r.k; j++ {
			points = append(points, commits[r.own].Row(slot, j)...)
		}
		payload, err := marshalling.EncodeCommitments(slot, points)
		if err != nil {
			return nil, err
		}
		packets[slot] = r.packet(phases.Commitments, payload)
	}
	err = r.broadcast(ctx, packets)
	if err != nil {
		return nil, err
	}

	err = r.collectCommitments(ctx, commits)
	if err != nil {
		return nil, err
	}

	err = r.fanOut(ctx, func(peer int) ([]*messaging.Packet, error) {
		packets := make([]*messaging.Packet, layout.Slots())
		for slot := range packets {
			rs, ss := blinding.Row(slot, peer), shares.Row(slot, peer)
			sigs, err := r.sign(marshalling.KindShare, r.members[peer].NodeID, slot, rs, ss)
			if err != nil {
				return nil, err
			}
			payload, err := marshalling.EncodePairs(slot, rs, ss, sigs)
			if err != nil {
				return nil, err
			}
			packets[slot] = r.packet(phases.Shares, payload)
		}
		return packets, nil
	})
	if err != nil {
		return nil, err
	}

	// Phase B: verify the shares received and broadcast their sum
	sumR, sumS, err := r.reduce(ctx, shares, blinding, commits)
	if err != nil {
		return result, err
	}

	packets = make([]*messaging.Packet, layout.Slots())
	for slot := range packets {
		sigs, err := r.sign(marshalling.KindSum, 0, slot, sumR.Row(slot), sumS.Row(slot))
		if err != nil {
			return nil, err
		}
		payload, err := marshalling.EncodePairs(slot, sumR.Row(slot), sumS.Row(slot), sigs)
		if err != nil {
			return nil, err
		}
		packets[slot] = r.packet(phases.Sums, payload)
	}
	err = r.broadcast(ctx, packets)
	if err != nil {
		return nil, err
	}

	// Phase C: verify the sums of the peers and reconstruct
	totalS, err := r.total(ctx, sumS, commits)
	if err != nil {
		return result, err
	}

	err = r.finish(ctx, true)
	if err != nil {
		return result, err
	}

	result.Slots = make([][]byte, layout.Slots())
	for slot := range result.Slots {
		bs, err := slots.FromScalars(totalS.Row(slot), layout.Length(slot))
		if err != nil {
			r.logger.Debug().Err(err).Msgf("slot %d does not decode", slot)
			continue
		}
		result.Slots[slot] = bs
	}
	return result, nil
}

// split computes the local shares, blinding scalars and commitments of every
// slot, each slot on its own worker with its own random stream
func (r *run) split(ctx context.Context, shares, blinding *slots.Cube[kyber.Scalar],
	commits *slots.Cube[kyber.Point]) error {

	suite := r.params.Suite
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for slot := 0; slot < r.inst.Layout.Slots(); slot++ {
		g.Go(func() error {
			rand := random.New()
			values, err := slots.ToScalars(r.params, r.inst.Values[slot])
			if err != nil {
				return xerrors.Errorf("slot %d: %w", slot, err)
			}
			split := secretsharing.SplitScalars(suite, values, r.k, rand)

			stream := rand
			if r.inst.Blinding != nil {
				stream = r.inst.Blinding(slot)
			}
			for j := 0; j < r.k; j++ {
				for l := range values {
					b := suite.Scalar().Pick(stream)
					shares.Set(slot, j, l, split[j][l])
					blinding.Set(slot, j, l, b)
					commits.Set(slot, j, l, r.params.Commit(b, split[j][l]))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *run) collectCommitments(ctx context.Context, commits []*slots.Cube[kyber.Point]) error {
	layout := r.inst.Layout
	seen := newTracker(r.k, layout.Slots())
	for !seen.done() {
		pkt, idx, err := r.next(ctx, r.inst.Phases.Commitments, false)
		if err != nil {
			return err
		}
		slot, ok := r.slotOf(pkt)
		if !ok {
			continue
		}
		n := layout.Slices(slot)
		_, points, err := marshalling.DecodeCommitments(r.params, pkt.Payload, r.k*n)
		if err != nil {
			r.logger.Warn().Err(err).Msgf("malformed commitments from %d", pkt.Sender)
			continue
		}
		if !seen.mark(idx, slot) {
			continue
		}
		for j := 0; j < r.k; j++ {
			for l := 0; l < n; l++ {
				commits[idx].Set(slot, j, l, points[j*n+l])
			}
		}
	}
	r.logger.Debug().Msg("collected all commitments")
	return nil
}

// reduce checks every private share against the commitment of its sender and
// adds them to the local share
func (r *run) reduce(ctx context.Context, shares, blinding *slots.Cube[kyber.Scalar],
	commits []*slots.Cube[kyber.Point]) (*slots.Grid[kyber.Scalar], *slots.Grid[kyber.Scalar], error) {

	layout := r.inst.Layout
	sumR := slots.NewGrid[kyber.Scalar](layout)
	sumS := slots.NewGrid[kyber.Scalar](layout)
	for slot := 0; slot < layout.Slots(); slot++ {
		for l := 0; l < layout.Slices(slot); l++ {
			sumR.Set(slot, l, blinding.At(slot, r.own, l).Clone())
			sumS.Set(slot, l, shares.At(slot, r.own, l).Clone())
		}
	}

	seen := newTracker(r.k, layout.Slots())
	for !seen.done() {
		pkt, idx, err := r.next(ctx, r.inst.Phases.Shares, true)
		if err != nil {
			return nil, nil, err
		}
		slot, ok := r.slotOf(pkt)
		if !ok {
			continue
		}
		pairs, err := marshalling.DecodePairs(r.params, pkt.Payload, layout.Slices(slot))
		if err != nil {
			r.logger.Warn().Err(err).Msgf("malformed shares from %d", pkt.Sender)
			continue
		}
		if seen.has(idx, slot) {
			continue
		}
		rs, ss := pairs.R, pairs.S
		l := r.firstMismatch(pairs, func(l int) kyber.Point {
			return commits[idx].At(slot, r.own, l)
		})
		if l >= 0 {
			rec := r.record(pkt.Sender, pairs, l)
			err = VerifyPair(r.params.Suite, r.members[idx].PublicKey, marshalling.KindShare, r.inst.Round, r.self, rec)
			if err != nil {
				r.logger.Warn().Err(err).Msgf("unsigned share from %d", pkt.Sender)
				continue
			}
			return nil, nil, r.accuse(ctx, messaging.BlameShare, marshalling.KindShare, rec)
		}
		seen.mark(idx, slot)
		for l := range rs {
			sumR.At(slot, l).Add(sumR.At(slot, l), rs[l])
			sumS.At(slot, l).Add(sumS.At(slot, l), ss[l])
		}
	}
	r.logger.Debug().Msg("verified all shares")
	return sumR, sumS, nil
}

// sign signs every (r, s) pair of a slot for the recipient, 0 for
// broadcast sums
func (r *run) sign(kind marshalling.AccusationKind, recipient uint32, slot int, rs, ss []kyber.Scalar) ([][]byte, error) {
	sigs := make([][]byte, len(rs))
	for l := range rs {
		sig, err := SignPair(r.params.Suite, r.group.PrivateKey(), kind, r.inst.Round,
			r.self, recipient, uint32(slot), uint32(l), rs[l], ss[l])
		if err != nil {
			return nil, xerrors.Errorf("failed to sign pair: %w", err)
		}
		sigs[l] = sig
	}
	return sigs, nil
}

// firstMismatch returns the first slice whose pair does not open the
// commitment, -1 if all do
func (r *run) firstMismatch(pairs *marshalling.Pairs, commitment func(l int) kyber.Point) int {
	for l := range pairs.R {
		if !r.params.Verify(commitment(l), pairs.R[l], pairs.S[l]) {
			return l
		}
	}
	return -1
}

// record is the evidence against the sender of the pairs at slice l
func (r *run) record(sender uint32, pairs *marshalling.Pairs, l int) marshalling.BlameRecord {
	return marshalling.BlameRecord{
		Suspect:   sender,
		Slot:      uint32(pairs.Slot),
		Slice:     uint32(l),
		R:         pairs.R[l],
		S:         pairs.S[l],
		Signature: pairs.Signatures[l],
	}
}

// Column returns the commitment to the sum of the shares of index share, the
// value member share broadcasts in the last phase
func Column(p *pedersencommitment.Params, commits []*slots.Cube[kyber.Point], slot, share, slice int) kyber.Point {
	acc := p.Suite.Point().Null()
	for _, c := range commits {
		acc.Add(acc, c.At(slot, share, slice))
	}
	return acc
}

// total checks the sums broadcast by the peers and adds them up
func (r *run) total(ctx context.Context, sumS *slots.Grid[kyber.Scalar],
	commits []*slots.Cube[kyber.Point]) (*slots.Grid[kyber.Scalar], error) {

	layout := r.inst.Layout
	totalS := slots.NewGrid[kyber.Scalar](layout)
	for slot := 0; slot < layout.Slots(); slot++ {
		for l := 0; l < layout.Slices(slot); l++ {
			totalS.Set(slot, l, sumS.At(slot, l).Clone())
		}
	}

	seen := newTracker(r.k, layout.Slots())
	for !seen.done() {
		pkt, idx, err := r.next(ctx, r.inst.Phases.Sums, true)
		if err != nil {
			return nil, err
		}
		slot, ok := r.slotOf(pkt)
		if !ok {
			continue
		}
		pairs, err := marshalling.DecodePairs(r.params, pkt.Payload, layout.Slices(slot))
		if err != nil {
			r.logger.Warn().Err(err).Msgf("malformed sums from %d", pkt.Sender)
			continue
		}
		if seen.has(idx, slot) {
			continue
		}
		ss := pairs.S
		l := r.firstMismatch(pairs, func(l int) kyber.Point {
			return Column(r.params, commits, slot, idx, l)
		})
		if l >= 0 {
			rec := r.record(pkt.Sender, pairs, l)
			err = VerifyPair(r.params.Suite, r.members[idx].PublicKey, marshalling.KindSum, r.inst.Round, 0, rec)
			if err != nil {
				r.logger.Warn().Err(err).Msgf("unsigned sum from %d", pkt.Sender)
				continue
			}
			return nil, r.accuse(ctx, messaging.BlameSum, marshalling.KindSum, rec)
		}
		seen.mark(idx, slot)
		for l := range ss {
			totalS.At(slot, l).Add(totalS.At(slot, l), ss[l])
		}
	}
	r.logger.Debug().Msg("verified all sums")
	return totalS, nil
}

func (r *run) unsecured(ctx context.Context) (*Result, error) {
	layout := r.inst.Layout
	phases := r.inst.Phases

	rand := random.New()
	shares := make([][][]byte, layout.Slots())
	for slot := range shares {
		shares[slot] = secretsharing.SplitBytes(r.inst.Values[slot], r.k, rand)
	}

	err := r.fanOut(ctx, func(peer int) ([]*messaging.Packet, error) {
		packets := make([]*messaging.Packet, layout.Slots())
		for slot := range packets {
			payload, err := marshalling.EncodeRaw(slot, shares[slot][peer])
			if err != nil {
				return nil, err
			}
			packets[slot] = r.packet(phases.Shares, payload)
		}
		return packets, nil
	})
	if err != nil {
		return nil, err
	}

	acc := make([][]byte, layout.Slots())
	for slot := range acc {
		acc[slot] = shares[slot][r.own]
	}
	err = r.xorAll(ctx, phases.Shares, acc)
	if err != nil {
		return nil, err
	}

	packets := make([]*messaging.Packet, layout.Slots())
	for slot := range packets {
		payload, err := marshalling.EncodeRaw(slot, acc[slot])
		if err != nil {
			return nil, err
		}
		packets[slot] = r.packet(phases.Sums, payload)
	}
	err = r.broadcast(ctx, packets)
	if err != nil {
		return nil, err
	}

	total := make([][]byte, layout.Slots())
	for slot := range total {
		total[slot] = append([]byte(nil), acc[slot]...)
	}
	err = r.xorAll(ctx, phases.Sums, total)
	if err != nil {
		return nil, err
	}

	err = r.finish(ctx, false)
	if err != nil {
		return nil, err
	}
	return &Result{Layout: layout, Slots: total}, nil
}

// xorAll folds one raw payload per (peer, slot) into acc
func (r *run) xorAll(ctx context.Context, t messaging.Type, acc [][]byte) error {
	seen := newTracker(r.k, r.inst.Layout.Slots())
	for !seen.done() {
		pkt, idx, err := r.next(ctx, t, false)
		if err != nil {
			return err
		}
		slot, ok := r.slotOf(pkt)
		if !ok {
			continue
		}
		_, data, err := marshalling.DecodeRaw(pkt.Payload, r.inst.Layout.Length(slot))
		if err != nil {
			r.logger.Warn().Err(err).Msgf("malformed %s from %d", t, pkt.Sender)
			continue
		}
		if !seen.mark(idx, slot) {
			continue
		}
		secretsharing.XorBytes(acc[slot], data)
	}
	return nil
}
