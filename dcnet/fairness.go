package dcnet

import (
	"context"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"student_25_dcnet/commoncoin"
	"student_25_dcnet/marshalling"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/pedersencommitment"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/xerrors"
)

const fairnessLabel = "dcnet fairness"

// fairnessState makes every member show that it wrote in at most one slot
// of a sharing instance without telling which. Each member publishes its
// per-slot commitments shuffled and re-randomized; a common coin then asks
// either to open every position but one, or to prove the shuffle.
type fairnessState struct {
	instance *sharing.Result
	// ownSlot is the slot this member wrote in, -1 if none
	ownSlot int
}

func (*fairnessState) String() string { return "fairness" }

// shuffle is the secret side of a member's fairness commitments. Positions
// use the slot layout of the instance, which is uniform.
type shuffle struct {
	// perm[p] is the slot hidden at position p
	perm   []int
	extra  *slots.Grid[kyber.Scalar]
	points *slots.Grid[kyber.Point]
}

// permutation draws a uniform permutation of n elements
func permutation(n int, rand cipher.Stream) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := slots.RandomIndex(i+1, rand)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// slotCommitment adds the commitments of every share of a slice
func slotCommitment(params *pedersencommitment.Params, commits *slots.Cube[kyber.Point], slot, slice int) kyber.Point {
	total := params.Suite.Point().Null()
	for j := 0; j < commits.Shares(); j++ {
		total = params.Add(total, commits.At(slot, j, slice))
	}
	return total
}

func newShuffle(params *pedersencommitment.Params, commits *slots.Cube[kyber.Point], rand cipher.Stream) *shuffle {
	layout := commits.Layout()
	sh := &shuffle{
		perm:   permutation(layout.Slots(), rand),
		extra:  slots.NewGrid[kyber.Scalar](layout),
		points: slots.NewGrid[kyber.Point](layout),
	}
	for p := 0; p < layout.Slots(); p++ {
		for l := 0; l < layout.Slices(p); l++ {
			r := params.Suite.Scalar().Pick(rand)
			sh.extra.Set(p, l, r)
			c := slotCommitment(params, commits, sh.perm[p], l)
			sh.points.Set(p, l, params.Add(c, params.CommitBlinding(r)))
		}
	}
	return sh
}

// closed returns the position hiding the slot, a random one for -1
func (sh *shuffle) closed(slot int, rand cipher.Stream) int {
	for p, s := range sh.perm {
		if s == slot {
			return p
		}
	}
	return slots.RandomIndex(len(sh.perm), rand)
}

// open returns the sum of the re-randomizing scalars per slice, followed
// by the opening of every position but the closed one, in position order
func (sh *shuffle) open(suite pedersencommitment.Suite, blinding *slots.Cube[kyber.Scalar], closed int) []kyber.Scalar {
	layout := blinding.Layout()
	slices := layout.Slices(0)
	out := make([]kyber.Scalar, slices, slices*layout.Slots())
	for l := range out {
		out[l] = suite.Scalar().Zero()
		for p := 0; p < layout.Slots(); p++ {
			out[l].Add(out[l], sh.extra.At(p, l))
		}
	}
	for p := 0; p < layout.Slots(); p++ {
		if p == closed {
			continue
		}
		for l := 0; l < slices; l++ {
			rho := suite.Scalar().Set(sh.extra.At(p, l))
			for j := 0; j < blinding.Shares(); j++ {
				rho.Add(rho, blinding.At(sh.perm[p], j, l))
			}
			out = append(out, rho)
		}
	}
	return out
}

// verifyOpen checks that the shuffled commitments add up to the member's
// commitments and that every position but the closed one commits to zero
func verifyOpen(params *pedersencommitment.Params, commits *slots.Cube[kyber.Point], points *slots.Grid[kyber.Point],
	closed int, scalars []kyber.Scalar) bool {

	layout := commits.Layout()
	n, slices := layout.Slots(), layout.Slices(0)
	if closed < 0 || closed >= n || len(scalars) != n*slices {
		return false
	}
	for l := 0; l < slices; l++ {
		expected := params.CommitBlinding(scalars[l])
		shuffled := params.Suite.Point().Null()
		for p := 0; p < n; p++ {
			expected = params.Add(expected, slotCommitment(params, commits, p, l))
			shuffled = params.Add(shuffled, points.At(p, l))
		}
		if !expected.Equal(shuffled) {
			return false
		}
	}
	i := slices
	for p := 0; p < n; p++ {
		if p == closed {
			continue
		}
		for l := 0; l < slices; l++ {
			if !points.At(p, l).Equal(params.CommitBlinding(scalars[i])) {
				return false
			}
			i++
		}
	}
	return true
}

func proofMessage(member uint32, round uint64, position, slice int) []byte {
	msg := make([]byte, 0, len(fairnessLabel)+16)
	msg = append(msg, fairnessLabel...)
	msg = binary.BigEndian.AppendUint32(msg, member)
	msg = binary.BigEndian.AppendUint64(msg, round)
	msg = binary.BigEndian.AppendUint16(msg, uint16(position))
	return binary.BigEndian.AppendUint16(msg, uint16(slice))
}

// prove signs with the re-randomizing scalar of every slice of a position
func (sh *shuffle) prove(suite pedersencommitment.Suite, member uint32, round uint64, position int) ([][]byte, error) {
	slices := sh.extra.Layout().Slices(position)
	sigs := make([][]byte, slices)
	for l := range sigs {
		sig, err := schnorr.Sign(suite, sh.extra.At(position, l), proofMessage(member, round, position, l))
		if err != nil {
			return nil, err
		}
		sigs[l] = sig
	}
	return sigs, nil
}

// verifyProofs checks that perm is a permutation and that every shuffled
// commitment differs from the one of its slot by a known multiple of G
func verifyProofs(params *pedersencommitment.Params, commits *slots.Cube[kyber.Point], points *slots.Grid[kyber.Point],
	perm []int, sigs [][][]byte, member uint32, round uint64) bool {

	layout := commits.Layout()
	n := layout.Slots()
	if len(perm) != n || len(sigs) != n {
		return false
	}
	seen := make([]bool, n)
	for p, slot := range perm {
		if slot < 0 || slot >= n || seen[slot] || len(sigs[p]) != layout.Slices(p) {
			return false
		}
		seen[slot] = true
		for l, sig := range sigs[p] {
			diff := params.Suite.Point().Sub(points.At(p, l), slotCommitment(params, commits, slot, l))
			err := schnorr.Verify(params.Suite, diff, proofMessage(member, round, p, l), sig)
			if err != nil {
				return false
			}
		}
	}
	return true
}

func (s *fairnessState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	dc.counters.fairnessRuns.Add(1)

	result := s.instance
	layout := result.Layout
	n := layout.Slots()
	own := dc.group.OwnIndex()
	members := dc.group.Members()
	rand := random.New()
	sh := newShuffle(dc.params, result.Commitments[own], rand)

	for p := 0; p < n; p++ {
		payload, err := marshalling.EncodeCommitments(p, sh.points.Row(p))
		if err != nil {
			return nil, err
		}
		err = dc.toRing(dc.packet(messaging.FairnessCommitments, round, payload))
		if err != nil {
			return nil, err
		}
	}

	points := make([]*slots.Grid[kyber.Point], len(members))
	failed, err := dc.collect(ctx, round, messaging.FairnessCommitments, n, func(m int, payload []byte) error {
		if points[m] == nil {
			points[m] = slots.NewGrid[kyber.Point](layout)
		}
		p, cs, err := marshalling.DecodeCommitments(dc.params, payload, layout.Slices(0))
		if err != nil {
			return err
		}
		if p >= n || points[m].At(p, 0) != nil {
			return xerrors.Errorf("unexpected position %d", p)
		}
		for l, c := range cs {
			points[m].Set(p, l, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	coin, err := commoncoin.Flip(ctx, dc.engine, dc.nextRound())
	if err != nil {
		if errors.Is(err, sharing.ErrAborted) || errors.Is(err, commoncoin.ErrInvalidCoin) {
			dc.logger.Warn().Err(err).Msg("coin flip failed, restarting")
			return initState{}, nil
		}
		return nil, err
	}
	metrics.FairnessTotal.WithLabelValues(coin.String()).Inc()
	dc.logger.Info().Msgf("fairness coin is %s", coin)

	if coin == commoncoin.CoinZero {
		closed := sh.closed(s.ownSlot, rand)
		payload, err := marshalling.EncodeScalars(closed, sh.open(dc.params.Suite, result.Blinding, closed))
		if err != nil {
			return nil, err
		}
		err = dc.toRing(dc.packet(messaging.FairnessOpen, round, payload))
		if err != nil {
			return nil, err
		}
		more, err := dc.collect(ctx, round, messaging.FairnessOpen, 1, func(m int, payload []byte) error {
			if _, ok := failed[m]; ok {
				return nil
			}
			closed, scalars, err := marshalling.DecodeScalars(dc.params, payload, n*layout.Slices(0))
			if err != nil {
				return err
			}
			if !verifyOpen(dc.params, result.Commitments[m], points[m], closed, scalars) {
				return xerrors.New("opening does not match")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		merge(failed, more)
	} else {
		for p := 0; p < n; p++ {
			sigs, err := sh.prove(dc.params.Suite, dc.conf.NodeID, round, p)
			if err != nil {
				return nil, err
			}
			payload, err := marshalling.EncodeProofs(p, sh.perm[p], sigs)
			if err != nil {
				return nil, err
			}
			err = dc.toRing(dc.packet(messaging.FairnessProof, round, payload))
			if err != nil {
				return nil, err
			}
		}
		perms := make([][]int, len(members))
		sigs := make([][][][]byte, len(members))
		more, err := dc.collect(ctx, round, messaging.FairnessProof, n, func(m int, payload []byte) error {
			if perms[m] == nil {
				perms[m] = make([]int, n)
				sigs[m] = make([][][]byte, n)
			}
			p, slot, ss, err := marshalling.DecodeProofs(payload, layout.Slices(0), marshalling.SignatureSize)
			if err != nil {
				return err
			}
			if p >= n || sigs[m][p] != nil {
				return xerrors.Errorf("unexpected position %d", p)
			}
			perms[m][p] = slot
			sigs[m][p] = ss
			return nil
		})
		if err != nil {
			return nil, err
		}
		merge(failed, more)
		for m, member := range members {
			if _, ok := failed[m]; ok || m == own {
				continue
			}
			if !verifyProofs(dc.params, result.Commitments[m], points[m], perms[m], sigs[m], member.NodeID, round) {
				dc.logger.Warn().Msgf("shuffle proof of %d does not verify", member.NodeID)
				failed[m] = struct{}{}
			}
		}
	}

	excluded := make([]uint32, 0, len(failed))
	for m := range failed {
		excluded = append(excluded, members[m].NodeID)
	}
	return dc.exclude(excluded)
}

// toRing sends the packet to every other member
func (dc *DCNetwork) toRing(pkt *messaging.Packet) error {
	for _, m := range dc.group.Ring() {
		err := dc.node.Send(m.Conn, pkt)
		if err != nil {
			return xerrors.Errorf("failed to send %s to %d: %w", pkt.Type, m.NodeID, err)
		}
	}
	return nil
}

// collect receives count packets of type t from every other member. A
// member whose packet handle rejects is reported and not waited for
// anymore.
func (dc *DCNetwork) collect(ctx context.Context, round uint64, t messaging.Type, count int,
	handle func(member int, payload []byte) error) (map[int]struct{}, error) {

	failed := make(map[int]struct{})
	received := make(map[int]int)
	own := dc.group.OwnIndex()
	waiting := dc.group.Size() - 1
	for waiting > 0 {
		pkt, err := dc.node.Receive(ctx, round, t)
		if err != nil {
			return nil, err
		}
		m, err := dc.group.Index(pkt.Sender)
		if err != nil || m == own {
			continue
		}
		if _, ok := failed[m]; ok || received[m] == count {
			continue
		}
		err = handle(m, pkt.Payload)
		if err != nil {
			dc.logger.Warn().Err(err).Msgf("invalid %s from %d", t, pkt.Sender)
			failed[m] = struct{}{}
			waiting--
			continue
		}
		received[m]++
		if received[m] == count {
			waiting--
		}
	}
	return failed, nil
}

func merge(dst, src map[int]struct{}) {
	for m := range src {
		dst[m] = struct{}{}
	}
}
