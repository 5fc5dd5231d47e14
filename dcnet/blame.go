package dcnet

import (
	"context"
	"errors"
	"sort"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/xerrors"
)

// maxBlameAttempts is the number of colliding blame rounds tolerated before
// falling back to the fairness protocol
const maxBlameAttempts = 3

// blameState publishes the accusations raised by an aborted instance in a
// secured sharing round of its own, then adjudicates them against the
// commitments of the aborted instance
type blameState struct {
	// cause is nil when a transmission ended with corrupt slots
	cause        *sharing.MismatchError
	aborted      *sharing.Result
	abortedRound uint64
	// plan is the transmission plan of the aborted round, nil for a
	// reservation
	plan *transmissionPlan
	// jam is the evidence of the owner of a corrupt slot
	jam     *marshalling.Accusation
	attempt int
}

func (*blameState) String() string { return "blame" }

// blameSlotSize is checksum | accusation | schnorr signature
func (dc *DCNetwork) blameSlotSize() int {
	return slots.ChecksumSize + marshalling.SignedAccusationSize
}

// blameSlot builds the slot content publishing the accusation. Named
// accusations are signed by the accuser, jam ones stay anonymous.
func (dc *DCNetwork) blameSlot(a marshalling.Accusation, round uint64) ([]byte, error) {
	bs, err := sharing.SignAccusation(dc.params.Suite, dc.group.PrivateKey(), round, a)
	if err != nil {
		return nil, err
	}
	return slots.Seal(bs), nil
}

// openBlameSlot decodes a published accusation and checks its signature
func (dc *DCNetwork) openBlameSlot(slot []byte, round uint64) (*marshalling.Accusation, error) {
	body, err := slots.Open(slot)
	if err != nil {
		return nil, err
	}
	if len(body) != marshalling.SignedAccusationSize {
		return nil, xerrors.Errorf("blame slot of %d bytes: %w", len(body), slots.ErrMalformedSlot)
	}
	return sharing.OpenAccusation(dc.params, dc.group, round, body)
}

// evidence returns the accusation this member publishes, if any
func (s *blameState) evidence() *marshalling.Accusation {
	if s.jam != nil {
		return s.jam
	}
	if s.cause != nil && s.cause.Local {
		a := s.cause.Accusation()
		return &a
	}
	return nil
}

// received returns the accusation of the blame message that stopped the
// aborted instance here, if any
func (s *blameState) received() *marshalling.Accusation {
	if s.cause == nil || s.cause.Local {
		return nil
	}
	a := s.cause.Accusation()
	return &a
}

func (s *blameState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	if s.attempt == 0 {
		dc.counters.blames.Add(1)
		if s.cause != nil {
			dc.logger.Warn().Msgf("round %d aborted: %v", s.abortedRound, s.cause)
		}
	}

	k := dc.group.Size()
	layout := slots.UniformLayout(2*k, dc.blameSlotSize())
	values := emptyValues(layout)
	ownSlot := -1
	if a := s.evidence(); a != nil {
		bs, err := dc.blameSlot(*a, s.abortedRound)
		if err != nil {
			return nil, err
		}
		ownSlot, _ = slots.ReserveSlot(layout.Slots(), random.New())
		values[ownSlot] = bs
	}

	result, err := dc.engine.Run(ctx, sharing.Instance{
		Name:   "blame",
		Round:  round,
		Mode:   sharing.Secured,
		Phases: messaging.BlameRoundPhases,
		Layout: layout,
		Values: values,
	})
	if err != nil {
		mismatch := &sharing.MismatchError{}
		if !errors.As(err, &mismatch) {
			return nil, err
		}
		metrics.RoundsTotal.WithLabelValues("blame", "aborted").Inc()
		dc.logger.Warn().Msgf("blame round aborted: %v", mismatch)
		return dc.exclude(dc.adjudicate(mismatch.Accusation(), result, round, nil))
	}

	accusations := make([]marshalling.Accusation, 0)
	collisions := 0
	for slot, bs := range result.Slots {
		if bs == nil {
			collisions++
			continue
		}
		if slots.IsEmpty(bs) {
			continue
		}
		a, err := dc.openBlameSlot(bs, s.abortedRound)
		if err != nil {
			if errors.Is(err, slots.ErrChecksum) || errors.Is(err, slots.ErrMalformedSlot) {
				collisions++
			} else {
				dc.logger.Warn().Err(err).Msgf("ignoring accusation in blame slot %d", slot)
			}
			continue
		}
		accusations = append(accusations, *a)
	}

	if collisions > 0 {
		return s.retry(dc, result, ownSlot, collisions), nil
	}
	metrics.RoundsTotal.WithLabelValues("blame", "ok").Inc()

	// A blame message received directly is judged even when its accuser
	// publishes nothing
	if a := s.received(); a != nil {
		accusations = append(accusations, *a)
	}
	unique, equivocating := distinct(accusations)
	excluded := equivocating
	for _, id := range equivocating {
		dc.logger.Warn().Msgf("%d signed different accusations", id)
	}
	for _, a := range unique {
		excluded = append(excluded, dc.adjudicate(a, s.aborted, s.abortedRound, s.plan)...)
	}
	return dc.exclude(excluded)
}

// retry runs the blame round again after a collision, or the fairness
// protocol over it once the attempts are exhausted
func (s *blameState) retry(dc *DCNetwork, result *sharing.Result, ownSlot, collisions int) state {
	metrics.RoundsTotal.WithLabelValues("blame", "collision").Inc()
	dc.counters.collisions.Add(uint64(collisions))
	metrics.CollisionsTotal.Add(float64(collisions))
	if s.attempt+1 >= maxBlameAttempts {
		dc.logger.Warn().Msgf("%d colliding blame rounds, running fairness", maxBlameAttempts)
		return &fairnessState{instance: result, ownSlot: ownSlot}
	}
	next := *s
	next.attempt++
	return &next
}

// distinct drops repeated accusations. Accusers that signed different
// accusations about the same instance are returned apart, and their
// accusations dropped.
func distinct(accusations []marshalling.Accusation) ([]marshalling.Accusation, []uint32) {
	seen := make(map[string]struct{})
	byAccuser := make(map[uint32]string)
	equivocating := make(map[uint32]struct{})
	kept := make([]marshalling.Accusation, 0, len(accusations))
	for _, a := range accusations {
		bs, err := marshalling.EncodeAccusation(a)
		if err != nil {
			continue
		}
		key := string(bs)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if a.Kind != marshalling.KindJam {
			if prev, ok := byAccuser[a.Accuser]; ok && prev != key {
				equivocating[a.Accuser] = struct{}{}
				continue
			}
			byAccuser[a.Accuser] = key
		}
		kept = append(kept, a)
	}

	unique := make([]marshalling.Accusation, 0, len(kept))
	for _, a := range kept {
		if _, ok := equivocating[a.Accuser]; ok && a.Kind != marshalling.KindJam {
			continue
		}
		unique = append(unique, a)
	}
	ids := make([]uint32, 0, len(equivocating))
	for id := range equivocating {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return unique, ids
}

// adjudicate returns the members the accusation proves dishonest: the
// suspect when it signed disclosed values that contradict its commitments,
// the accuser otherwise. round is the round of the disputed instance.
func (dc *DCNetwork) adjudicate(a marshalling.Accusation, aborted *sharing.Result, round uint64,
	plan *transmissionPlan) []uint32 {

	verdict := "rejected"
	defer func() {
		metrics.AccusationsTotal.WithLabelValues(a.Kind.String(), verdict).Inc()
	}()

	rec := a.Record
	suspect, err := dc.group.Index(rec.Suspect)
	if err != nil || aborted == nil || aborted.Commitments == nil {
		dc.logger.Warn().Msgf("accusation against %d cannot be checked", rec.Suspect)
		return dc.blameAccuser(a)
	}
	layout := aborted.Layout
	slot, slice := int(rec.Slot), int(rec.Slice)
	if slot >= layout.Slots() || slice >= layout.Slices(slot) {
		dc.logger.Warn().Msgf("accusation at slot %d slice %d out of %s", slot, slice, layout)
		return dc.blameAccuser(a)
	}

	if a.Kind == marshalling.KindJam {
		if !dc.jamProven(rec, suspect, aborted, plan) {
			return nil
		}
		verdict = "upheld"
		return []uint32{rec.Suspect}
	}

	accuser, err := dc.group.Index(a.Accuser)
	if err != nil || accuser == suspect {
		dc.logger.Warn().Msgf("accusation by %d against %d is void", a.Accuser, rec.Suspect)
		return dc.blameAccuser(a)
	}
	var c kyber.Point
	recipient := a.Accuser
	if a.Kind == marshalling.KindShare {
		c = aborted.Commitments[suspect].At(slot, accuser, slice)
	} else {
		recipient = 0
		c = sharing.Column(dc.params, aborted.Commitments, slot, suspect, slice)
	}

	err = sharing.VerifyPair(dc.params.Suite, dc.group.At(suspect).PublicKey, a.Kind, round, recipient, rec)
	if err != nil {
		dc.logger.Warn().Msgf("accusation by %d discloses values %d never signed", a.Accuser, rec.Suspect)
		return []uint32{a.Accuser}
	}
	if dc.params.Verify(c, rec.R, rec.S) {
		dc.logger.Warn().Msgf("false accusation by %d against %d", a.Accuser, rec.Suspect)
		return []uint32{a.Accuser}
	}
	verdict = "upheld"
	dc.logger.Warn().Msgf("%d cheated at slot %d slice %d", rec.Suspect, slot, slice)
	return []uint32{rec.Suspect}
}

func (dc *DCNetwork) blameAccuser(a marshalling.Accusation) []uint32 {
	if a.Kind == marshalling.KindJam {
		return nil
	}
	return []uint32{a.Accuser}
}

// jamProven checks the revealed ephemeral key against the reservation and
// reruns the zero-sum check of the suspect's contributions
func (dc *DCNetwork) jamProven(rec marshalling.BlameRecord, suspect int, aborted *sharing.Result,
	plan *transmissionPlan) bool {

	slot := int(rec.Slot)
	if plan == nil || slot >= len(plan.reservations) {
		return false
	}
	keys := plan.reservations[slot].Keys
	if suspect >= len(keys) || !dc.params.CommitBlinding(rec.R).Equal(keys[suspect]) {
		dc.logger.Warn().Msgf("jam accusation reveals a wrong key for %d", rec.Suspect)
		return false
	}

	suite := dc.params.Suite
	member := dc.group.At(suspect)
	stream, err := blindingStream(suite, suite.Point().Mul(rec.R, member.PublicKey), slot)
	if err != nil {
		return false
	}
	commits := aborted.Commitments[suspect]
	sums := blindingSums(suite, stream, commits.Shares(), aborted.Layout.Slices(slot))
	l := zeroSum(dc.params, commits, slot, sums)
	return l >= 0
}

// exclude removes the members from the group and restarts from Init
func (dc *DCNetwork) exclude(nodes []uint32) (state, error) {
	for _, id := range nodes {
		if id == dc.conf.NodeID {
			dc.logger.Error().Msg("excluded by the group")
			return nil, ErrExcluded
		}
	}
	for _, id := range nodes {
		err := dc.group.Remove(id)
		if err != nil {
			continue
		}
		dc.excluded[id] = struct{}{}
		dc.counters.exclusions.Add(1)
		metrics.ExclusionsTotal.Inc()
		dc.logger.Warn().Msgf("excluded %d", id)
	}
	if dc.group.Size() < 2 {
		return nil, xerrors.Errorf("%d members left: %w", dc.group.Size(), ErrGroupTooSmall)
	}
	return initState{}, nil
}
