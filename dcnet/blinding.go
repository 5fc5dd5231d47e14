package dcnet

import (
	"crypto/cipher"
	"encoding/binary"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/pedersencommitment"
	"student_25_dcnet/slots"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

const blindingLabel = "dcnet blinding"

// blindingSeed returns the seed of the blinding stream of one member in one
// logical slot. shared is e·pub for the slot owner and E·x for the member.
func blindingSeed(shared kyber.Point, slot int) ([]byte, error) {
	bs, err := shared.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal shared point: %w", err)
	}
	seed := make([]byte, 0, len(bs)+len(blindingLabel)+4)
	seed = append(seed, bs...)
	seed = append(seed, blindingLabel...)
	return binary.BigEndian.AppendUint32(seed, uint32(slot)), nil
}

// blindingStream returns a fresh XOF over the seed of a member in a slot
func blindingStream(suite pedersencommitment.Suite, shared kyber.Point, slot int) (cipher.Stream, error) {
	seed, err := blindingSeed(shared, slot)
	if err != nil {
		return nil, err
	}
	return suite.XOF(seed), nil
}

// blindingSums draws the blinding scalars of a member for a slot in
// (share, slice) order and returns their sum per slice
func blindingSums(suite pedersencommitment.Suite, stream cipher.Stream, shares, slices int) []kyber.Scalar {
	sums := make([]kyber.Scalar, slices)
	for l := range sums {
		sums[l] = suite.Scalar().Zero()
	}
	for j := 0; j < shares; j++ {
		for l := 0; l < slices; l++ {
			sums[l].Add(sums[l], suite.Scalar().Pick(stream))
		}
	}
	return sums
}

// zeroSum returns the first slice in which the commitments of a member do
// not open to zero under the blinding sums, -1 if every slice does
func zeroSum(params *pedersencommitment.Params, commits *slots.Cube[kyber.Point], slot int,
	sums []kyber.Scalar) int {

	if commits.Layout().Slices(slot) != len(sums) {
		return 0
	}
	for l, r := range sums {
		total := params.Suite.Point().Null()
		for j := 0; j < commits.Shares(); j++ {
			total = params.Add(total, commits.At(slot, j, l))
		}
		if !total.Equal(params.CommitBlinding(r)) {
			return l
		}
	}
	return -1
}

// ownSeeds returns the seed of every logical slot for the local member
func (dc *DCNetwork) ownSeeds(plan *transmissionPlan) ([][]byte, error) {
	own := dc.group.OwnIndex()
	seeds := make([][]byte, len(plan.reservations))
	for slot, r := range plan.reservations {
		shared := dc.params.Suite.Point().Mul(dc.group.PrivateKey(), r.Keys[own])
		seed, err := blindingSeed(shared, slot)
		if err != nil {
			return nil, err
		}
		seeds[slot] = seed
	}
	return seeds, nil
}

// jamEvidence checks the contributions of every other member to the own
// slot of the plan. It returns the anonymous accusation against the first
// member whose contributions do not sum to zero, nil if none is found.
func (dc *DCNetwork) jamEvidence(plan *transmissionPlan, commits []*slots.Cube[kyber.Point]) (*marshalling.Accusation, error) {
	suite := dc.params.Suite
	members := dc.group.Members()
	own := dc.group.OwnIndex()
	slices := plan.layout().Slices(plan.own)

	for m, member := range members {
		if m == own {
			continue
		}
		e := plan.ephemeral[m]
		shared := suite.Point().Mul(e, member.PublicKey)
		stream, err := blindingStream(suite, shared, plan.own)
		if err != nil {
			return nil, err
		}
		sums := blindingSums(suite, stream, len(members), slices)
		l := zeroSum(dc.params, commits[m], plan.own, sums)
		if l < 0 {
			continue
		}
		return &marshalling.Accusation{
			Kind: marshalling.KindJam,
			Record: marshalling.BlameRecord{
				Suspect: member.NodeID,
				Slot:    uint32(plan.own),
				Slice:   uint32(l),
				R:       e,
				S:       suite.Scalar().Zero(),
			},
		}, nil
	}
	return nil, nil
}
