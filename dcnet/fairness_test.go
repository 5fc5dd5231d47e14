package dcnet

import (
	"context"
	"sort"
	"testing"

	"student_25_dcnet/messaging"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"
	test "student_25_dcnet/testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v4"
)

// contributions returns the commitments and blinding scalars of a member
// that wrote the given values, on the first slice of the slots
func contributions(layout slots.Layout, k int, written map[int]int64) (*slots.Cube[kyber.Point],
	*slots.Cube[kyber.Scalar]) {

	rand := test.Suite.RandomStream()
	commits := slots.NewCube[kyber.Point](layout, k)
	blinding := slots.NewCube[kyber.Scalar](layout, k)
	for slot := 0; slot < layout.Slots(); slot++ {
		for j := 0; j < k; j++ {
			for l := 0; l < layout.Slices(slot); l++ {
				s := test.Suite.Scalar().Zero()
				if v, ok := written[slot]; ok && j == 0 && l == 0 {
					s.SetInt64(v)
				}
				r := test.Suite.Scalar().Pick(rand)
				blinding.Set(slot, j, l, r)
				commits.Set(slot, j, l, test.Params.Commit(r, s))
			}
		}
	}
	return commits, blinding
}

func TestPermutation(t *testing.T) {
	perm := permutation(20, test.Suite.RandomStream())
	sorted := append([]int(nil), perm...)
	sort.Ints(sorted)
	for i, v := range sorted {
		require.Equal(t, i, v)
	}
}

// Every element ends up at every position, the first one included, about as
// often as the others
func TestPermutation_Uniform(t *testing.T) {
	rand := test.Suite.RandomStream()
	n := 6
	counts := make([][]int, n)
	for p := range counts {
		counts[p] = make([]int, n)
	}
	for i := 0; i < 3000; i++ {
		for p, v := range permutation(n, rand) {
			counts[p][v]++
		}
	}
	for p := range counts {
		for v, c := range counts[p] {
			require.Greaterf(t, c, 350, "%d at position %d %d times", v, p, c)
			require.Lessf(t, c, 650, "%d at position %d %d times", v, p, c)
		}
	}
}

// A member that wrote nothing keeps any position closed, the first one too
func TestShuffle_ClosedUniform(t *testing.T) {
	layout := slots.UniformLayout(4, 8)
	commits, _ := contributions(layout, 2, nil)
	rand := test.Suite.RandomStream()
	sh := newShuffle(test.Params, commits, rand)

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[sh.closed(-1, rand)] = true
	}
	require.Len(t, seen, layout.Slots())
}

// A member that wrote one slot opens every other position
func TestShuffle_OpenSingleWriter(t *testing.T) {
	layout := slots.UniformLayout(6, 40)
	commits, blinding := contributions(layout, 3, map[int]int64{2: 5})
	rand := test.Suite.RandomStream()
	sh := newShuffle(test.Params, commits, rand)

	closed := sh.closed(2, rand)
	require.Equal(t, 2, sh.perm[closed])
	scalars := sh.open(test.Suite, blinding, closed)
	require.Len(t, scalars, layout.Slots()*layout.Slices(0))
	require.True(t, verifyOpen(test.Params, commits, sh.points, closed, scalars))

	// Opening the position of the written slot fails
	other := (closed + 1) % layout.Slots()
	require.False(t, verifyOpen(test.Params, commits, sh.points, other, sh.open(test.Suite, blinding, other)))
	require.False(t, verifyOpen(test.Params, commits, sh.points, layout.Slots(), scalars))
}

// A member that wrote nothing passes whatever position it keeps closed
func TestShuffle_OpenSilent(t *testing.T) {
	layout := slots.UniformLayout(4, 8)
	commits, blinding := contributions(layout, 2, nil)
	rand := test.Suite.RandomStream()
	sh := newShuffle(test.Params, commits, rand)

	closed := sh.closed(-1, rand)
	require.GreaterOrEqual(t, closed, 0)
	require.Less(t, closed, layout.Slots())
	require.True(t, verifyOpen(test.Params, commits, sh.points, closed, sh.open(test.Suite, blinding, closed)))
}

// A member that wrote two slots cannot open all positions but one
func TestShuffle_OpenJammer(t *testing.T) {
	layout := slots.UniformLayout(6, 20)
	commits, blinding := contributions(layout, 3, map[int]int64{1: 9, 4: 3})
	sh := newShuffle(test.Params, commits, test.Suite.RandomStream())

	for closed := 0; closed < layout.Slots(); closed++ {
		scalars := sh.open(test.Suite, blinding, closed)
		require.False(t, verifyOpen(test.Params, commits, sh.points, closed, scalars))
	}
}

// The shuffle proof binds the permutation, the member and the round
func TestShuffle_Prove(t *testing.T) {
	layout := slots.UniformLayout(4, 40)
	commits, _ := contributions(layout, 3, map[int]int64{0: 1})
	sh := newShuffle(test.Params, commits, test.Suite.RandomStream())

	sigs := make([][][]byte, layout.Slots())
	for p := range sigs {
		ss, err := sh.prove(test.Suite, 7, 12, p)
		require.NoError(t, err)
		sigs[p] = ss
	}
	require.True(t, verifyProofs(test.Params, commits, sh.points, sh.perm, sigs, 7, 12))
	require.False(t, verifyProofs(test.Params, commits, sh.points, sh.perm, sigs, 8, 12))
	require.False(t, verifyProofs(test.Params, commits, sh.points, sh.perm, sigs, 7, 13))

	swapped := append([]int(nil), sh.perm...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	require.False(t, verifyProofs(test.Params, commits, sh.points, swapped, sigs, 7, 12))

	repeated := append([]int(nil), sh.perm...)
	repeated[0] = repeated[1]
	require.False(t, verifyProofs(test.Params, commits, sh.points, repeated, sigs, 7, 12))
}

// shareState runs one secured instance over the values and keeps its result
type shareState struct {
	layout slots.Layout
	values [][]byte
	result *sharing.Result
}

func (*shareState) String() string { return "share" }

func (s *shareState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	result, err := dc.engine.Run(ctx, sharing.Instance{
		Name:   "test",
		Round:  dc.nextRound(),
		Mode:   sharing.Secured,
		Phases: messaging.ReservationPhases,
		Layout: s.layout,
		Values: s.values,
	})
	s.result = result
	return initState{}, err
}

// A member that wrote two slots is excluded by everybody else as soon as the
// coin asks for openings, and only that member
func TestFairnessState_ExcludesJammer(t *testing.T) {
	k := 3
	_, nets := newGroup(t, k)
	layout := slots.UniformLayout(2*k, 8)
	written := []map[int]byte{{1: 0xaa, 4: 0xbb}, {2: 0xcc}, nil}
	ownSlots := []int{1, 2, -1}

	shares := make([]state, k)
	for i := range shares {
		values := emptyValues(layout)
		for slot, b := range written[i] {
			values[slot][0] = b
		}
		shares[i] = &shareState{layout: layout, values: values}
	}
	_, errs := runStates(t, nets, shares)
	for _, err := range errs {
		require.NoError(t, err)
	}

	jammer := nets[0].conf.NodeID
	excluded := false
	for attempt := 0; attempt < 30 && !excluded; attempt++ {
		states := make([]state, k)
		for i := range states {
			states[i] = &fairnessState{instance: shares[i].(*shareState).result, ownSlot: ownSlots[i]}
		}
		next, errs := runStates(t, nets, states)
		for i := 1; i < k; i++ {
			require.NoError(t, errs[i])
			require.Equal(t, "init", next[i].String())
		}
		excluded = !hasMember(nets[1], jammer)
		require.Equal(t, excluded, !hasMember(nets[2], jammer))
	}
	require.True(t, excluded)

	for i := 1; i < k; i++ {
		require.Equal(t, k-1, nets[i].group.Size())
		require.True(t, hasMember(nets[i], nets[3-i].conf.NodeID))
		stats := nets[i].Stats()
		require.GreaterOrEqual(t, stats.FairnessRuns, uint64(1))
		require.Equal(t, uint64(1), stats.Exclusions)
	}
}
