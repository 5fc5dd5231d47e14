package sharing

import (
	"bytes"
	"context"
	"crypto/cipher"
	"errors"
	"sync"
	"testing"
	"time"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/messaging"
	"student_25_dcnet/networking"
	"student_25_dcnet/slots"
	test "student_25_dcnet/testing"

	"github.com/stretchr/testify/require"
)

func setupEngines(t *testing.T, network *networking.FakeNetwork, k int) ([]*Engine, []*test.Member) {
	members := test.SetupMembers(network, k)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	test.StartNodes(ctx, members)

	engines := make([]*Engine, k)
	for i, m := range members {
		engines[i] = NewEngine(test.Params, test.CompleteGroup(members, i), m.Node, 2)
	}
	return engines, members
}

func runAll(t *testing.T, engines []*Engine, instances []Instance) ([]*Result, []error) {
	return runWithin(engines, instances, 20*time.Second)
}

func runWithin(engines []*Engine, instances []Instance, timeout time.Duration) ([]*Result, []error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results := make([]*Result, len(engines))
	errs := make([]error, len(engines))
	wg := sync.WaitGroup{}
	for i := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = engines[i].Run(ctx, instances[i])
		}()
	}
	wg.Wait()
	return results, errs
}

// emptyValues returns zeroed slots matching the layout
func emptyValues(layout slots.Layout) [][]byte {
	values := make([][]byte, layout.Slots())
	for i := range values {
		values[i] = make([]byte, layout.Length(i))
	}
	return values
}

func instances(k int, mode Mode, layout slots.Layout, writers map[int]map[int][]byte) []Instance {
	out := make([]Instance, k)
	for i := range out {
		values := emptyValues(layout)
		for slot, content := range writers[i] {
			copy(values[slot], content)
		}
		out[i] = Instance{
			Name:   "test",
			Round:  7,
			Mode:   mode,
			Phases: messaging.TransmissionPhases,
			Layout: layout,
			Values: values,
		}
	}
	return out
}

// Every member reconstructs the slots written by single writers, including
// ones spanning several slices
func TestEngine_SecuredReconstruction(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 3
	engines, _ := setupEngines(t, network, k)

	layout := slots.NewLayout(40, 8, 70)
	first := bytes.Repeat([]byte{0xab}, 40)
	third := make([]byte, 70)
	for i := range third {
		third[i] = byte(i + 1)
	}
	writers := map[int]map[int][]byte{
		0: {0: first},
		2: {2: third},
	}

	results, errs := runAll(t, engines, instances(k, Secured, layout, writers))
	for i := range engines {
		require.NoError(t, errs[i])
		require.Equal(t, first, results[i].Slots[0])
		require.Equal(t, make([]byte, 8), results[i].Slots[1])
		require.Equal(t, third, results[i].Slots[2])
		require.Len(t, results[i].Commitments, k)
	}
}

// The commitments every member collected are the ones each member computed
func TestEngine_SecuredCommitmentsAgree(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 3
	engines, _ := setupEngines(t, network, k)
	layout := slots.UniformLayout(2, 35)

	results, errs := runAll(t, engines, instances(k, Secured, layout, nil))
	for i := range engines {
		require.NoError(t, errs[i])
	}
	for m := 0; m < k; m++ {
		for slot := 0; slot < layout.Slots(); slot++ {
			for j := 0; j < k; j++ {
				for l := 0; l < layout.Slices(slot); l++ {
					c := results[m].Commitments[m].At(slot, j, l)
					for i := range results {
						require.True(t, c.Equal(results[i].Commitments[m].At(slot, j, l)))
					}
				}
			}
		}
	}
}

// Unsecured instances XOR the contributions
func TestEngine_Unsecured(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 4
	engines, _ := setupEngines(t, network, k)

	layout := slots.NewLayout(12, 5)
	msg := []byte("hello world!")
	writers := map[int]map[int][]byte{
		1: {0: msg},
		3: {1: []byte{1, 2, 3, 4, 5}},
	}

	results, errs := runAll(t, engines, instances(k, Unsecured, layout, writers))
	for i := range engines {
		require.NoError(t, errs[i])
		require.Equal(t, msg, results[i].Slots[0])
		require.Equal(t, []byte{1, 2, 3, 4, 5}, results[i].Slots[1])
		require.Nil(t, results[i].Commitments)
	}
}

// Two writers in the same slot of an unsecured instance produce their XOR
func TestEngine_UnsecuredCollision(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 3
	engines, _ := setupEngines(t, network, k)

	layout := slots.NewLayout(2)
	writers := map[int]map[int][]byte{
		0: {0: []byte{0xf0, 0x01}},
		1: {0: []byte{0x0f, 0x01}},
	}
	results, errs := runAll(t, engines, instances(k, Unsecured, layout, writers))
	for i := range engines {
		require.NoError(t, errs[i])
		require.Equal(t, []byte{0xff, 0x00}, results[i].Slots[0])
	}
}

// A corrupted private share is caught by its receiver before any sum is
// broadcast, and everyone else aborts on the blame message
func TestEngine_ShareMismatch(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 4
	engines, members := setupEngines(t, network, k)
	network.SetInterceptor(test.Tamper(messaging.TransmissionShares, marshalling.KindShare, 2, 4, members[1].Private))

	layout := slots.UniformLayout(3, 40)
	results, errs := runAll(t, engines, instances(k, Secured, layout, nil))

	for i, err := range errs {
		require.ErrorIs(t, err, ErrAborted)
		mismatch := &MismatchError{}
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, marshalling.KindShare, mismatch.Kind)
		require.Equal(t, uint32(2), mismatch.Record.Suspect)
		require.Equal(t, uint32(4), mismatch.Accuser)
		require.Equal(t, i == 3, mismatch.Local)
		require.NotNil(t, results[i])
		require.Nil(t, results[i].Slots)

		// The disclosed values do not open the suspect's commitment
		rec := mismatch.Record
		c := results[i].Commitments[1].At(int(rec.Slot), 3, int(rec.Slice))
		require.False(t, test.Params.Verify(c, rec.R, rec.S))

		// and the suspect signed them
		require.NoError(t, VerifyPair(test.Suite, members[1].Public, marshalling.KindShare, 7, 4, rec))
	}
}

// A share altered on the way no longer carries its sender's signature. The
// receiver cannot prove anything and drops it, so nobody is blamed.
func TestEngine_ForgedShareDropped(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 3
	engines, _ := setupEngines(t, network, k)
	network.SetInterceptor(test.Tamper(messaging.TransmissionShares, marshalling.KindShare, 1, 2, nil))

	layout := slots.UniformLayout(1, 10)
	_, errs := runWithin(engines, instances(k, Secured, layout, nil), 2*time.Second)
	for _, err := range errs {
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.False(t, errors.Is(err, ErrAborted))
	}
}

// A corrupted broadcast sum is caught against the column of commitments
func TestEngine_SumMismatch(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 3
	engines, members := setupEngines(t, network, k)
	network.SetInterceptor(test.Tamper(messaging.TransmissionSums, marshalling.KindSum, 1, 3, members[0].Private))

	layout := slots.UniformLayout(1, 10)
	results, errs := runAll(t, engines, instances(k, Secured, layout, nil))

	for i, err := range errs {
		mismatch := &MismatchError{}
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, marshalling.KindSum, mismatch.Kind)
		require.Equal(t, uint32(1), mismatch.Record.Suspect)
		require.Equal(t, uint32(3), mismatch.Accuser)
		require.Equal(t, i == 2, mismatch.Local)

		rec := mismatch.Record
		column := Column(test.Params, results[i].Commitments, int(rec.Slot), 0, int(rec.Slice))
		require.False(t, test.Params.Verify(column, rec.R, rec.S))
		require.NoError(t, VerifyPair(test.Suite, members[0].Public, marshalling.KindSum, 7, 0, rec))
	}
}

// Blinding scalars come from the given stream in (share, slice) order
func TestEngine_BlindingStream(t *testing.T) {
	network := networking.NewFakeNetwork()
	k := 2
	engines, _ := setupEngines(t, network, k)

	layout := slots.NewLayout(40, 20)
	insts := instances(k, Secured, layout, nil)
	seed := func(slot int) cipher.Stream {
		return test.Suite.XOF([]byte{byte(slot), 42})
	}
	insts[0].Blinding = seed

	results, errs := runAll(t, engines, insts)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for slot := 0; slot < layout.Slots(); slot++ {
		stream := seed(slot)
		for j := 0; j < k; j++ {
			for l := 0; l < layout.Slices(slot); l++ {
				expected := test.Suite.Scalar().Pick(stream)
				require.True(t, expected.Equal(results[0].Blinding.At(slot, j, l)))
			}
		}
	}
}

// Values that do not match the layout are refused before anything is sent
func TestEngine_InvalidValues(t *testing.T) {
	network := networking.NewFakeNetwork()
	engines, _ := setupEngines(t, network, 2)

	_, err := engines[0].Run(context.Background(), Instance{
		Mode:   Secured,
		Phases: messaging.ReservationPhases,
		Layout: slots.NewLayout(4),
		Values: [][]byte{{1, 2}},
	})
	require.Error(t, err)
}
