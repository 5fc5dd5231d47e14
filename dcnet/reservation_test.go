package dcnet

import (
	"bytes"
	"testing"

	"student_25_dcnet/networking"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"
	test "student_25_dcnet/testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v4"
)

func reservationContent(t *testing.T, k, n int, secured bool, filled map[int]slots.Reservation) [][]byte {
	size := slots.ReservationSize(k, test.Params.PointSize(), secured)
	content := make([][]byte, n)
	for i := range content {
		content[i] = make([]byte, size)
	}
	for slot, r := range filled {
		bs, err := slots.EncodeReservation(r)
		require.NoError(t, err)
		content[slot] = bs
	}
	return content
}

func ephemeralKeys(k int) []kyber.Point {
	keys := make([]kyber.Point, k)
	for i := range keys {
		_, keys[i] = test.NewKeyPair()
	}
	return keys
}

// A single reservation in slot 2 of 6 becomes logical slot 0
func TestPlanTransmission_SingleReservation(t *testing.T) {
	k := 3
	msg := bytes.Repeat([]byte{1}, 40)
	content := reservationContent(t, k, 2*k, true, map[int]slots.Reservation{
		2: {Nonce: 7, Length: 40, Keys: ephemeralKeys(k)},
	})
	own := &ownReservation{slot: 2, nonce: 7, message: msg}

	plan, invalid := planTransmission(test.Params, content, k, true, own)
	require.Equal(t, 0, invalid)
	require.Equal(t, []int{2}, plan.origins)
	require.Equal(t, 0, plan.own)
	require.Equal(t, msg, plan.message)
	require.Equal(t, []int{slots.TransmissionSize(40)}, plan.layout().Lengths())
	require.Len(t, plan.reservations[0].Keys, k)
}

// Logical slots follow the reservation slot order and only the owner of a
// matching nonce and length claims one
func TestPlanTransmission_Order(t *testing.T) {
	k := 4
	content := reservationContent(t, k, 2*k, false, map[int]slots.Reservation{
		6: {Nonce: 1, Length: 10},
		1: {Nonce: 2, Length: 20},
		3: {Nonce: 3, Length: 30},
	})

	plan, invalid := planTransmission(test.Params, content, k, false, &ownReservation{
		slot: 3, nonce: 3, message: make([]byte, 30),
	})
	require.Equal(t, 0, invalid)
	require.Equal(t, []int{1, 3, 6}, plan.origins)
	require.Equal(t, 1, plan.own)
	require.Equal(t, []int{24, 34, 14}, plan.layout().Lengths())

	plan, _ = planTransmission(test.Params, content, k, false, &ownReservation{
		slot: 3, nonce: 4, message: make([]byte, 30),
	})
	require.Equal(t, -1, plan.own)
}

// Overflowing and corrupt slots are counted as invalid, empty ones are not
func TestPlanTransmission_Invalid(t *testing.T) {
	k := 3
	content := reservationContent(t, k, 2*k, false, map[int]slots.Reservation{
		0: {Nonce: 1, Length: 10},
	})
	content[4] = nil
	content[5] = []byte{1, 2, 3, 4, 5, 6, 7, 8}

	plan, invalid := planTransmission(test.Params, content, k, false, nil)
	require.Equal(t, 2, invalid)
	require.Equal(t, []int{0}, plan.origins)
	require.Equal(t, -1, plan.own)
}

// Too many invalid reservations lead secured members to the fairness
// protocol and adaptive ones to secured rounds for good
func TestJamming_Transitions(t *testing.T) {
	members := test.SetupMembers(networking.NewFakeNetwork(), 3)
	dc := newMember(t, members, 0)
	result := &sharing.Result{}

	fair, ok := dc.jamming(result, &ownReservation{slot: 4}).(*fairnessState)
	require.True(t, ok)
	require.Equal(t, 4, fair.ownSlot)
	require.Same(t, result, fair.instance)

	fair, ok = dc.jamming(result, nil).(*fairnessState)
	require.True(t, ok)
	require.Equal(t, -1, fair.ownSlot)

	dc.conf.Security = SecurityAdaptive
	dc.secured = false
	require.Equal(t, "ready", dc.jamming(result, nil).String())
	require.True(t, dc.secured)
	require.Equal(t, sharing.Secured, dc.mode())

	dc.conf.Security = SecurityUnsecured
	dc.secured = false
	require.Equal(t, "ready", dc.jamming(result, nil).String())
	require.False(t, dc.secured)
}
