package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A packet survives the envelope encoding and unknown types are refused
func TestPacket_Encoding(t *testing.T) {
	p := &Packet{Type: TransmissionSums, Sender: 4, Round: 17, Payload: []byte{1, 2, 3}}
	bs, err := p.Encode()
	require.NoError(t, err)

	decoded, err := Decode(bs)
	require.NoError(t, err)
	require.Equal(t, p, decoded)

	bad := &Packet{Type: Type(200), Sender: 1}
	bs, err = bad.Encode()
	require.NoError(t, err)
	_, err = Decode(bs)
	require.ErrorIs(t, err, ErrUnknownType)
}

// Packets of a later phase are kept while an earlier phase is received
func TestRouter_RoutesByType(t *testing.T) {
	r := NewRouter()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.Deliver(&Packet{Type: ReservationSums, Sender: 2, Round: 1})
	r.Deliver(&Packet{Type: ReservationShares, Sender: 3, Round: 1})

	p, err := r.Receive(ctx, 1, ReservationShares)
	require.NoError(t, err)
	require.Equal(t, uint32(3), p.Sender)
	require.Equal(t, 1, r.Pending(ReservationSums))

	p, err = r.Receive(ctx, 1, ReservationSums)
	require.NoError(t, err)
	require.Equal(t, uint32(2), p.Sender)
}

// Packets of older rounds are dropped and packets of newer rounds kept
func TestRouter_RoundFilter(t *testing.T) {
	r := NewRouter()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r.Deliver(&Packet{Type: Ready, Sender: 1, Round: 3})
	r.Deliver(&Packet{Type: Ready, Sender: 2, Round: 5})
	r.Deliver(&Packet{Type: Ready, Sender: 3, Round: 4})

	p, err := r.Receive(ctx, 4, Ready)
	require.NoError(t, err)
	require.Equal(t, uint32(3), p.Sender)
	require.Equal(t, 1, r.Pending(Ready))

	p, err = r.Receive(ctx, AnyRound, Ready)
	require.NoError(t, err)
	require.Equal(t, uint32(2), p.Sender)
}

// Receive wakes up on a later delivery and respects the context
func TestRouter_Blocking(t *testing.T) {
	r := NewRouter()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Deliver(&Packet{Type: BlameShare, Sender: 9, Round: 2})
	}()

	p, err := r.Receive(ctx, 2, TransmissionShares, BlameShare)
	require.NoError(t, err)
	require.Equal(t, BlameShare, p.Type)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = r.Receive(short, 2, TransmissionShares)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
