package commoncoin

// Multi-party coin flip. Every member shares a random bit through a one slot
// secured sharing instance; the commitments are broadcast before any share,
// so nobody can pick its bit after seeing the others. The coin is the parity
// of the sum of the bits.

import (
	"context"
	"errors"

	"student_25_dcnet/messaging"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"

	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/xerrors"
)

// SlotSize holds the sum of up to 65535 bits
const SlotSize = 2

// ErrInvalidCoin is returned when the shared bits do not add up to a valid
// sum, which only happens if a member contributed something else than a bit
var ErrInvalidCoin = errors.New("coin contributions do not reconstruct")

type CoinToss int

const (
	CoinZero CoinToss = iota
	CoinOne
)

func (c CoinToss) String() string {
	if c == CoinOne {
		return "1"
	}
	return "0"
}

// Flip tosses a coin with every member of the engine's group
func Flip(ctx context.Context, engine *sharing.Engine, round uint64) (CoinToss, error) {
	bit := make([]byte, 1)
	random.Bytes(bit, random.New())
	return flip(ctx, engine, round, bit[0]&1)
}

func flip(ctx context.Context, engine *sharing.Engine, round uint64, bit byte) (CoinToss, error) {
	value := make([]byte, SlotSize)
	value[SlotSize-1] = bit

	result, err := engine.Run(ctx, sharing.Instance{
		Name:   "coin",
		Round:  round,
		Mode:   sharing.Secured,
		Phases: messaging.CoinPhases,
		Layout: slots.NewLayout(SlotSize),
		Values: [][]byte{value},
	})
	if err != nil {
		return CoinZero, xerrors.Errorf("coin flip failed: %w", err)
	}
	sum := result.Slots[0]
	if sum == nil {
		return CoinZero, ErrInvalidCoin
	}
	return CoinToss(sum[SlotSize-1] & 1), nil
}
