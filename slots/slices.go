package slots

import (
	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

// ToScalars cuts the slot bytes into big-endian slices of SliceSize bytes
// and returns one scalar per slice. The last slice may be shorter.
func ToScalars(p *pedersencommitment.Params, data []byte) ([]kyber.Scalar, error) {
	n := (len(data) + SliceSize - 1) / SliceSize
	scalars := make([]kyber.Scalar, n)
	for i := 0; i < n; i++ {
		end := (i + 1) * SliceSize
		if end > len(data) {
			end = len(data)
		}
		s, err := p.ScalarFromBytes(data[i*SliceSize : end])
		if err != nil {
			return nil, err
		}
		scalars[i] = s
	}
	return scalars, nil
}

// FromScalars re-encodes reconstructed slice values into length bytes. A
// value that does not fit in its slice width means the contributions did
// not add up to a slot anybody wrote.
func FromScalars(scalars []kyber.Scalar, length int) ([]byte, error) {
	expected := (length + SliceSize - 1) / SliceSize
	if len(scalars) != expected {
		return nil, xerrors.Errorf("%d slices for %d bytes: %w", len(scalars), length, ErrMalformedSlot)
	}
	out := make([]byte, 0, length)
	for i, s := range scalars {
		width := SliceSize
		if i == len(scalars)-1 {
			width = length - i*SliceSize
		}
		bs, err := pedersencommitment.EncodeScalar(s)
		if err != nil {
			return nil, err
		}
		for _, b := range bs[:len(bs)-width] {
			if b != 0 {
				return nil, xerrors.Errorf("slice %d: %w", i, ErrSliceOverflow)
			}
		}
		out = append(out, bs[len(bs)-width:]...)
	}
	return out, nil
}
