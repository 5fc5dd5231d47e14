package pedersencommitment

import (
	"bytes"
	"errors"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

// Suite is the group the commitments live in. It needs an XOF to derive the
// second generator and to seed deterministic blinding streams.
type Suite interface {
	kyber.Group
	kyber.HashFactory
	kyber.XOFFactory
	kyber.Random
}

// hSeed is hashed to the curve to obtain H. Nobody knows log_G(H).
const hSeed = "dcnet pedersen generator H"

var (
	// ErrInvalidPoint is returned when bytes received from a peer do not
	// decode to a point of the group
	ErrInvalidPoint = errors.New("invalid point encoding")
	// ErrInvalidScalar is returned when bytes received from a peer are not a
	// canonical scalar encoding
	ErrInvalidScalar = errors.New("invalid scalar encoding")
)

// Params holds the two fixed generators of the commitment scheme
// Commit(r, s) = rG + sH.
type Params struct {
	Suite Suite
	G     kyber.Point
	H     kyber.Point
	// big-endian encoding of order-1, the largest canonical scalar
	maxScalar []byte
}

// NewParams returns the commitment parameters for the given suite. Every
// member calling it with the same suite gets the same generators.
func NewParams(suite Suite) *Params {
	h := suite.Point().Pick(suite.XOF([]byte(hSeed)))
	maxScalar, err := EncodeScalar(suite.Scalar().SetInt64(-1))
	if err != nil {
		panic(err)
	}
	return &Params{
		Suite:     suite,
		G:         suite.Point().Base(),
		H:         h,
		maxScalar: maxScalar,
	}
}

// Commit computes rG + sH
func (p *Params) Commit(r, s kyber.Scalar) kyber.Point {
	rG := p.Suite.Point().Mul(r, p.G)
	sH := p.Suite.Point().Mul(s, p.H)
	return p.Suite.Point().Add(rG, sH)
}

// CommitBlinding computes rG, the commitment to a zero value
func (p *Params) CommitBlinding(r kyber.Scalar) kyber.Point {
	return p.Suite.Point().Mul(r, p.G)
}

// Add returns c1 + c2 without modifying the arguments
func (p *Params) Add(c1, c2 kyber.Point) kyber.Point {
	return p.Suite.Point().Add(c1, c2)
}

// Sum adds all the given commitments. The sum of nothing is the neutral
// element.
func (p *Params) Sum(commits ...kyber.Point) kyber.Point {
	acc := p.Suite.Point().Null()
	for _, c := range commits {
		acc.Add(acc, c)
	}
	return acc
}

// Verify checks that c opens to (r, s)
func (p *Params) Verify(c kyber.Point, r, s kyber.Scalar) bool {
	return c.Equal(p.Commit(r, s))
}

// PointSize is the size in bytes of an encoded point
func (p *Params) PointSize() int {
	return p.Suite.PointLen()
}

// ScalarSize is the size in bytes of an encoded scalar
func (p *Params) ScalarSize() int {
	return p.Suite.ScalarLen()
}

// EncodePoint returns the compressed encoding of the point
func EncodePoint(pt kyber.Point) ([]byte, error) {
	return pt.MarshalBinary()
}

// DecodePoint decodes a compressed point received from the network.
func (p *Params) DecodePoint(bs []byte) (kyber.Point, error) {
	if len(bs) != p.PointSize() {
		return nil, xerrors.Errorf("%d bytes for a %d bytes point: %w", len(bs), p.PointSize(), ErrInvalidPoint)
	}
	pt := p.Suite.Point()
	err := pt.UnmarshalBinary(bs)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidPoint)
	}
	return pt, nil
}

// EncodeScalar returns the big-endian encoding of the scalar. Kyber marshals
// ed25519 scalars little-endian so the bytes are reversed.
func EncodeScalar(s kyber.Scalar) ([]byte, error) {
	bs, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	reverse(bs)
	return bs, nil
}

// DecodeScalar decodes a big-endian scalar and rejects values that are not
// reduced modulo the group order.
func (p *Params) DecodeScalar(bs []byte) (kyber.Scalar, error) {
	if len(bs) != p.ScalarSize() {
		return nil, xerrors.Errorf("%d bytes for a %d bytes scalar: %w", len(bs), p.ScalarSize(), ErrInvalidScalar)
	}
	if bytes.Compare(bs, p.maxScalar) > 0 {
		return nil, xerrors.Errorf("value above the group order: %w", ErrInvalidScalar)
	}
	le := make([]byte, len(bs))
	copy(le, bs)
	reverse(le)

	s := p.Suite.Scalar()
	err := s.UnmarshalBinary(le)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidScalar)
	}
	return s, nil
}

// ScalarFromBytes interprets up to ScalarSize-1 big-endian bytes as an
// integer. The result is always smaller than the group order.
func (p *Params) ScalarFromBytes(bs []byte) (kyber.Scalar, error) {
	size := p.ScalarSize()
	if len(bs) >= size {
		return nil, xerrors.Errorf("%d bytes do not fit below the order: %w", len(bs), ErrInvalidScalar)
	}
	padded := make([]byte, size)
	copy(padded[size-len(bs):], bs)
	return p.DecodeScalar(padded)
}

func reverse(bs []byte) {
	for i, j := 0, len(bs)-1; i < j; i, j = i+1, j-1 {
		bs[i], bs[j] = bs[j], bs[i]
	}
}
