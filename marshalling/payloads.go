package marshalling

import (
	"encoding/binary"
	"errors"
	"math"

	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

const (
	// SlotIndexSize is the size of the slot prefix of per-slot payloads
	SlotIndexSize = 2
	// Uint32Size is the size of node ids and coordinates in blame records
	Uint32Size = 4
)

// ErrMalformedPayload is returned when a payload received from a peer does
// not have the expected layout
var ErrMalformedPayload = errors.New("malformed payload")

func putSlot(slot int) ([]byte, error) {
	if slot < 0 || slot > math.MaxUint16 {
		return nil, xerrors.Errorf("slot %d does not fit the prefix", slot)
	}
	bs := make([]byte, SlotIndexSize)
	binary.BigEndian.PutUint16(bs, uint16(slot))
	return bs, nil
}

func readSlot(bs []byte) (int, []byte, error) {
	if len(bs) < SlotIndexSize {
		return 0, nil, xerrors.Errorf("%d bytes: %w", len(bs), ErrMalformedPayload)
	}
	return int(binary.BigEndian.Uint16(bs)), bs[SlotIndexSize:], nil
}

// EncodeCommitments builds a commitment payload: the slot index followed by
// the compressed points
func EncodeCommitments(slot int, points []kyber.Point) ([]byte, error) {
	out, err := putSlot(slot)
	if err != nil {
		return nil, err
	}
	for _, pt := range points {
		bs, err := pedersencommitment.EncodePoint(pt)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// PeekSlot returns the slot index of a per-slot payload
func PeekSlot(bs []byte) (int, error) {
	slot, _, err := readSlot(bs)
	return slot, err
}

// DecodeCommitments parses a commitment payload holding exactly count points
func DecodeCommitments(p *pedersencommitment.Params, bs []byte, count int) (int, []kyber.Point, error) {
	slot, body, err := readSlot(bs)
	if err != nil {
		return 0, nil, err
	}
	size := p.PointSize()
	if len(body) != count*size {
		return 0, nil, xerrors.Errorf("%d bytes for %d points: %w", len(body), count, ErrMalformedPayload)
	}
	points := make([]kyber.Point, count)
	for i := range points {
		pt, err := p.DecodePoint(body[i*size : (i+1)*size])
		if err != nil {
			return 0, nil, err
		}
		points[i] = pt
	}
	return slot, points, nil
}

// EncodePairs builds a share payload: the slot index followed, per slice,
// by the (r, s) scalar pair and the sender's signature of it
func EncodePairs(slot int, rs, ss []kyber.Scalar, sigs [][]byte) ([]byte, error) {
	if len(rs) != len(ss) || len(sigs) != len(ss) {
		return nil, xerrors.Errorf("%d blinding values and %d signatures for %d shares", len(rs), len(sigs), len(ss))
	}
	out, err := putSlot(slot)
	if err != nil {
		return nil, err
	}
	for i := range rs {
		r, err := pedersencommitment.EncodeScalar(rs[i])
		if err != nil {
			return nil, err
		}
		s, err := pedersencommitment.EncodeScalar(ss[i])
		if err != nil {
			return nil, err
		}
		if len(sigs[i]) != SignatureSize {
			return nil, xerrors.Errorf("signature of %d bytes", len(sigs[i]))
		}
		out = append(out, r...)
		out = append(out, s...)
		out = append(out, sigs[i]...)
	}
	return out, nil
}

// Pairs is the content of a share payload
type Pairs struct {
	Slot       int
	R          []kyber.Scalar
	S          []kyber.Scalar
	Signatures [][]byte
}

// DecodePairs parses a share payload holding exactly count pairs
func DecodePairs(p *pedersencommitment.Params, bs []byte, count int) (*Pairs, error) {
	slot, body, err := readSlot(bs)
	if err != nil {
		return nil, err
	}
	size := p.ScalarSize()
	stride := 2*size + SignatureSize
	if len(body) != count*stride {
		return nil, xerrors.Errorf("%d bytes for %d pairs: %w", len(body), count, ErrMalformedPayload)
	}
	pairs := &Pairs{
		Slot:       slot,
		R:          make([]kyber.Scalar, count),
		S:          make([]kyber.Scalar, count),
		Signatures: make([][]byte, count),
	}
	for i := 0; i < count; i++ {
		off := i * stride
		pairs.R[i], err = p.DecodeScalar(body[off : off+size])
		if err != nil {
			return nil, err
		}
		pairs.S[i], err = p.DecodeScalar(body[off+size : off+2*size])
		if err != nil {
			return nil, err
		}
		pairs.Signatures[i] = body[off+2*size : off+stride]
	}
	return pairs, nil
}

// EncodeScalars builds a payload of a slot index followed by scalars
func EncodeScalars(slot int, scalars []kyber.Scalar) ([]byte, error) {
	out, err := putSlot(slot)
	if err != nil {
		return nil, err
	}
	for _, s := range scalars {
		bs, err := pedersencommitment.EncodeScalar(s)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// DecodeScalars parses a payload produced by EncodeScalars
func DecodeScalars(p *pedersencommitment.Params, bs []byte, count int) (int, []kyber.Scalar, error) {
	slot, body, err := readSlot(bs)
	if err != nil {
		return 0, nil, err
	}
	size := p.ScalarSize()
	if len(body) != count*size {
		return 0, nil, xerrors.Errorf("%d bytes for %d scalars: %w", len(body), count, ErrMalformedPayload)
	}
	scalars := make([]kyber.Scalar, count)
	for i := range scalars {
		scalars[i], err = p.DecodeScalar(body[i*size : (i+1)*size])
		if err != nil {
			return 0, nil, err
		}
	}
	return slot, scalars, nil
}

// EncodeRaw builds an unsecured share payload: slot index then raw bytes
func EncodeRaw(slot int, data []byte) ([]byte, error) {
	out, err := putSlot(slot)
	if err != nil {
		return nil, err
	}
	return append(out, data...), nil
}

// DecodeRaw parses an unsecured share payload of the expected length
func DecodeRaw(bs []byte, length int) (int, []byte, error) {
	slot, body, err := readSlot(bs)
	if err != nil {
		return 0, nil, err
	}
	if len(body) != length {
		return 0, nil, xerrors.Errorf("%d bytes instead of %d: %w", len(body), length, ErrMalformedPayload)
	}
	return slot, body, nil
}

// EncodeProofs builds a fairness proof payload: the permuted position, the
// original slot it hides and one signature per slice
func EncodeProofs(position, slot int, sigs [][]byte) ([]byte, error) {
	out, err := putSlot(position)
	if err != nil {
		return nil, err
	}
	s, err := putSlot(slot)
	if err != nil {
		return nil, err
	}
	out = append(out, s...)
	for _, sig := range sigs {
		out = append(out, sig...)
	}
	return out, nil
}

// DecodeProofs parses a fairness proof payload holding count signatures of
// sigSize bytes
func DecodeProofs(bs []byte, count, sigSize int) (int, int, [][]byte, error) {
	position, rest, err := readSlot(bs)
	if err != nil {
		return 0, 0, nil, err
	}
	slot, body, err := readSlot(rest)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(body) != count*sigSize {
		return 0, 0, nil, xerrors.Errorf("%d bytes for %d signatures: %w", len(body), count, ErrMalformedPayload)
	}
	sigs := make([][]byte, count)
	for i := range sigs {
		sigs[i] = body[i*sigSize : (i+1)*sigSize]
	}
	return position, slot, sigs, nil
}

// Hello announces a member and its public key
type Hello struct {
	NodeID    uint32
	PublicKey kyber.Point
}

// EncodeHello returns nodeID(4) | publicKey
func EncodeHello(h Hello) ([]byte, error) {
	key, err := pedersencommitment.EncodePoint(h.PublicKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, Uint32Size, Uint32Size+len(key))
	binary.BigEndian.PutUint32(out, h.NodeID)
	return append(out, key...), nil
}

// DecodeHello parses a hello payload
func DecodeHello(p *pedersencommitment.Params, bs []byte) (*Hello, error) {
	if len(bs) != Uint32Size+p.PointSize() {
		return nil, xerrors.Errorf("hello of %d bytes: %w", len(bs), ErrMalformedPayload)
	}
	key, err := p.DecodePoint(bs[Uint32Size:])
	if err != nil {
		return nil, err
	}
	return &Hello{
		NodeID:    binary.BigEndian.Uint32(bs),
		PublicKey: key,
	}, nil
}
