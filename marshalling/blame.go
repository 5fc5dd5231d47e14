package marshalling

import (
	"encoding/binary"

	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

// SignatureSize is the size of a schnorr signature: R(32) | s(32)
const SignatureSize = 64

// BlameSize is the size of an encoded BlameRecord:
// suspect(4) | slot(4) | slice(4) | r(32) | s(32) | signature(64)
const BlameSize = 3*Uint32Size + 2*32 + SignatureSize

const pairLabel = "dcnet pair"

const accusationLabel = "dcnet accusation"

// BlameRecord is the evidence disclosed by a member whose verification of a
// suspect's values failed
type BlameRecord struct {
	Suspect uint32
	Slot    uint32
	Slice   uint32
	R       kyber.Scalar
	S       kyber.Scalar
	// Signature is the suspect's signature of the pair, zero for jam
	// accusations
	Signature []byte
}

// PairMessage is what a member signs for every (r, s) pair it sends.
// Recipient is zero for broadcast sums.
func PairMessage(kind AccusationKind, round uint64, sender, recipient, slot, slice uint32,
	r, s kyber.Scalar) ([]byte, error) {

	rb, err := pedersencommitment.EncodeScalar(r)
	if err != nil {
		return nil, err
	}
	sb, err := pedersencommitment.EncodeScalar(s)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, len(pairLabel)+1+8+4*Uint32Size+len(rb)+len(sb))
	msg = append(msg, pairLabel...)
	msg = append(msg, byte(kind))
	msg = binary.BigEndian.AppendUint64(msg, round)
	msg = binary.BigEndian.AppendUint32(msg, sender)
	msg = binary.BigEndian.AppendUint32(msg, recipient)
	msg = binary.BigEndian.AppendUint32(msg, slot)
	msg = binary.BigEndian.AppendUint32(msg, slice)
	msg = append(msg, rb...)
	return append(msg, sb...), nil
}

// AccusationMessage is what an accuser signs: the encoded accusation bound
// to the round of the disputed instance
func AccusationMessage(round uint64, accusation []byte) []byte {
	msg := make([]byte, 0, len(accusationLabel)+8+len(accusation))
	msg = append(msg, accusationLabel...)
	msg = binary.BigEndian.AppendUint64(msg, round)
	return append(msg, accusation...)
}

// EncodeBlame returns the fixed-width encoding of the record
func EncodeBlame(rec BlameRecord) ([]byte, error) {
	out := make([]byte, 3*Uint32Size, BlameSize)
	binary.BigEndian.PutUint32(out, rec.Suspect)
	binary.BigEndian.PutUint32(out[Uint32Size:], rec.Slot)
	binary.BigEndian.PutUint32(out[2*Uint32Size:], rec.Slice)
	r, err := pedersencommitment.EncodeScalar(rec.R)
	if err != nil {
		return nil, err
	}
	s, err := pedersencommitment.EncodeScalar(rec.S)
	if err != nil {
		return nil, err
	}
	out = append(out, r...)
	out = append(out, s...)
	switch len(rec.Signature) {
	case 0:
		return append(out, make([]byte, SignatureSize)...), nil
	case SignatureSize:
		return append(out, rec.Signature...), nil
	default:
		return nil, xerrors.Errorf("signature of %d bytes", len(rec.Signature))
	}
}

// DecodeBlame parses a record produced by EncodeBlame
func DecodeBlame(p *pedersencommitment.Params, bs []byte) (*BlameRecord, error) {
	if len(bs) != BlameSize {
		return nil, xerrors.Errorf("blame record of %d bytes: %w", len(bs), ErrMalformedPayload)
	}
	off := 3 * Uint32Size
	r, err := p.DecodeScalar(bs[off : off+32])
	if err != nil {
		return nil, err
	}
	s, err := p.DecodeScalar(bs[off+32 : off+64])
	if err != nil {
		return nil, err
	}
	return &BlameRecord{
		Suspect:   binary.BigEndian.Uint32(bs),
		Slot:      binary.BigEndian.Uint32(bs[Uint32Size:]),
		Slice:     binary.BigEndian.Uint32(bs[2*Uint32Size:]),
		R:         r,
		S:         s,
		Signature: append([]byte(nil), bs[off+64:]...),
	}, nil
}

// AccusationKind tells which check an accusation disputes
type AccusationKind uint8

const (
	// KindShare disputes a private (r, s) pair against the suspect's own
	// commitment
	KindShare AccusationKind = iota + 1
	// KindSum disputes a broadcast (R, S) sum against the column of
	// commitments
	KindSum
	// KindJam reveals the ephemeral key of a slot whose owner found the
	// suspect's contributions not summing to zero. R carries the key.
	KindJam
)

func (k AccusationKind) String() string {
	switch k {
	case KindShare:
		return "share"
	case KindSum:
		return "sum"
	case KindJam:
		return "jam"
	default:
		return "unknown"
	}
}

// AccusationSize is the size of an encoded accusation:
// kind(1) | accuser(4) | record
const AccusationSize = 1 + Uint32Size + BlameSize

// SignedAccusationSize is an accusation followed by the accuser's signature,
// as sent in blame messages and published in blame slots
const SignedAccusationSize = AccusationSize + SignatureSize

// Accusation is what a member publishes during the blame round
type Accusation struct {
	Kind AccusationKind
	// Accuser is zero for jam accusations, which stay anonymous
	Accuser uint32
	Record  BlameRecord
}

// EncodeAccusation returns the fixed-width encoding of the accusation
func EncodeAccusation(a Accusation) ([]byte, error) {
	rec, err := EncodeBlame(a.Record)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+Uint32Size, AccusationSize)
	out[0] = byte(a.Kind)
	binary.BigEndian.PutUint32(out[1:], a.Accuser)
	return append(out, rec...), nil
}

// DecodeAccusation parses an accusation body
func DecodeAccusation(p *pedersencommitment.Params, bs []byte) (*Accusation, error) {
	if len(bs) != AccusationSize {
		return nil, xerrors.Errorf("accusation of %d bytes: %w", len(bs), ErrMalformedPayload)
	}
	kind := AccusationKind(bs[0])
	if kind < KindShare || kind > KindJam {
		return nil, xerrors.Errorf("accusation kind %d: %w", kind, ErrMalformedPayload)
	}
	rec, err := DecodeBlame(p, bs[1+Uint32Size:])
	if err != nil {
		return nil, err
	}
	return &Accusation{
		Kind:    kind,
		Accuser: binary.BigEndian.Uint32(bs[1:]),
		Record:  *rec,
	}, nil
}
