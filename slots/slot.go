package slots

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"math/big"

	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/xerrors"
)

const (
	// ChecksumSize is the size of the CRC32 prefix of every occupied slot
	ChecksumSize = 4
	// NonceSize is the size of the random nonce of a reservation
	NonceSize = 2
	// LengthSize is the size of the declared payload length of a reservation
	LengthSize = 2
	// HeaderSize is the size of a reservation without ephemeral keys
	HeaderSize = ChecksumSize + NonceSize + LengthSize
	// MaxPayload is the largest payload a reservation can declare
	MaxPayload = math.MaxUint16
)

var (
	// ErrChecksum is returned when an occupied slot does not carry a valid
	// checksum. This happens when two senders wrote in the same slot.
	ErrChecksum = errors.New("slot checksum mismatch")
	// ErrEmptySlot is returned when decoding a slot nobody wrote in
	ErrEmptySlot = errors.New("empty slot")
	// ErrSliceOverflow is returned when a reconstructed slice does not fit in
	// its width
	ErrSliceOverflow = errors.New("slice value overflows its width")
	// ErrMalformedSlot is returned when a slot has a valid checksum but
	// inconsistent content
	ErrMalformedSlot = errors.New("malformed slot")
)

// Checksum computes the CRC32 (IEEE) of the bytes
func Checksum(bs []byte) uint32 {
	return crc32.ChecksumIEEE(bs)
}

// IsEmpty returns true if every byte of the slot is zero
func IsEmpty(slot []byte) bool {
	for _, b := range slot {
		if b != 0 {
			return false
		}
	}
	return true
}

// Seal prefixes the body with its checksum
func Seal(body []byte) []byte {
	slot := make([]byte, ChecksumSize+len(body))
	binary.BigEndian.PutUint32(slot, Checksum(body))
	copy(slot[ChecksumSize:], body)
	return slot
}

// Open checks the checksum prefix of a slot and returns the body
func Open(slot []byte) ([]byte, error) {
	if IsEmpty(slot) {
		return nil, ErrEmptySlot
	}
	if len(slot) < ChecksumSize {
		return nil, xerrors.Errorf("%d bytes: %w", len(slot), ErrMalformedSlot)
	}
	body := slot[ChecksumSize:]
	if binary.BigEndian.Uint32(slot) != Checksum(body) {
		return nil, ErrChecksum
	}
	return body, nil
}

// Reservation is the header a sender writes in the slot it picked during the
// reservation round
type Reservation struct {
	Nonce  uint16
	Length uint16
	// Keys holds one ephemeral point per member index, secured mode only
	Keys []kyber.Point
}

// ReservationSize returns the size of a reservation slot for a group of k
// members
func ReservationSize(k, pointSize int, secured bool) int {
	if !secured {
		return HeaderSize
	}
	return HeaderSize + k*pointSize
}

// RandomIndex draws uniformly in [0, n). random.Int never returns zero, so
// the draw is made in [1, n] and shifted.
func RandomIndex(n int, rand cipher.Stream) int {
	return int(random.Int(big.NewInt(int64(n)+1), rand).Int64()) - 1
}

// ReserveSlot picks a slot uniformly among n and a random nonce
func ReserveSlot(n int, rand cipher.Stream) (int, uint16) {
	idx := RandomIndex(n, rand)
	nonce := make([]byte, NonceSize)
	rand.XORKeyStream(nonce, nonce)
	return idx, binary.BigEndian.Uint16(nonce)
}

// EncodeReservation returns the checksummed reservation slot
func EncodeReservation(r Reservation) ([]byte, error) {
	body := make([]byte, NonceSize+LengthSize, NonceSize+LengthSize+32*len(r.Keys))
	binary.BigEndian.PutUint16(body, r.Nonce)
	binary.BigEndian.PutUint16(body[NonceSize:], r.Length)
	for _, key := range r.Keys {
		bs, err := pedersencommitment.EncodePoint(key)
		if err != nil {
			return nil, err
		}
		body = append(body, bs...)
	}
	return Seal(body), nil
}

// DecodeReservation parses an occupied reservation slot
func DecodeReservation(p *pedersencommitment.Params, slot []byte, k int, secured bool) (*Reservation, error) {
	if len(slot) != ReservationSize(k, p.PointSize(), secured) {
		return nil, xerrors.Errorf("reservation of %d bytes: %w", len(slot), ErrMalformedSlot)
	}
	body, err := Open(slot)
	if err != nil {
		return nil, err
	}
	r := &Reservation{
		Nonce:  binary.BigEndian.Uint16(body),
		Length: binary.BigEndian.Uint16(body[NonceSize:]),
	}
	if r.Length == 0 {
		return nil, xerrors.Errorf("zero length: %w", ErrMalformedSlot)
	}
	if !secured {
		return r, nil
	}
	keys := body[NonceSize+LengthSize:]
	r.Keys = make([]kyber.Point, k)
	for i := 0; i < k; i++ {
		pt, err := p.DecodePoint(keys[i*p.PointSize() : (i+1)*p.PointSize()])
		if err != nil {
			return nil, xerrors.Errorf("ephemeral key %d: %w", i, err)
		}
		r.Keys[i] = pt
	}
	return r, nil
}

// EncodeTransmission returns the transmission slot carrying the payload
func EncodeTransmission(payload []byte) []byte {
	return Seal(payload)
}

// DecodeTransmission checks and strips the checksum of a transmission slot
func DecodeTransmission(slot []byte) ([]byte, error) {
	return Open(slot)
}

// TransmissionSize returns the slot size needed for a payload
func TransmissionSize(payloadLength int) int {
	return ChecksumSize + payloadLength
}

// BuildVector lays out every slot of the layout. All slots are zero except
// slotIndex which holds content.
func BuildVector(layout Layout, slotIndex int, content []byte) ([][]byte, error) {
	if slotIndex < 0 || slotIndex >= layout.Slots() {
		return nil, xerrors.Errorf("slot %d out of %d", slotIndex, layout.Slots())
	}
	if len(content) != layout.Length(slotIndex) {
		return nil, xerrors.Errorf("%d bytes for a %d bytes slot: %w",
			len(content), layout.Length(slotIndex), ErrMalformedSlot)
	}
	vector := make([][]byte, layout.Slots())
	for i := range vector {
		vector[i] = make([]byte, layout.Length(i))
	}
	copy(vector[slotIndex], content)
	return vector, nil
}
