package slots

import "fmt"

// SliceSize is the number of bytes carried by one scalar. 31 big-endian
// bytes are always below the order of the ed25519 scalar field.
const SliceSize = 31

// Layout gives the byte length of every slot of a round's message vector
type Layout struct {
	lengths []int
}

// NewLayout returns a layout with one slot per given length
func NewLayout(lengths ...int) Layout {
	l := make([]int, len(lengths))
	copy(l, lengths)
	return Layout{lengths: l}
}

// UniformLayout returns a layout of n slots of the same length
func UniformLayout(n, length int) Layout {
	l := make([]int, n)
	for i := range l {
		l[i] = length
	}
	return Layout{lengths: l}
}

// Slots returns the number of slots
func (l Layout) Slots() int {
	return len(l.lengths)
}

// Length returns the byte length of the slot
func (l Layout) Length(slot int) int {
	return l.lengths[slot]
}

// Lengths returns a copy of all slot lengths
func (l Layout) Lengths() []int {
	out := make([]int, len(l.lengths))
	copy(out, l.lengths)
	return out
}

// Slices returns ceil(length / SliceSize) for the slot
func (l Layout) Slices(slot int) int {
	return (l.lengths[slot] + SliceSize - 1) / SliceSize
}

// SliceLength returns the number of bytes of the given slice. Only the last
// slice of a slot can be shorter than SliceSize.
func (l Layout) SliceLength(slot, slice int) int {
	if slice < l.Slices(slot)-1 {
		return SliceSize
	}
	return l.lengths[slot] - slice*SliceSize
}

func (l Layout) String() string {
	return fmt.Sprintf("layout%v", l.lengths)
}
