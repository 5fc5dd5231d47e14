package slots

import "fmt"

// Cube stores one value per (slot, share, slice) coordinate in a flat array.
// Slot s starts at offsets[s]; inside a slot, share j occupies the
// Slices(s) consecutive cells starting at offsets[s] + j*Slices(s).
type Cube[T any] struct {
	layout  Layout
	shares  int
	offsets []int
	data    []T
}

// NewCube allocates a cube for the layout with the given number of shares per
// slice
func NewCube[T any](layout Layout, shares int) *Cube[T] {
	offsets := make([]int, layout.Slots()+1)
	for s := 0; s < layout.Slots(); s++ {
		offsets[s+1] = offsets[s] + shares*layout.Slices(s)
	}
	return &Cube[T]{
		layout:  layout,
		shares:  shares,
		offsets: offsets,
		data:    make([]T, offsets[layout.Slots()]),
	}
}

// Layout returns the slot layout of the cube
func (c *Cube[T]) Layout() Layout {
	return c.layout
}

// Shares returns the number of shares per slice
func (c *Cube[T]) Shares() int {
	return c.shares
}

func (c *Cube[T]) index(slot, share, slice int) int {
	if slot < 0 || slot >= c.layout.Slots() || share < 0 || share >= c.shares ||
		slice < 0 || slice >= c.layout.Slices(slot) {
		panic(fmt.Sprintf("cube coordinate (%d,%d,%d) out of %s with %d shares",
			slot, share, slice, c.layout, c.shares))
	}
	return c.offsets[slot] + share*c.layout.Slices(slot) + slice
}

// At returns the value at the coordinate
func (c *Cube[T]) At(slot, share, slice int) T {
	return c.data[c.index(slot, share, slice)]
}

// Set stores the value at the coordinate
func (c *Cube[T]) Set(slot, share, slice int, v T) {
	c.data[c.index(slot, share, slice)] = v
}

// Row returns the slices of one share of a slot. The returned slice aliases
// the cube storage.
func (c *Cube[T]) Row(slot, share int) []T {
	start := c.index(slot, share, 0)
	return c.data[start : start+c.layout.Slices(slot)]
}

// Grid stores one value per (slot, slice) coordinate, laid out slot after
// slot.
type Grid[T any] struct {
	layout  Layout
	offsets []int
	data    []T
}

// NewGrid allocates a grid for the layout
func NewGrid[T any](layout Layout) *Grid[T] {
	offsets := make([]int, layout.Slots()+1)
	for s := 0; s < layout.Slots(); s++ {
		offsets[s+1] = offsets[s] + layout.Slices(s)
	}
	return &Grid[T]{
		layout:  layout,
		offsets: offsets,
		data:    make([]T, offsets[layout.Slots()]),
	}
}

// Layout returns the layout the grid was allocated for
func (g *Grid[T]) Layout() Layout {
	return g.layout
}

func (g *Grid[T]) index(slot, slice int) int {
	if slot < 0 || slot >= g.layout.Slots() || slice < 0 || slice >= g.layout.Slices(slot) {
		panic(fmt.Sprintf("grid coordinate (%d,%d) out of %s", slot, slice, g.layout))
	}
	return g.offsets[slot] + slice
}

// At returns the value at the coordinate
func (g *Grid[T]) At(slot, slice int) T {
	return g.data[g.index(slot, slice)]
}

// Set stores the value at the coordinate
func (g *Grid[T]) Set(slot, slice int, v T) {
	g.data[g.index(slot, slice)] = v
}

// Row returns every slice of the slot. The returned slice aliases the grid
// storage.
func (g *Grid[T]) Row(slot int) []T {
	return g.data[g.offsets[slot]:g.offsets[slot+1]]
}
