package membership

import (
	"errors"
	"sort"
	"sync"

	"go.dedis.ch/kyber/v4"
	"golang.org/x/xerrors"
)

var (
	// ErrUnknownMember is returned when looking up a node that is not part of
	// the group
	ErrUnknownMember = errors.New("unknown member")
	// ErrGroupFull is returned when inserting into a group that already has k
	// members
	ErrGroupFull = errors.New("group is full")
	// ErrDuplicateMember is returned when inserting a node id twice
	ErrDuplicateMember = errors.New("member already in group")
)

// Member is a participant of the DC-net
type Member struct {
	NodeID uint32
	// Conn is the handle used by the network layer to reach the member
	Conn      int64
	PublicKey kyber.Point
}

// Group is the ordered set of members. The index of a member is its rank by
// ascending node id and is the coordinate used in every share and commitment
// matrix, so it changes whenever the membership does.
type Group struct {
	k       int
	self    Member
	private kyber.Scalar
	members []Member
	sync.RWMutex
}

// NewGroup creates a group of target size k containing only self
func NewGroup(k int, self Member, private kyber.Scalar) *Group {
	return &Group{
		k:       k,
		self:    self,
		private: private,
		members: []Member{self},
	}
}

// K returns the target size of the group
func (g *Group) K() int {
	g.RLock()
	defer g.RUnlock()
	return g.k
}

// Size returns the number of members currently in the group
func (g *Group) Size() int {
	g.RLock()
	defer g.RUnlock()
	return len(g.members)
}

// Complete returns true once the group reached its target size
func (g *Group) Complete() bool {
	g.RLock()
	defer g.RUnlock()
	return len(g.members) == g.k
}

// Self returns the local member
func (g *Group) Self() Member {
	return g.self
}

// PrivateKey returns the private scalar of the local member
func (g *Group) PrivateKey() kyber.Scalar {
	return g.private
}

func (g *Group) find(nodeID uint32) int {
	i := sort.Search(len(g.members), func(i int) bool {
		return g.members[i].NodeID >= nodeID
	})
	if i < len(g.members) && g.members[i].NodeID == nodeID {
		return i
	}
	return -1
}

// Index returns the position of the node in the canonical order
func (g *Group) Index(nodeID uint32) (int, error) {
	g.RLock()
	defer g.RUnlock()
	i := g.find(nodeID)
	if i < 0 {
		return -1, xerrors.Errorf("node %d: %w", nodeID, ErrUnknownMember)
	}
	return i, nil
}

// Contains returns true if the node is a member
func (g *Group) Contains(nodeID uint32) bool {
	g.RLock()
	defer g.RUnlock()
	return g.find(nodeID) >= 0
}

// OwnIndex returns the position of the local member
func (g *Group) OwnIndex() int {
	g.RLock()
	defer g.RUnlock()
	return g.find(g.self.NodeID)
}

// At returns the member at the given index
func (g *Group) At(index int) Member {
	g.RLock()
	defer g.RUnlock()
	return g.members[index]
}

// Get returns the member with the given node id
func (g *Group) Get(nodeID uint32) (Member, error) {
	g.RLock()
	defer g.RUnlock()
	i := g.find(nodeID)
	if i < 0 {
		return Member{}, xerrors.Errorf("node %d: %w", nodeID, ErrUnknownMember)
	}
	return g.members[i], nil
}

// Members returns a copy of the members in canonical order
func (g *Group) Members() []Member {
	g.RLock()
	defer g.RUnlock()
	members := make([]Member, len(g.members))
	copy(members, g.members)
	return members
}

// Ring returns every other member, starting right after the local member
// and wrapping around. Sending in this order spreads the load.
func (g *Group) Ring() []Member {
	g.RLock()
	defer g.RUnlock()
	own := g.find(g.self.NodeID)
	ring := make([]Member, 0, len(g.members)-1)
	for i := 1; i < len(g.members); i++ {
		ring = append(ring, g.members[(own+i)%len(g.members)])
	}
	return ring
}

// Coordinator returns the member with the smallest node id
func (g *Group) Coordinator() Member {
	g.RLock()
	defer g.RUnlock()
	return g.members[0]
}

// Insert adds a member and renumbers the indices
func (g *Group) Insert(m Member) error {
	g.Lock()
	defer g.Unlock()
	if g.find(m.NodeID) >= 0 {
		return xerrors.Errorf("node %d: %w", m.NodeID, ErrDuplicateMember)
	}
	if len(g.members) >= g.k {
		return ErrGroupFull
	}
	g.members = append(g.members, m)
	sort.Slice(g.members, func(i, j int) bool {
		return g.members[i].NodeID < g.members[j].NodeID
	})
	return nil
}

// Remove excludes a member. The target size shrinks with it since the group
// was complete when the member was excluded.
func (g *Group) Remove(nodeID uint32) error {
	g.Lock()
	defer g.Unlock()
	i := g.find(nodeID)
	if i < 0 {
		return xerrors.Errorf("node %d: %w", nodeID, ErrUnknownMember)
	}
	g.members = append(g.members[:i], g.members[i+1:]...)
	if g.k > len(g.members) {
		g.k = len(g.members)
	}
	return nil
}

// Reset drops every member but the local one. The target size is kept.
func (g *Group) Reset() {
	g.Lock()
	defer g.Unlock()
	g.members = []Member{g.self}
}
