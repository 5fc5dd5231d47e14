package messaging

import (
	"context"
	"sync"
)

// Router keeps one mailbox per message type. A receiver asks for the types
// its current phase expects and gets the oldest matching packet, so packets
// of a later phase or round wait in their own mailbox until asked for.
type Router struct {
	boxes map[Type][]*Packet
	// notify is closed and replaced on every delivery
	notify chan struct{}
	sync.Mutex
}

// NewRouter returns an empty router
func NewRouter() *Router {
	return &Router{
		boxes:  make(map[Type][]*Packet),
		notify: make(chan struct{}),
	}
}

// Deliver stores the packet in the mailbox of its type. It never blocks.
func (r *Router) Deliver(p *Packet) {
	r.Lock()
	defer r.Unlock()
	r.boxes[p.Type] = append(r.boxes[p.Type], p)
	close(r.notify)
	r.notify = make(chan struct{})
}

// take removes the first packet of the given round from the mailboxes of
// the types, checked in order. Packets of an older round are dropped.
func (r *Router) take(round uint64, types []Type) *Packet {
	for _, t := range types {
		box := r.boxes[t]
		kept := box[:0]
		var found *Packet
		for _, p := range box {
			switch {
			case found != nil:
				kept = append(kept, p)
			case round == AnyRound || p.Round == round:
				found = p
			case p.Round > round:
				kept = append(kept, p)
			}
		}
		for i := len(kept); i < len(box); i++ {
			box[i] = nil
		}
		r.boxes[t] = kept
		if found != nil {
			return found
		}
	}
	return nil
}

// Receive blocks until a packet of the given round and one of the given
// types is available or the context is done. With AnyRound the round is
// ignored.
func (r *Router) Receive(ctx context.Context, round uint64, types ...Type) (*Packet, error) {
	for {
		r.Lock()
		p := r.take(round, types)
		wait := r.notify
		r.Unlock()
		if p != nil {
			return p, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of packets waiting in the mailbox of the type
func (r *Router) Pending(t Type) int {
	r.Lock()
	defer r.Unlock()
	return len(r.boxes[t])
}
