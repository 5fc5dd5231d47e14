package networking

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Interceptor sees every message going through a FakeNetwork and returns the
// bytes to deliver instead. Returning nil drops the message.
type Interceptor func(msg []byte, from, to int64) []byte

// FakeNetwork is a structure implementing an in-memory network. It connects the interfaces
// of all nodes.
type FakeNetwork struct {
	nodes       map[int64]chan []byte
	delayMap    map[int64]time.Duration
	interceptor Interceptor
	sync.RWMutex
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{
		nodes:    make(map[int64]chan []byte),
		delayMap: make(map[int64]time.Duration),
	}
}

// DelayNode adds the given delay to the node when sending a packet.
// Mimics a node having slow connection
func (n *FakeNetwork) DelayNode(id int64, delay time.Duration) {
	n.Lock()
	defer n.Unlock()
	n.delayMap[id] = delay
}

// SetInterceptor installs a hook called on every sent message. Used by tests
// to make a node misbehave on the wire.
func (n *FakeNetwork) SetInterceptor(interceptor Interceptor) {
	n.Lock()
	defer n.Unlock()
	n.interceptor = interceptor
}

func (n *FakeNetwork) JoinWithBuffer(size int) *FakeInterface {
	n.Lock()
	defer n.Unlock()
	queue := make(chan []byte, size)
	id := int64(len(n.nodes) + 1)
	iface := NewFakeInterface(queue, n.Send, n.Broadcast, id)

	n.nodes[iface.id] = iface.rcvQueue

	return iface
}

func (n *FakeNetwork) JoinNetwork() *FakeInterface {
	return n.JoinWithBuffer(100)
}

func (n *FakeNetwork) Send(msg []byte, from, to int64) error {
	n.RLock()
	rcv, ok := n.nodes[to]
	delay, delayed := n.delayMap[from]
	interceptor := n.interceptor
	n.RUnlock()
	if !ok {
		return fmt.Errorf("destination node %d not found", to)
	}

	if interceptor != nil {
		msg = interceptor(msg, from, to)
		if msg == nil {
			return nil
		}
	}

	// Put the message in the recipient's receive channel
	if delayed {
		go func() {
			time.Sleep(delay)
			rcv <- msg
		}()
	} else {
		rcv <- msg
	}
	return nil
}

func (n *FakeNetwork) Broadcast(msg []byte, from int64) error {
	n.RLock()
	ids := make([]int64, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	n.RUnlock()

	for _, id := range ids {
		err := n.Send(msg, from, id)
		if err != nil {
			return err
		}
	}
	return nil
}

type FakeInterface struct {
	rcvQueue     chan []byte
	sendMsg      func([]byte, int64, int64) error
	broadcastMsg func([]byte, int64) error
	id           int64
	received     [][]byte
	sent         [][]byte
	sync.RWMutex
}

func NewFakeInterface(rcv chan []byte, sendMsg func([]byte, int64, int64) error,
	broadcastMsg func([]byte, int64) error, id int64) *FakeInterface {
	return &FakeInterface{
		rcvQueue:     rcv,
		sendMsg:      sendMsg,
		broadcastMsg: broadcastMsg,
		id:           id,
		received:     make([][]byte, 0),
		sent:         make([][]byte, 0),
	}
}

func (f *FakeInterface) Send(msg []byte, to int64) error {
	err := f.sendMsg(msg, f.id, to)
	if err != nil {
		return err
	}
	f.Lock()
	defer f.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *FakeInterface) Broadcast(msg []byte) error {
	err := f.broadcastMsg(msg, f.id)
	if err != nil {
		return err
	}
	f.Lock()
	defer f.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *FakeInterface) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-f.rcvQueue:
		f.Lock()
		defer f.Unlock()
		f.received = append(f.received, msg)
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeInterface) GetID() int64 {
	return f.id
}

func (f *FakeInterface) GetSent() [][]byte {
	f.RLock()
	defer f.RUnlock()
	return f.sent
}

func (f *FakeInterface) GetReceived() [][]byte {
	f.RLock()
	defer f.RUnlock()
	return f.received
}
