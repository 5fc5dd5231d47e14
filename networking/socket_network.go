package networking

// Implementation of the network interface on top of a transport socket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"student_25_dcnet/tools"
	"student_25_dcnet/transport"
)

const sendTimeout = time.Second

// TransportNetwork hands out socket backed interfaces that know each other.
// Used to run several members in one process.
type TransportNetwork struct {
	mu        sync.Mutex
	transport transport.Transport
	nextID    int64
	peers     *tools.ConcurrentMap[int64, string]
}

// NewTransportNetwork creates a new network instance using the given transport
func NewTransportNetwork(t transport.Transport) *TransportNetwork {
	return &TransportNetwork{
		transport: t,
		nextID:    1,
		peers:     tools.NewConcurrentMap[int64, string](),
	}
}

func (n *TransportNetwork) JoinNetwork() (*SocketNetwork, error) {
	bindAddr := "127.0.0.1:0"
	n.mu.Lock()
	defer n.mu.Unlock()

	socket, err := n.transport.CreateSocket(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	id := n.nextID
	n.nextID++
	n.peers.Set(id, socket.GetAddress())

	return NewSocketNetwork(socket, id, n.peers), nil
}

// SocketNetwork implements NetworkInterface over a transport socket. Peers
// are addressed by id through the shared peer map.
type SocketNetwork struct {
	socket   transport.ClosableSocket
	id       int64
	peers    *tools.ConcurrentMap[int64, string]
	incoming chan []byte
	stop     chan struct{}
	recvWg   sync.WaitGroup
}

// NewSocketNetwork creates a new SocketNetwork with a given socket and ID.
// `peers` maps IDs to addresses (host:port).
func NewSocketNetwork(socket transport.ClosableSocket, id int64, peers *tools.ConcurrentMap[int64, string]) *SocketNetwork {
	net := &SocketNetwork{
		socket:   socket,
		id:       id,
		peers:    peers,
		incoming: make(chan []byte, 100),
		stop:     make(chan struct{}),
	}

	net.recvWg.Add(1)
	go net.receiver()

	return net
}

// NewStaticPeers builds a peer map from a fixed id to address list
func NewStaticPeers(addresses map[int64]string) *tools.ConcurrentMap[int64, string] {
	peers := tools.NewConcurrentMap[int64, string]()
	for id, addr := range addresses {
		peers.Set(id, addr)
	}
	return peers
}

func (n *SocketNetwork) packet(addr string, msg []byte) transport.Packet {
	header := transport.NewHeader(n.socket.GetAddress(), n.socket.GetAddress(), addr)
	return transport.Packet{
		Header: &header,
		Msg:    &transport.Message{Type: "bytes", Payload: msg},
	}
}

func (n *SocketNetwork) Send(msg []byte, to int64) error {
	addr, ok := n.peers.Get(to)
	if !ok {
		return fmt.Errorf("unknown peer ID: %d", to)
	}
	return n.socket.Send(addr, n.packet(addr, msg), sendTimeout)
}

func (n *SocketNetwork) Broadcast(msg []byte) error {
	for _, addr := range n.peers.Snapshot() {
		// The sender gets its own copy as well
		err := n.socket.Send(addr, n.packet(addr, msg), sendTimeout)
		if err != nil {
			return err
		}
	}
	return nil
}

func (n *SocketNetwork) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stop:
		return nil, fmt.Errorf("network stopped")
	case msg := <-n.incoming:
		return msg, nil
	}
}

func (n *SocketNetwork) GetID() int64 {
	return n.id
}

func (n *SocketNetwork) GetSent() [][]byte {
	pkts := n.socket.GetOuts()
	sent := make([][]byte, len(pkts))
	for i, pkt := range pkts {
		sent[i] = pkt.Msg.Payload
	}
	return sent
}

func (n *SocketNetwork) GetReceived() [][]byte {
	pkts := n.socket.GetIns()
	received := make([][]byte, len(pkts))
	for i, pkt := range pkts {
		received[i] = pkt.Msg.Payload
	}
	return received
}

func (n *SocketNetwork) Close() error {
	close(n.stop)
	n.recvWg.Wait()
	return n.socket.Close()
}

// Internal goroutine to receive packets.
func (n *SocketNetwork) receiver() {
	defer n.recvWg.Done()
	timeout := 100 * time.Millisecond

	for {
		select {
		case <-n.stop:
			return
		default:
		}

		pkt, err := n.socket.Recv(timeout)
		if err != nil {
			if _, ok := err.(transport.TimeoutError); ok {
				continue
			}
			// Other errors: assume fatal
			return
		}

		if pkt.Msg == nil {
			continue
		}

		select {
		case n.incoming <- pkt.Msg.Payload:
		case <-n.stop:
			return
		}
	}
}
