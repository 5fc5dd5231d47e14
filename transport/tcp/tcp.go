package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"student_25_dcnet/transport"

	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrameSize bounds the length announced by a frame prefix
const maxFrameSize = 1 << 24

// maxHistory bounds the number of packets kept for GetIns and GetOuts
const maxHistory = 1024

var errFrameTooLarge = errors.New("frame too large")

func NewTCP() transport.Transport {
	return &TCP{}
}

type TCP struct{}

func (t *TCP) CreateSocket(address string) (transport.ClosableSocket, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", address, err)
	}

	socket := &Socket{
		listener: ln,
		myAddr:   ln.Addr().String(),
		conns:    make(map[string]net.Conn),
		incoming: make(chan transport.Packet, 1000),
		closing:  make(chan struct{}),
	}

	go socket.acceptLoop()

	return socket, nil
}

// Socket is a TCP socket. Every packet is written as a varint length prefix
// followed by the encoded packet.
type Socket struct {
	listener net.Listener
	myAddr   string
	conns    map[string]net.Conn
	mutex    sync.Mutex
	incoming chan transport.Packet
	closing  chan struct{}
	closed   bool

	ins  []transport.Packet
	outs []transport.Packet
}

func (s *Socket) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// writeFrame prefixes the bytes with their varint length
func writeFrame(w io.Writer, bs []byte) error {
	_, err := w.Write(protowire.AppendBytes(nil, bs))
	return err
}

// readFrame reads one length prefixed frame
func readFrame(r *bufio.Reader) ([]byte, error) {
	prefix := make([]byte, 0, binary.MaxVarintLen64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		prefix = append(prefix, b)
		size, n := protowire.ConsumeVarint(prefix)
		if n > 0 {
			if size > maxFrameSize {
				return nil, errFrameTooLarge
			}
			buf := make([]byte, size)
			_, err = io.ReadFull(r, buf)
			return buf, err
		}
		if len(prefix) == binary.MaxVarintLen64 {
			return nil, protowire.ParseError(n)
		}
	}
}

func (s *Socket) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		frame, err := readFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Msgf("%v", err)
			}
			return
		}

		var pkt transport.Packet
		err = pkt.Unmarshal(frame)
		if err != nil {
			log.Info().Msgf("error unmarshaling pkt %v", err)
			continue
		}

		s.record(&s.ins, pkt)

		select {
		case s.incoming <- pkt:
		case <-s.closing:
			return
		}
	}
}

func (s *Socket) record(history *[]transport.Packet, pkt transport.Packet) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	*history = append(*history, pkt.Copy())
	if len(*history) > maxHistory {
		*history = append([]transport.Packet(nil), (*history)[maxHistory/2:]...)
	}
}

func (s *Socket) dial(dest string, timeout time.Duration) (net.Conn, error) {
	s.mutex.Lock()
	conn, exists := s.conns[dest]
	s.mutex.Unlock()
	if exists {
		return conn, nil
	}

	conn, err := net.DialTimeout("tcp", dest, timeout)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	s.conns[dest] = conn
	s.mutex.Unlock()
	return conn, nil
}

func (s *Socket) forget(dest string, conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.conns[dest] == conn {
		delete(s.conns, dest)
	}
	conn.Close()
}

func (s *Socket) Send(dest string, pkt transport.Packet, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Minute
	}

	bytes, err := pkt.Marshal()
	if err != nil {
		log.Error().Msgf("failed to marshal msg")
		return err
	}

	// A cached connection may have been closed by the peer, retry once on a
	// fresh one
	for attempt := 0; attempt < 2; attempt++ {
		var conn net.Conn
		conn, err = s.dial(dest, timeout)
		if err != nil {
			return err
		}

		err = conn.SetWriteDeadline(time.Now().Add(timeout))
		if err != nil {
			s.forget(dest, conn)
			continue
		}

		err = writeFrame(conn, bytes)
		if err == nil {
			s.record(&s.outs, pkt)
			return nil
		}
		s.forget(dest, conn)

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return transport.TimeoutError(timeout)
		}
	}
	return err
}

func (s *Socket) Recv(timeout time.Duration) (transport.Packet, error) {
	if timeout == 0 {
		pkt := <-s.incoming
		return pkt, nil
	}

	select {
	case pkt := <-s.incoming:
		return pkt, nil
	case <-time.After(timeout):
		return transport.Packet{}, transport.TimeoutError(timeout)
	}
}

func (s *Socket) GetAddress() string {
	return s.myAddr
}

func (s *Socket) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return fmt.Errorf("already closed")
	}
	s.closed = true
	close(s.closing)
	s.listener.Close()

	for _, conn := range s.conns {
		conn.Close()
	}
	return nil
}

func (s *Socket) GetIns() []transport.Packet {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]transport.Packet(nil), s.ins...)
}

func (s *Socket) GetOuts() []transport.Packet {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]transport.Packet(nil), s.outs...)
}
