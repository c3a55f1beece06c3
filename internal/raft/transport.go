package raft

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxMessageSize bounds the buffer allocated for one inbound message.
const maxMessageSize = 64 * 1024 * 1024

// sendQueueSize is the number of messages buffered per peer.
const sendQueueSize = 256

// dialBackoff is how long a peer is skipped after a failed dial.
const dialBackoff = 100 * time.Millisecond

// MessageHandler receives one complete inbound message.
type MessageHandler func(msg []byte)

// TCPTransport implements Transport over TCP. Each message is written as-is;
// the size field of its header frames it on the stream. Every peer gets one
// outbound connection, dialled lazily and owned by a writer goroutine, so
// Send never waits on the network.
type TCPTransport struct {
	addr     string
	listener net.Listener
	peers    map[NodeID]string      // peerID -> address
	writers  map[NodeID]*peerWriter // peerID -> outbound queue
	inbound  map[net.Conn]struct{}
	handler  MessageHandler
	timeout  time.Duration
	logger   Logger
	closed   bool
	done     chan struct{}
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

type peerWriter struct {
	id    NodeID
	addr  string
	queue chan []byte
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, peers map[NodeID]string) *TCPTransport {
	t := &TCPTransport{
		addr:    addr,
		peers:   make(map[NodeID]string, len(peers)),
		writers: make(map[NodeID]*peerWriter),
		inbound: make(map[net.Conn]struct{}),
		timeout: 5 * time.Second,
		logger:  &defaultLogger{},
		done:    make(chan struct{}),
	}
	for id, a := range peers {
		t.peers[id] = a
	}
	return t
}

// SetTimeout sets the dial and write timeout.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// SetLogger sets the logger for the transport.
func (t *TCPTransport) SetLogger(logger Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// LocalAddr returns the local address. Once listening, this is the bound
// address, which differs from the configured one when port 0 was requested.
func (t *TCPTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Send queues msg for delivery to a peer. Delivery is best effort: a full
// queue or an unreachable peer loses the message, which Raft tolerates.
func (t *TCPTransport) Send(recipient NodeID, msg []byte) error {
	t.mu.RLock()
	closed := t.closed
	w, ok := t.writers[recipient]
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}

	if !ok {
		var err error
		if w, err = t.startWriter(recipient); err != nil {
			return err
		}
	}

	select {
	case w.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue for node %d is full", ErrConnectFailed, recipient)
	}
}

func (t *TCPTransport) startWriter(peerID NodeID) (*peerWriter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if w, ok := t.writers[peerID]; ok {
		return w, nil
	}
	addr, ok := t.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: no address for node %d", ErrConnectFailed, peerID)
	}

	w := &peerWriter{id: peerID, addr: addr, queue: make(chan []byte, sendQueueSize)}
	t.writers[peerID] = w
	t.wg.Add(1)
	go t.writeLoop(w)
	return w, nil
}

func (t *TCPTransport) writeLoop(w *peerWriter) {
	defer t.wg.Done()

	var conn net.Conn
	var retryAt time.Time
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var msg []byte
		select {
		case <-t.done:
			return
		case msg = <-w.queue:
		}

		t.mu.RLock()
		timeout := t.timeout
		logger := t.logger
		t.mu.RUnlock()

		if conn == nil {
			if time.Now().Before(retryAt) {
				continue
			}
			c, err := net.DialTimeout("tcp", w.addr, timeout)
			if err != nil {
				logger.Debug("dial peer failed", "peer", w.id, "addr", w.addr, "error", err)
				retryAt = time.Now().Add(dialBackoff)
				continue
			}
			conn = c
		}

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(msg); err != nil {
			logger.Debug("write to peer failed", "peer", w.id, "error", err)
			conn.Close()
			conn = nil
		}
	}
}

// Listen starts accepting connections and passes every inbound message to
// handler. handler is called from connection goroutines and must not block
// for long.
func (t *TCPTransport) Listen(handler MessageHandler) error {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		listener.Close()
		return ErrTransportClosed
	}
	t.listener = listener
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(listener)

	return nil
}

func (t *TCPTransport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
		conn.Close()
	}()

	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.mu.RLock()
				logger, closed := t.logger, t.closed
				t.mu.RUnlock()
				if !closed {
					logger.Debug("inbound connection closed", "remote", conn.RemoteAddr().String(), "error", err)
				}
			}
			return
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// ReadFrame reads one message from a stream. It validates the header before
// allocating, so a corrupt stream cannot request an unbounded buffer.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if _, err := ReadMessageType(header); err != nil {
		return nil, err
	}
	size, _ := MessageSize(header)

	// Sanity check: prevent allocation of unreasonably large buffers
	if size < headerSize || size > maxMessageSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidMessage, size)
	}

	msg := make([]byte, size)
	copy(msg, header)
	if _, err := io.ReadFull(r, msg[headerSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

// Close shuts down the transport and waits for its goroutines.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)

	if t.listener != nil {
		t.listener.Close()
	}
	for conn := range t.inbound {
		conn.Close()
	}
	t.mu.Unlock()

	// Wait for goroutines
	t.wg.Wait()

	return nil
}

// AddPeer adds a new peer to the transport.
func (t *TCPTransport) AddPeer(peerID NodeID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peerID] = addr
}

// InMemoryNetwork connects transports within one process. Delivery is
// synchronous: Send calls the recipient's handler directly.
type InMemoryNetwork struct {
	handlers     map[NodeID]MessageHandler
	disconnected map[NodeID]bool
	mu           sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		handlers:     make(map[NodeID]MessageHandler),
		disconnected: make(map[NodeID]bool),
	}
}

// NewTransport creates the transport node id sends through.
func (n *InMemoryNetwork) NewTransport(id NodeID) *InMemoryTransport {
	return &InMemoryTransport{id: id, network: n}
}

// Listen registers the handler for messages addressed to id.
func (n *InMemoryNetwork) Listen(id NodeID, handler MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[id] = handler
}

// Disconnect drops all traffic to and from id.
func (n *InMemoryNetwork) Disconnect(id NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected[id] = true
}

// Reconnect restores traffic to and from id.
func (n *InMemoryNetwork) Reconnect(id NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.disconnected, id)
}

// InMemoryTransport implements Transport on an InMemoryNetwork.
type InMemoryTransport struct {
	id      NodeID
	network *InMemoryNetwork
}

// Send copies msg and hands it to the recipient's handler.
func (t *InMemoryTransport) Send(recipient NodeID, msg []byte) error {
	t.network.mu.RLock()
	handler, ok := t.network.handlers[recipient]
	down := t.network.disconnected[t.id] || t.network.disconnected[recipient]
	t.network.mu.RUnlock()

	if !ok || down {
		return fmt.Errorf("%w: node %d unreachable", ErrConnectFailed, recipient)
	}
	handler(append([]byte(nil), msg...))
	return nil
}
