package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/marmos91/tablerpc/pkg/transport"
)

// stubTransport implements only transport.Transport.
type stubTransport struct{}

func (stubTransport) ReadMessage() ([]byte, error) { return nil, errors.New("not readable") }
func (stubTransport) WriteMessage([]byte) error    { return nil }
func (stubTransport) Close() error                 { return nil }

// socketStub adds transport.SocketBacked.
type socketStub struct {
	stubTransport
	addr net.Addr
}

func (s socketStub) RemoteAddr() net.Addr { return s.addr }

// negotiatedStub adds transport.Negotiated on top of a socket.
type negotiatedStub struct {
	socketStub
	principal string
	err       error
}

func (n negotiatedStub) AuthorizationID() (string, error) { return n.principal, n.err }
func (n negotiatedStub) Mechanism() string                { return "test" }

var (
	_ transport.SocketBacked = socketStub{}
	_ transport.Negotiated   = negotiatedStub{}
)

func tcpAddr(ip string, port int) *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

// pipeAddr is an address whose string form is not an IP.
type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// recordingMetrics captures the calls made on metrics.RPCMetrics.
type recordingMetrics struct {
	mu           sync.Mutex
	requests     map[string]int
	authFailures map[string]int
	handshakes   map[string]int
	accepted     int
	closed       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		requests:     map[string]int{},
		authFailures: map[string]int{},
		handshakes:   map[string]int{},
	}
}

func (m *recordingMetrics) RecordRequest(procedure string, _ time.Duration, status string) {
	m.mu.Lock()
	m.requests[procedure+"/"+status]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordRequestStart(string) {}
func (m *recordingMetrics) RecordRequestEnd(string)   {}

func (m *recordingMetrics) RecordAuthFailure(status string) {
	m.mu.Lock()
	m.authFailures[status]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordHandshake(mechanism, outcome string) {
	m.mu.Lock()
	m.handshakes[mechanism+"/"+outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) SetActiveConnections(int32) {}

func (m *recordingMetrics) RecordConnectionAccepted() {
	m.mu.Lock()
	m.accepted++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordConnectionRejected() {}

func (m *recordingMetrics) RecordConnectionClosed() {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordConnectionForceClosed() {}

func (m *recordingMetrics) count(table map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return table[key]
}
