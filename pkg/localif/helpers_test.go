package localif

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// hookCounts records how often each transport hook fired.
type hookCounts struct {
	disappeared atomic.Int32
	reappeared  atomic.Int32
	persisted   atomic.Int32
	exited      atomic.Int32
	panicked    atomic.Int32

	reappearedAt atomic.Int64
}

// newTestTransport returns a transport that accepts frames of any size and
// counts hook invocations.
func newTestTransport() (*core.Transport, *hookCounts) {
	h := &hookCounts{}
	t := core.NewTransport()
	t.HeaderMinSize = 0
	t.Hooks = core.Hooks{
		SharedConnectionDisappeared: func() { h.disappeared.Add(1) },
		SharedConnectionReappeared: func() {
			h.reappearedAt.Store(time.Now().UnixNano())
			h.reappeared.Add(1)
		},
		PersistData: func() { h.persisted.Add(1) },
		Exit:        func() { h.exited.Add(1) },
		Panic:       func() { h.panicked.Add(1) },
	}
	return t, h
}

type received struct {
	frame []byte
	src   core.Interface
}

// frameSink is an Owner that queues every inbound frame.
type frameSink struct {
	ch chan received
}

func newFrameSink() *frameSink {
	return &frameSink{ch: make(chan received, 64)}
}

func (s *frameSink) Inbound(frame []byte, src core.Interface) {
	s.ch <- received{frame: frame, src: src}
}

func (s *frameSink) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for inbound frame")
		return received{}
	}
}

func (s *frameSink) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case r := <-s.ch:
		t.Fatalf("unexpected inbound frame %q", r.frame)
	case <-time.After(d):
	}
}

var discardOwner = core.OwnerFunc(func([]byte, core.Interface) {})

// stubAcceptor is a loopback listener that hands accepted connections to
// the test.
type stubAcceptor struct {
	ln       net.Listener
	accepted chan net.Conn
	host     string
	port     int
}

func newStubAcceptor(t *testing.T) *stubAcceptor {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	a := &stubAcceptor{ln: ln, accepted: make(chan net.Conn, 8), host: host, port: port}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			a.accepted <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return a
}

func (a *stubAcceptor) next(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-a.accepted:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

// spawnOnPipe spawns a server client on one end of an in-memory pipe and
// returns the other end.
func spawnOnPipe(t *testing.T, s *ServerInterface) (*ClientInterface, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	c := s.spawn(a, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000})
	return c, b
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
