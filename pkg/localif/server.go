package localif

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// maxAcceptBackoff caps the pause after repeated accept errors.
const maxAcceptBackoff = time.Second

// ServerInterface is the shared instance end of the local transport. It
// accepts connections and spawns a ClientInterface for each of them. It does
// not originate frames itself.
type ServerInterface struct {
	name      string
	owner     core.Owner
	transport *core.Transport
	opts      options

	mu       sync.Mutex
	listener net.Listener
	running  bool
	bindHost string
	bindPort int
	wg       sync.WaitGroup

	online  atomic.Bool
	in      atomic.Bool
	out     atomic.Bool
	clients atomic.Int64

	rxBytes atomic.Uint64
	txBytes atomic.Uint64

	announceMu        sync.Mutex
	inboundAnnounces  []time.Time
	outboundAnnounces []time.Time

	now func() time.Time
}

var _ core.Interface = (*ServerInterface)(nil)

// NewServer creates a shared instance server. Call Start to bind it.
func NewServer(owner core.Owner, transport *core.Transport, opts ...Option) *ServerInterface {
	s := &ServerInterface{
		name:      "Reticulum",
		owner:     owner,
		transport: transport,
		opts:      buildOptions(opts),
		now:       time.Now,
	}
	s.in.Store(true)
	return s
}

// Start binds bindHost:bindPort with address reuse enabled and starts
// accepting connections. Each accepted connection is served on its own
// goroutine.
func (s *ServerInterface) Start(bindHost string, bindPort int) error {
	s.mu.Lock()
	if s.running {
		port := s.bindPort
		s.mu.Unlock()
		return oops.Errorf("shared instance already running on port %d", port)
	}

	addr := net.JoinHostPort(bindHost, strconv.Itoa(bindPort))
	lc := net.ListenConfig{Control: reuseControl}
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return oops.Wrapf(err, "bind shared instance on %s", addr)
	}

	s.listener = l
	s.bindHost = bindHost
	s.bindPort = bindPort
	if ta, ok := l.Addr().(*net.TCPAddr); ok {
		s.bindPort = ta.Port
	}
	s.running = true
	s.online.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(l)
	s.mu.Unlock()

	logging.InfoWithFields(logrus.Fields{
		"at":      "localif.ServerInterface.Start",
		"address": l.Addr().String(),
	}, "Started %s", s)
	return nil
}

// Close stops accepting connections and waits for the accept loop to exit.
// Spawned clients stay up; detach them through the transport.
func (s *ServerInterface) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	l := s.listener
	s.mu.Unlock()

	s.online.Store(false)
	err := l.Close()
	s.wg.Wait()
	if err != nil {
		return oops.Wrapf(err, "close listener for %s", s)
	}
	return nil
}

func (s *ServerInterface) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextAcceptBackoff(backoff)
			logging.WarnWithFields(logrus.Fields{
				"interface": s.String(),
				"backoff":   backoff,
			}, "Accept failed, retrying: %v", err)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		go s.OnAccept(conn, conn.RemoteAddr())
	}
}

func nextAcceptBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// OnAccept spawns a client for an accepted connection and runs its read
// loop on the calling goroutine until the connection ends.
func (s *ServerInterface) OnAccept(conn net.Conn, remote net.Addr) {
	c := s.spawn(conn, remote)
	c.readLoop(conn)
}

// spawn creates and registers the client for an accepted connection.
func (s *ServerInterface) spawn(conn net.Conn, remote net.Addr) *ClientInterface {
	host, port := splitRemote(remote)

	c := newClient(s.owner, s.transport, port, s.opts)
	c.Attach(conn)
	c.out.Store(s.out.Load())
	c.in.Store(s.in.Load())
	c.mu.Lock()
	c.targetHost = host
	c.portLabel = port
	c.mu.Unlock()
	c.parent = s

	s.transport.Interfaces.Append(c)
	s.transport.LocalClients.Append(c)
	s.clients.Add(1)

	logging.Debugf("Accepting new connection to shared instance: %s", c)
	return c
}

func (s *ServerInterface) clientLeft() {
	s.clients.Add(-1)
}

func splitRemote(remote net.Addr) (host, port string) {
	if remote == nil {
		return "", ""
	}
	host, port, err := net.SplitHostPort(remote.String())
	if err != nil {
		return remote.String(), ""
	}
	return host, port
}

// Send is a no-op: a shared instance server only relays through its
// spawned clients.
func (s *ServerInterface) Send(frame []byte) {}

// ReceivedAnnounce records an inbound announce that arrived through a
// spawned client. Calls with fromSpawned unset are ignored.
func (s *ServerInterface) ReceivedAnnounce(fromSpawned bool) {
	if !fromSpawned {
		return
	}
	s.announceMu.Lock()
	s.inboundAnnounces = append(s.inboundAnnounces, s.now())
	s.announceMu.Unlock()
}

// SentAnnounce records an outbound announce sent through a spawned client.
// Calls with fromSpawned unset are ignored.
func (s *ServerInterface) SentAnnounce(fromSpawned bool) {
	if !fromSpawned {
		return
	}
	s.announceMu.Lock()
	s.outboundAnnounces = append(s.outboundAnnounces, s.now())
	s.announceMu.Unlock()
}

// InboundAnnounceTimes returns a copy of the recorded inbound announce times.
func (s *ServerInterface) InboundAnnounceTimes() []time.Time {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	return append([]time.Time(nil), s.inboundAnnounces...)
}

// OutboundAnnounceTimes returns a copy of the recorded outbound announce times.
func (s *ServerInterface) OutboundAnnounceTimes() []time.Time {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	return append([]time.Time(nil), s.outboundAnnounces...)
}

// Addr returns the bound address, or nil before Start.
func (s *ServerInterface) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port.
func (s *ServerInterface) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindPort
}

// Clients returns the number of spawned clients currently registered.
func (s *ServerInterface) Clients() int { return int(s.clients.Load()) }

// Name returns the interface name.
func (s *ServerInterface) Name() string { return s.name }

// Mode returns the interface mode.
func (s *ServerInterface) Mode() core.Mode { return core.ModeFull }

// Online reports whether the server is accepting connections.
func (s *ServerInterface) Online() bool { return s.online.Load() }

// RxBytes returns the bytes received by all spawned clients.
func (s *ServerInterface) RxBytes() uint64 { return s.rxBytes.Load() }

// TxBytes returns the bytes sent by all spawned clients.
func (s *ServerInterface) TxBytes() uint64 { return s.txBytes.Load() }

// Stats returns a snapshot of the server state.
func (s *ServerInterface) Stats() core.InterfaceStats {
	return core.InterfaceStats{
		Name:    s.String(),
		Online:  s.online.Load(),
		In:      s.in.Load(),
		Out:     s.out.Load(),
		Bitrate: s.opts.bitrate,
		RxBytes: s.rxBytes.Load(),
		TxBytes: s.txBytes.Load(),
		Clients: s.Clients(),
	}
}

func (s *ServerInterface) String() string {
	return "SharedInstance[" + strconv.Itoa(s.Port()) + "]"
}
