// Package localif implements the local interfaces that connect processes to
// a shared instance: the ServerInterface hosted by the shared instance and
// the ClientInterface used on both ends of every local connection.
package localif

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/hdlc"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/samber/oops"
)

// ErrNotInitiator is returned by Reconnect on a client that was spawned by a
// server rather than dialled out.
var ErrNotInitiator = errors.New("reconnect attempted on a non-initiator local interface")

var errNoSocket = errors.New("no socket attached")

// ClientInterface is one end of a local connection. It is either the
// initiating connection of a process attached to a shared instance, or a
// connection spawned by the shared instance's ServerInterface.
type ClientInterface struct {
	name      string
	owner     core.Owner
	transport *core.Transport
	opts      options

	// parent is the server that accepted this connection. It is nil for
	// initiating connections and only used for counters.
	parent *ServerInterface

	mu             sync.Mutex
	conn           net.Conn
	targetHost     string
	targetPort     int
	portLabel      string
	neverConnected bool

	online       atomic.Bool
	in           atomic.Bool
	out          atomic.Bool
	initiator    atomic.Bool
	reconnecting atomic.Bool
	detached     atomic.Bool
	tornDown     atomic.Bool

	rxBytes atomic.Uint64
	txBytes atomic.Uint64

	// sendMu serialises throttled sends.
	sendMu sync.Mutex
}

var _ core.Interface = (*ClientInterface)(nil)
var _ core.Detacher = (*ClientInterface)(nil)

// NewClient creates an unconnected client. Use Dial or Attach to give it a
// socket and ReadLoop to start receiving.
func NewClient(owner core.Owner, transport *core.Transport, name string, opts ...Option) *ClientInterface {
	return newClient(owner, transport, name, buildOptions(opts))
}

func newClient(owner core.Owner, transport *core.Transport, name string, o options) *ClientInterface {
	c := &ClientInterface{
		name:           name,
		owner:          owner,
		transport:      transport,
		opts:           o,
		neverConnected: true,
	}
	c.in.Store(true)
	return c
}

// ConnectShared dials the shared instance at host:port, registers the
// client with the transport and starts its read loop.
func ConnectShared(owner core.Owner, transport *core.Transport, host string, port int, opts ...Option) (*ClientInterface, error) {
	c := NewClient(owner, transport, "Local shared instance", opts...)
	conn, err := c.dial(host, port)
	if err != nil {
		return nil, err
	}
	transport.Interfaces.Append(c)
	go c.readLoop(conn)
	return c, nil
}

// Dial connects to a shared instance and marks this client as the
// initiating connection, which makes it eligible for reconnects.
func (c *ClientInterface) Dial(host string, port int) error {
	_, err := c.dial(host, port)
	return err
}

// dial connects and installs the socket, returning it so the caller can
// start a read loop on exactly this connection.
func (c *ClientInterface) dial(host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.opts.dial(context.Background(), "tcp", addr)
	if err != nil {
		return nil, oops.Wrapf(err, "connect to shared instance at %s", addr)
	}
	setNoDelay(conn)

	c.mu.Lock()
	if c.detached.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, oops.Errorf("connect to shared instance at %s: interface detached", addr)
	}
	old := c.conn
	c.conn = conn
	c.targetHost = host
	c.targetPort = port
	c.portLabel = strconv.Itoa(port)
	c.neverConnected = false
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	c.initiator.Store(true)
	c.online.Store(true)
	return conn, nil
}

// Attach adopts an already connected socket accepted by a server.
func (c *ClientInterface) Attach(conn net.Conn) {
	setNoDelay(conn)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.initiator.Store(false)
	c.online.Store(true)
}

// ReadLoop reads from the socket until it closes, delivering every frame to
// the owner. It blocks and is meant to run on its own goroutine.
func (c *ClientInterface) ReadLoop() {
	c.readLoop(c.socket())
}

func (c *ClientInterface) readLoop(conn net.Conn) {
	if conn == nil {
		// Detached before the loop started.
		c.online.Store(false)
		c.Teardown(false)
		return
	}

	deframer := hdlc.NewDeframer(c.transport.HeaderMinSize)
	buf := bufGet(readChunkSize)[:readChunkSize]
	defer bufPut(buf)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			deframer.Feed(buf[:n], c.processIncoming)
		}
		if err == nil {
			continue
		}

		c.online.Store(false)

		// A local close after Detach or Teardown is a clean close too.
		if errors.Is(err, io.EOF) || c.detached.Load() || c.tornDown.Load() {
			if c.initiator.Load() && !c.detached.Load() && !c.tornDown.Load() {
				logging.Warnf("Socket for %s was closed, attempting to reconnect...", c)
				c.transport.SharedConnectionDisappeared()
				_ = c.Reconnect()
			} else {
				c.Teardown(false)
			}
			return
		}

		logging.Errorf("An interface error occurred on %s: %v", c, err)
		logging.Errorf("Tearing down %s", c)
		c.Teardown(true)
		return
	}
}

func (c *ClientInterface) processIncoming(frame []byte) {
	n := uint64(len(frame))
	c.rxBytes.Add(n)
	if c.parent != nil {
		c.parent.rxBytes.Add(n)
	}

	defer func() {
		if r := recover(); r != nil {
			logging.ForInterface(c.String()).Errorf("An error in the processing of an incoming frame: %v", r)
		}
	}()
	c.owner.Inbound(frame, c)
}

// Send encodes and writes a frame. It is a no-op while offline. A write
// failure tears the interface down; it is not retried.
func (c *ClientInterface) Send(frame []byte) {
	if !c.online.Load() {
		return
	}

	if c.opts.forceBitrate {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		time.Sleep(throttleDelay(len(frame), c.opts.bitrate))
	}

	conn := c.socket()
	if conn == nil {
		c.sendFailed(errNoSocket)
		return
	}

	buf := hdlc.AppendEncode(bufGet(hdlc.EncodedMaxLen(len(frame))), frame)
	n := uint64(len(buf))
	_, err := conn.Write(buf)
	bufPut(buf)
	if err != nil {
		c.sendFailed(err)
		return
	}

	c.txBytes.Add(n)
	if c.parent != nil {
		c.parent.txBytes.Add(n)
	}
}

func (c *ClientInterface) sendFailed(err error) {
	logging.Errorf("Error while transmitting via %s, tearing down interface: %v", c, err)
	c.Teardown(true)
}

// throttleDelay is the time n bytes take on a link of bitrate bits/s.
func throttleDelay(n int, bitrate int64) time.Duration {
	if bitrate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * 8 * int64(time.Second) / bitrate)
}

// Reconnect redials the shared instance until it succeeds, then restarts
// the read loop and, after the reappear delay, notifies the transport. Only
// one reconnect loop runs at a time; concurrent calls return immediately.
// The loop retries indefinitely and only stops early if the client is
// detached, in which case the client is torn down. Reconnect on an online
// client does nothing.
func (c *ClientInterface) Reconnect() error {
	if !c.initiator.Load() {
		logging.Errorf("Attempt to reconnect on a non-initiator shared local interface %s", c)
		return ErrNotInitiator
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	if c.online.Load() {
		c.reconnecting.Store(false)
		return nil
	}

	c.mu.Lock()
	host, port := c.targetHost, c.targetPort
	wasConnected := !c.neverConnected
	c.mu.Unlock()

	var conn net.Conn
	attempts := 0
	for conn == nil && !c.detached.Load() {
		time.Sleep(c.opts.reconnectWait)
		attempts++
		var err error
		if conn, err = c.dial(host, port); err != nil {
			logging.Debugf("Connection attempt %d for %s failed: %v", attempts, c, err)
		}
	}

	c.reconnecting.Store(false)
	if conn == nil {
		// Detached while reconnecting.
		c.online.Store(false)
		c.Teardown(false)
		return nil
	}

	if wasConnected {
		logging.Infof("Reconnected socket for %s.", c)
	}

	go c.readLoop(conn)
	go func() {
		time.Sleep(c.opts.reappearDelay)
		c.transport.SharedConnectionReappeared()
	}()
	return nil
}

// Detach shuts down and closes the socket. A detached client does not
// reconnect when its socket closes. Calling Detach again is a no-op.
func (c *ClientInterface) Detach() {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	c.detached.Store(true)
	c.conn = nil
	c.mu.Unlock()

	logging.Debugf("Detaching %s", c)

	log := logging.ForInterface(c.String())
	if err := shutdown(conn); err != nil {
		log.Warnf("Error while shutting down socket: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Warnf("Error while closing socket: %v", err)
	}
}

// Teardown permanently removes the interface. Only the first call has any
// effect. With warn set the teardown is logged as an error and may abort
// the process. Tearing down the initiating connection calls the exit hook,
// since the shared instance can no longer be reached.
func (c *ClientInterface) Teardown(warn bool) {
	if !c.tornDown.CompareAndSwap(false, true) {
		return
	}

	c.online.Store(false)
	c.out.Store(false)
	c.in.Store(false)
	c.releaseSocket()

	c.transport.Interfaces.Remove(c)
	if c.transport.LocalClients.Remove(c) && c.parent != nil {
		c.parent.clientLeft()
		c.transport.PersistData()
	}

	if warn {
		logging.Errorf("The interface %s experienced an unrecoverable error and is being torn down. Restart to attempt to open this interface again.", c)
		if c.transport.PanicOnInterfaceError {
			c.transport.Panic()
		}
	}

	if c.initiator.Load() {
		if warn {
			logging.Criticalf("Permanently lost connection to local shared instance. Exiting now.")
		}
		c.transport.Exit()
	}
}

// socket returns the current connection, or nil once released.
func (c *ClientInterface) socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *ClientInterface) releaseSocket() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			logging.Debugf("Closing socket for %s: %v", c, err)
		}
	}
}

// Name returns the interface name.
func (c *ClientInterface) Name() string { return c.name }

// Mode returns the interface mode.
func (c *ClientInterface) Mode() core.Mode { return core.ModeFull }

// Online reports whether the socket is usable.
func (c *ClientInterface) Online() bool { return c.online.Load() }

// IsInitiator reports whether this client dialled out to a shared instance.
func (c *ClientInterface) IsInitiator() bool { return c.initiator.Load() }

// Parent returns the server that spawned this client, or nil.
func (c *ClientInterface) Parent() *ServerInterface { return c.parent }

// RxBytes returns the number of decoded bytes received.
func (c *ClientInterface) RxBytes() uint64 { return c.rxBytes.Load() }

// TxBytes returns the number of encoded bytes written.
func (c *ClientInterface) TxBytes() uint64 { return c.txBytes.Load() }

// Stats returns a snapshot of the interface state.
func (c *ClientInterface) Stats() core.InterfaceStats {
	return core.InterfaceStats{
		Name:    c.String(),
		Online:  c.online.Load(),
		In:      c.in.Load(),
		Out:     c.out.Load(),
		Bitrate: c.opts.bitrate,
		RxBytes: c.rxBytes.Load(),
		TxBytes: c.txBytes.Load(),
	}
}

func (c *ClientInterface) String() string {
	c.mu.Lock()
	port := c.portLabel
	c.mu.Unlock()
	if port == "" {
		port = "None"
	}
	return "LocalInterface[" + port + "]"
}

func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logging.Debugf("Could not disable Nagle on %s: %v", conn.RemoteAddr(), err)
		}
	}
}

// shutdown closes both directions of a TCP connection.
func shutdown(conn net.Conn) error {
	hc, ok := conn.(interface {
		CloseRead() error
		CloseWrite() error
	})
	if !ok {
		return nil
	}
	return errors.Join(hc.CloseRead(), hc.CloseWrite())
}
