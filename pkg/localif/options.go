package localif

import (
	"context"
	"net"
	"time"
)

const (
	// DefaultBitrate is the nominal speed of a local link in bits per second.
	DefaultBitrate int64 = 1_000_000_000

	// DefaultReconnectWait is the interval between reconnect attempts.
	DefaultReconnectWait = 8 * time.Second

	// reappearSettle is added to the reconnect wait before the transport
	// layer is told the shared connection is back.
	reappearSettle = 2 * time.Second

	// HardwareMTU is the largest frame a local link carries.
	HardwareMTU = 262144

	// readChunkSize is the size of a single socket read.
	readChunkSize = 4096
)

// DialFunc opens a stream connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// options holds the tunables shared by clients and servers.
type options struct {
	bitrate       int64
	forceBitrate  bool
	reconnectWait time.Duration
	reappearDelay time.Duration
	dial          DialFunc
}

func defaultOptions() options {
	d := &net.Dialer{}
	return options{
		bitrate:       DefaultBitrate,
		reconnectWait: DefaultReconnectWait,
		dial:          d.DialContext,
	}
}

// Option configures a ClientInterface or ServerInterface.
type Option func(*options)

// WithBitrate sets the nominal link speed in bits per second. Values <= 0
// are ignored.
func WithBitrate(bps int64) Option {
	return func(o *options) {
		if bps > 0 {
			o.bitrate = bps
		}
	}
}

// WithForceBitrate enables throttling of outbound frames to the bitrate.
func WithForceBitrate(enabled bool) Option {
	return func(o *options) { o.forceBitrate = enabled }
}

// WithReconnectWait sets the interval between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectWait = d
		}
	}
}

// WithReappearDelay sets how long after a successful reconnect the
// transport layer is notified. It defaults to the reconnect wait plus two
// seconds.
func WithReappearDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reappearDelay = d
		}
	}
}

// WithDialer replaces the function used to open client connections.
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.reappearDelay <= 0 {
		o.reappearDelay = o.reconnectWait + reappearSettle
	}
	return o
}
