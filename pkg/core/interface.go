package core

import "fmt"

// Mode is the operating mode of an interface. The values match the mode
// bits used by the enclosing transport layer.
type Mode uint8

// Interface modes
const (
	ModeFull         Mode = 0x01
	ModePointToPoint Mode = 0x04
	ModeAccessPoint  Mode = 0x08
	ModeRoaming      Mode = 0x10
	ModeBoundary     Mode = 0x20
	ModeGateway      Mode = 0x40
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePointToPoint:
		return "point_to_point"
	case ModeAccessPoint:
		return "access_point"
	case ModeRoaming:
		return "roaming"
	case ModeBoundary:
		return "boundary"
	case ModeGateway:
		return "gateway"
	default:
		return fmt.Sprintf("mode(0x%02x)", uint8(m))
	}
}

// Interface is a network interface registered with the transport layer.
type Interface interface {
	// Name returns the interface name used in logs.
	Name() string

	// Mode returns the operating mode of the interface.
	Mode() Mode

	// Online reports whether the underlying link is usable for traffic.
	Online() bool

	// Send transmits a frame. It never reports an error to the caller;
	// failures are handled by the interface itself.
	Send(frame []byte)

	// Stats returns a snapshot of the interface counters and flags.
	Stats() InterfaceStats

	String() string
}

// Detacher is implemented by interfaces that hold a socket which can be
// released on shutdown.
type Detacher interface {
	Detach()
}

// Owner consumes frames received on an interface.
type Owner interface {
	// Inbound delivers one deframed frame received on src.
	Inbound(frame []byte, src Interface)
}

// OwnerFunc adapts a function to the Owner interface.
type OwnerFunc func(frame []byte, src Interface)

// Inbound calls f(frame, src).
func (f OwnerFunc) Inbound(frame []byte, src Interface) { f(frame, src) }
