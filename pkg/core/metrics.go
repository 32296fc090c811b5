package core

// InterfaceStats contains counters and state flags for an interface.
type InterfaceStats struct {
	// Name is the interface's string representation.
	Name string

	// Online reports whether the link is usable.
	Online bool

	// In and Out are the receive and transmit capability flags.
	In  bool
	Out bool

	// Bitrate is the nominal link speed in bits per second.
	Bitrate int64

	// RxBytes is the number of bytes received.
	RxBytes uint64

	// TxBytes is the number of bytes transmitted.
	TxBytes uint64

	// Clients is the number of attached clients. Only servers report it.
	Clients int
}
