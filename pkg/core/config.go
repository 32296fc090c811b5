package core

// SharedInstanceConfig contains configuration for the shared instance
// interfaces.
type SharedInstanceConfig struct {
	// BindHost is the address the shared instance listens on and clients
	// connect to.
	BindHost string `json:"bind_host" yaml:"bindHost"`

	// Port is the TCP port of the shared instance.
	Port int `json:"port" yaml:"port"`

	// Bitrate is the nominal link speed in bits per second.
	Bitrate int64 `json:"bitrate" yaml:"bitrate"`

	// ForceBitrate throttles outbound frames to Bitrate.
	ForceBitrate bool `json:"force_bitrate" yaml:"forceBitrate"`

	// ReconnectWaitSec is the interval between reconnect attempts in seconds.
	ReconnectWaitSec int `json:"reconnect_wait_sec" yaml:"reconnectWaitSec"`

	// PanicOnInterfaceError aborts the process after an unrecoverable
	// interface error.
	PanicOnInterfaceError bool `json:"panic_on_interface_error" yaml:"panicOnInterfaceError"`

	// HeaderMinSize is the minimum accepted frame size in bytes.
	HeaderMinSize int `json:"header_min_size" yaml:"headerMinSize"`
}

// MetricsConfig contains configuration for metrics export.
type MetricsConfig struct {
	// Listen is the address of the HTTP health and metrics endpoint.
	// Empty disables the endpoint.
	Listen string `json:"listen" yaml:"listen"`

	// Interval is the period of the metrics log dump (e.g. "30s").
	// Empty disables the dump.
	Interval string `json:"interval" yaml:"interval"`

	// Format is the metrics dump format: "text" or "json".
	Format string `json:"format" yaml:"format"`
}
