// Package metrics exports the state of a transport's interfaces to
// Prometheus.
package metrics

import (
	"sort"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// Config configures the exported metrics.
type Config struct {
	// Namespace prefixes every metric name (default: "meshlink").
	Namespace string

	// Registry receives the collector and the hook counters.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the exported metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "meshlink",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector reports per-interface byte counters, online state and spawned
// client counts read from the transport registry at scrape time.
type Collector struct {
	transport *core.Transport

	rxDesc      *prometheus.Desc
	txDesc      *prometheus.Desc
	onlineDesc  *prometheus.Desc
	clientsDesc *prometheus.Desc
	countDesc   *prometheus.Desc
	localDesc   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for the transport's interfaces. It is not
// registered; see Register.
func NewCollector(t *core.Transport, opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newCollector(t, cfg.Namespace)
}

func newCollector(t *core.Transport, ns string) *Collector {
	labels := []string{"interface"}
	return &Collector{
		transport: t,
		rxDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "interface", "rx_bytes_total"),
			"Decoded bytes received by the interface", labels, nil),
		txDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "interface", "tx_bytes_total"),
			"Encoded bytes written by the interface", labels, nil),
		onlineDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "interface", "online"),
			"Whether the interface is online (1) or not (0)", labels, nil),
		clientsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "shared_instance", "clients"),
			"Number of local clients attached to the shared instance", labels, nil),
		countDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "interfaces"),
			"Number of registered interfaces", nil, nil),
		localDesc: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "local_clients"),
			"Number of spawned local client interfaces", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxDesc
	ch <- c.txDesc
	ch <- c.onlineDesc
	ch <- c.clientsDesc
	ch <- c.countDesc
	ch <- c.localDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ifaces := c.transport.Interfaces.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.countDesc, prometheus.GaugeValue, float64(len(ifaces)))
	ch <- prometheus.MustNewConstMetric(c.localDesc, prometheus.GaugeValue, float64(c.transport.LocalClients.Len()))

	seen := make(map[string]bool, len(ifaces))
	for _, i := range ifaces {
		st := i.Stats()
		// Label values must be unique within a scrape.
		if seen[st.Name] {
			continue
		}
		seen[st.Name] = true

		ch <- prometheus.MustNewConstMetric(c.rxDesc, prometheus.CounterValue, float64(st.RxBytes), st.Name)
		ch <- prometheus.MustNewConstMetric(c.txDesc, prometheus.CounterValue, float64(st.TxBytes), st.Name)
		ch <- prometheus.MustNewConstMetric(c.onlineDesc, prometheus.GaugeValue, boolValue(st.Online), st.Name)
		if _, ok := i.(clientCounter); ok {
			ch <- prometheus.MustNewConstMetric(c.clientsDesc, prometheus.GaugeValue, float64(st.Clients), st.Name)
		}
	}
}

// clientCounter is implemented by interfaces that spawn clients.
type clientCounter interface {
	Clients() int
}

// Snapshot returns the stats of every registered interface, sorted by name.
func Snapshot(t *core.Transport) []core.InterfaceStats {
	ifaces := t.Interfaces.Snapshot()
	out := make([]core.InterfaceStats, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, i.Stats())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Totals sums the byte counters of the given stats.
func Totals(stats []core.InterfaceStats) (rx, tx uint64) {
	for _, st := range stats {
		rx += st.RxBytes
		tx += st.TxBytes
	}
	return rx, tx
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Hooks counts shared connection lifecycle events.
type Hooks struct {
	disappeared prometheus.Counter
	reappeared  prometheus.Counter
	persisted   prometheus.Counter
	panics      prometheus.Counter
}

func newHooks(factory promauto.Factory, ns string) *Hooks {
	return &Hooks{
		disappeared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "shared_connection_disappeared_total",
			Help:      "Times the connection to the shared instance was lost",
		}),
		reappeared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "shared_connection_reappeared_total",
			Help:      "Times the connection to the shared instance was restored",
		}),
		persisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "persist_requests_total",
			Help:      "Times a departing local client requested a state flush",
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "interface_panics_total",
			Help:      "Unrecoverable interface errors that requested an abort",
		}),
	}
}

// Wrap returns hooks that count each event before calling the hook in.
func (h *Hooks) Wrap(in core.Hooks) core.Hooks {
	return core.Hooks{
		SharedConnectionDisappeared: chain(h.disappeared, in.SharedConnectionDisappeared),
		SharedConnectionReappeared:  chain(h.reappeared, in.SharedConnectionReappeared),
		PersistData:                 chain(h.persisted, in.PersistData),
		Exit:                        in.Exit,
		Panic:                       chain(h.panics, in.Panic),
	}
}

func chain(c prometheus.Counter, next func()) func() {
	return func() {
		c.Inc()
		if next != nil {
			next()
		}
	}
}

// Register registers a collector for the transport and wraps its hooks
// with event counters. It returns the collector and the counting hooks.
func Register(t *core.Transport, opts ...Option) (*Collector, *Hooks, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := newCollector(t, cfg.Namespace)
	if err := cfg.Registry.Register(c); err != nil {
		return nil, nil, oops.Wrapf(err, "register %s interface collector", cfg.Namespace)
	}

	h := newHooks(promauto.With(cfg.Registry), cfg.Namespace)
	t.Hooks = h.Wrap(t.Hooks)
	return c, h, nil
}
