package metrics

import (
	"testing"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInterface struct {
	stats core.InterfaceStats
}

func (f *fakeInterface) Name() string               { return f.stats.Name }
func (f *fakeInterface) Mode() core.Mode            { return core.ModeFull }
func (f *fakeInterface) Online() bool               { return f.stats.Online }
func (f *fakeInterface) Send([]byte)                {}
func (f *fakeInterface) Stats() core.InterfaceStats { return f.stats }
func (f *fakeInterface) String() string             { return f.stats.Name }

type fakeServer struct {
	fakeInterface
}

func (f *fakeServer) Clients() int { return f.stats.Clients }

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func labelled(mf *dto.MetricFamily, iface string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "interface" && lp.GetValue() == iface {
				return m
			}
		}
	}
	return nil
}

func TestCollectorExportsInterfaces(t *testing.T) {
	tr := core.NewTransport()
	srv := &fakeServer{fakeInterface{core.InterfaceStats{
		Name: "SharedInstance[37428]", Online: true, RxBytes: 100, TxBytes: 220, Clients: 2,
	}}}
	cli := &fakeInterface{core.InterfaceStats{
		Name: "LocalInterface[51000]", Online: false, RxBytes: 40, TxBytes: 12,
	}}
	tr.Interfaces.Append(srv)
	tr.Interfaces.Append(cli)
	tr.LocalClients.Append(cli)

	reg := prometheus.NewRegistry()
	_, _, err := Register(tr, WithRegistry(reg))
	require.NoError(t, err)

	mfs := gather(t, reg)

	require.Contains(t, mfs, "meshlink_interfaces")
	assert.Equal(t, 2.0, mfs["meshlink_interfaces"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, mfs["meshlink_local_clients"].GetMetric()[0].GetGauge().GetValue())

	rx := mfs["meshlink_interface_rx_bytes_total"]
	require.NotNil(t, rx)
	assert.Equal(t, 100.0, labelled(rx, "SharedInstance[37428]").GetCounter().GetValue())
	assert.Equal(t, 40.0, labelled(rx, "LocalInterface[51000]").GetCounter().GetValue())

	tx := mfs["meshlink_interface_tx_bytes_total"]
	assert.Equal(t, 220.0, labelled(tx, "SharedInstance[37428]").GetCounter().GetValue())

	online := mfs["meshlink_interface_online"]
	assert.Equal(t, 1.0, labelled(online, "SharedInstance[37428]").GetGauge().GetValue())
	assert.Equal(t, 0.0, labelled(online, "LocalInterface[51000]").GetGauge().GetValue())

	clients := mfs["meshlink_shared_instance_clients"]
	require.NotNil(t, clients)
	assert.Len(t, clients.GetMetric(), 1)
	assert.Equal(t, 2.0, labelled(clients, "SharedInstance[37428]").GetGauge().GetValue())
}

func TestCollectorSkipsDuplicateNames(t *testing.T) {
	tr := core.NewTransport()
	tr.Interfaces.Append(&fakeInterface{core.InterfaceStats{Name: "LocalInterface[1]", RxBytes: 1}})
	tr.Interfaces.Append(&fakeInterface{core.InterfaceStats{Name: "LocalInterface[1]", RxBytes: 2}})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(tr, WithNamespace("test"))))

	mfs := gather(t, reg)
	rx := mfs["test_interface_rx_bytes_total"]
	require.NotNil(t, rx)
	assert.Len(t, rx.GetMetric(), 1)
}

func TestRegisterTwiceFails(t *testing.T) {
	tr := core.NewTransport()
	reg := prometheus.NewRegistry()
	_, _, err := Register(tr, WithRegistry(reg))
	require.NoError(t, err)

	_, _, err = Register(tr, WithRegistry(reg))
	assert.Error(t, err)
}

func TestHooksCountAndChain(t *testing.T) {
	tr := core.NewTransport()
	var persisted, exited int
	tr.Hooks.PersistData = func() { persisted++ }
	tr.Hooks.Exit = func() { exited++ }

	reg := prometheus.NewRegistry()
	_, _, err := Register(tr, WithRegistry(reg))
	require.NoError(t, err)

	tr.PersistData()
	tr.PersistData()
	tr.SharedConnectionDisappeared()
	tr.SharedConnectionReappeared()
	tr.Exit()

	assert.Equal(t, 2, persisted)
	assert.Equal(t, 1, exited)

	mfs := gather(t, reg)
	assert.Equal(t, 2.0, mfs["meshlink_persist_requests_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, mfs["meshlink_shared_connection_disappeared_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, mfs["meshlink_shared_connection_reappeared_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 0.0, mfs["meshlink_interface_panics_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestSnapshotSortedAndTotals(t *testing.T) {
	tr := core.NewTransport()
	tr.Interfaces.Append(&fakeInterface{core.InterfaceStats{Name: "b", RxBytes: 3, TxBytes: 5}})
	tr.Interfaces.Append(&fakeInterface{core.InterfaceStats{Name: "a", RxBytes: 7, TxBytes: 11}})

	stats := Snapshot(tr)
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Name)
	assert.Equal(t, "b", stats[1].Name)

	rx, tx := Totals(stats)
	assert.Equal(t, uint64(10), rx)
	assert.Equal(t, uint64(16), tx)
}
