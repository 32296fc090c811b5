package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	ch chan []byte
}

func (c *collected) Inbound(frame []byte, src core.Interface) {
	c.ch <- frame
}

func (c *collected) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relayed frame")
		return nil
	}
}

func startHub(t *testing.T) (*hub, *localif.ServerInterface, *core.Transport) {
	t.Helper()
	tr := core.NewTransport()
	tr.HeaderMinSize = 0
	h := newHub(tr)
	srv := localif.NewServer(h, tr)
	h.server = srv
	require.NoError(t, srv.Start("127.0.0.1", 0))
	tr.Interfaces.Append(srv)
	t.Cleanup(func() {
		srv.Close()
		tr.DetachInterfaces()
	})
	return h, srv, tr
}

func attachClient(t *testing.T, srv *localif.ServerInterface) (*localif.ClientInterface, *collected) {
	t.Helper()
	tr := core.NewTransport()
	tr.HeaderMinSize = 0
	sink := &collected{ch: make(chan []byte, 16)}
	cli, err := localif.ConnectShared(sink, tr, "127.0.0.1", srv.Port())
	require.NoError(t, err)
	t.Cleanup(cli.Detach)
	return cli, sink
}

func TestHubRelaysToOtherClients(t *testing.T) {
	_, srv, tr := startHub(t)
	a, aSink := attachClient(t, srv)
	_, bSink := attachClient(t, srv)
	_, cSink := attachClient(t, srv)
	require.Eventually(t, func() bool { return tr.LocalClients.Len() == 3 }, 3*time.Second, 5*time.Millisecond)

	announce := []byte{0x01, 0x00, 'p', 'a', 't', 'h'}
	a.Send(announce)

	assert.Equal(t, announce, bSink.next(t))
	assert.Equal(t, announce, cSink.next(t))
	select {
	case f := <-aSink.ch:
		t.Fatalf("sender received its own frame %q", f)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Len(t, srv.InboundAnnounceTimes(), 1)
	assert.Len(t, srv.OutboundAnnounceTimes(), 2)
}

func TestHubIgnoresNonAnnounceForAnnounceTimes(t *testing.T) {
	_, srv, tr := startHub(t)
	a, _ := attachClient(t, srv)
	_, bSink := attachClient(t, srv)
	require.Eventually(t, func() bool { return tr.LocalClients.Len() == 2 }, 3*time.Second, 5*time.Millisecond)

	data := []byte{0x00, 0x00, 'd', 'a', 't', 'a'}
	a.Send(data)

	assert.Equal(t, data, bSink.next(t))
	assert.Empty(t, srv.InboundAnnounceTimes())
	assert.Empty(t, srv.OutboundAnnounceTimes())
}

func TestIsAnnounce(t *testing.T) {
	assert.True(t, isAnnounce([]byte{0x01, 0x00}))
	assert.True(t, isAnnounce([]byte{0x41, 0x07, 0xff}))
	assert.False(t, isAnnounce([]byte{0x02, 0x00}))
	assert.False(t, isAnnounce([]byte{0x01}))
}

func TestHealthHandler(t *testing.T) {
	tr := core.NewTransport()
	reg := prometheus.NewRegistry()
	_, _, err := metrics.Register(tr, metrics.WithRegistry(reg))
	require.NoError(t, err)
	mux := newHealthMux(tr, reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv := localif.NewServer(core.OwnerFunc(func([]byte, core.Interface) {}), tr)
	require.NoError(t, srv.Start("127.0.0.1", 0))
	defer srv.Close()
	tr.Interfaces.Append(srv)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, 1, st.Interfaces)
	assert.Equal(t, 1, st.Online)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `meshlink_interface_online{interface="`+srv.String()+`"} 1`)
}

func TestFormatSnapshot(t *testing.T) {
	snap := metricsSnapshot{
		Timestamp: "2024-05-01T12:00:00Z",
		Total:     map[string]uint64{"interfaces": 2, "local_clients": 1, "bytes_recv": 10, "bytes_sent": 20},
		Interfaces: []ifaceSnapshot{
			{Name: "LocalInterface[51000]", Online: false, Rx: 4, Tx: 6},
			{Name: "SharedInstance[37428]", Online: true, Rx: 6, Tx: 14, Clients: 1},
		},
		RT:  map[string]uint64{},
		Srv: map[string]uint64{},
	}

	text := formatSnapshot(snap, "text")
	assert.Contains(t, text, "total: ifaces=2 clients=1 recv=10 sent=20")
	assert.Contains(t, text, "LocalInterface[51000] down rx=4 tx=6")
	assert.Contains(t, text, "SharedInstance[37428] up rx=6 tx=14 clients=1")

	var decoded metricsSnapshot
	require.NoError(t, json.Unmarshal([]byte(formatSnapshot(snap, "json")), &decoded))
	assert.Equal(t, snap.Interfaces, decoded.Interfaces)
}

func TestTakeSnapshot(t *testing.T) {
	tr := core.NewTransport()
	srv := localif.NewServer(core.OwnerFunc(func([]byte, core.Interface) {}), tr)
	tr.Interfaces.Append(srv)

	snap := takeSnapshot(tr)

	assert.Equal(t, uint64(1), snap.Total["interfaces"])
	require.Len(t, snap.Interfaces, 1)
	assert.Equal(t, srv.String(), snap.Interfaces[0].Name)
	assert.NotZero(t, snap.RT["goroutines"])
}

type recordingInterface struct {
	core.Interface
	sent [][]byte
}

func (r *recordingInterface) Send(frame []byte) { r.sent = append(r.sent, frame) }

func TestPumpLines(t *testing.T) {
	dst := &recordingInterface{}
	require.NoError(t, pumpLines(strings.NewReader("first line\n\nsecond line\n"), dst, false))
	assert.Equal(t, [][]byte{[]byte("first line"), []byte("second line")}, dst.sent)

	dst = &recordingInterface{}
	require.NoError(t, pumpLines(strings.NewReader("7e7d\nzz\n0102\n"), dst, true))
	assert.Equal(t, [][]byte{{0x7e, 0x7d}, {0x01, 0x02}}, dst.sent)
}

func TestFramePrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &framePrinter{w: &buf}
	p.Inbound([]byte("hello"), nil)

	hp := &framePrinter{w: &buf, hex: true}
	hp.Inbound([]byte{0x7e, 0x01}, nil)

	assert.Equal(t, "hello\n7e01\n", buf.String())
}
