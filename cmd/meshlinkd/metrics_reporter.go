package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/irctrakz/meshlink/pkg/metrics"
)

type metricsSnapshot struct {
	Timestamp  string            `json:"ts"`
	Total      map[string]uint64 `json:"total"`
	Interfaces []ifaceSnapshot   `json:"interfaces"`
	RT         map[string]uint64 `json:"rt"`
	Srv        map[string]uint64 `json:"srv_limits"`
}

type ifaceSnapshot struct {
	Name    string `json:"name"`
	Online  bool   `json:"online"`
	Rx      uint64 `json:"rx"`
	Tx      uint64 `json:"tx"`
	Clients int    `json:"clients,omitempty"`
}

func runMetricsReporter(ctx context.Context, t *core.Transport, d time.Duration, format string) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "text"
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		logging.Infof("metrics: %s", formatSnapshot(takeSnapshot(t), format))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func takeSnapshot(t *core.Transport) metricsSnapshot {
	stats := metrics.Snapshot(t)
	rx, tx := metrics.Totals(stats)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Total: map[string]uint64{
			"interfaces":    uint64(len(stats)),
			"local_clients": uint64(t.LocalClients.Len()),
			"bytes_recv":    rx,
			"bytes_sent":    tx,
		},
		Interfaces: make([]ifaceSnapshot, 0, len(stats)),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
		Srv: buildServerLimits(),
	}
	for _, st := range stats {
		snap.Interfaces = append(snap.Interfaces, ifaceSnapshot{
			Name:    st.Name,
			Online:  st.Online,
			Rx:      st.RxBytes,
			Tx:      st.TxBytes,
			Clients: st.Clients,
		})
	}
	return snap
}

func formatSnapshot(snap metricsSnapshot, format string) string {
	if format == "json" {
		b, _ := json.Marshal(snap)
		return string(b)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ts=%s total: ifaces=%d clients=%d recv=%d sent=%d",
		snap.Timestamp,
		snap.Total["interfaces"], snap.Total["local_clients"],
		snap.Total["bytes_recv"], snap.Total["bytes_sent"])
	for _, i := range snap.Interfaces {
		state := "up"
		if !i.Online {
			state = "down"
		}
		fmt.Fprintf(&sb, " | %s %s rx=%d tx=%d", i.Name, state, i.Rx, i.Tx)
		if i.Clients > 0 {
			fmt.Fprintf(&sb, " clients=%d", i.Clients)
		}
	}
	fmt.Fprintf(&sb, " | srv: fds=%d/%d | rt: heap=%dMi inuse=%dMi gor=%d gc=%d",
		snap.Srv["open_fds"], snap.Srv["nofile_soft"],
		snap.RT["heap_alloc"]/(1024*1024), snap.RT["heap_inuse"]/(1024*1024),
		snap.RT["goroutines"], snap.RT["num_gc"])
	return sb.String()
}

// buildServerLimits collects best-effort file descriptor usage. Every local
// client holds one descriptor.
func buildServerLimits() map[string]uint64 {
	out := map[string]uint64{}
	if soft, hard, ok := nofileLimit(); ok {
		out["nofile_soft"] = soft
		out["nofile_hard"] = hard
	}
	if ents, err := os.ReadDir("/proc/self/fd"); err == nil {
		out["open_fds"] = uint64(len(ents))
		if soft, ok := out["nofile_soft"]; ok && soft > 0 {
			out["fd_util_pct"] = (out["open_fds"] * 100) / soft
		}
	}
	return out
}
