// Command stress_local pushes frames from many local clients through a
// shared instance and reports throughput and losses.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/irctrakz/meshlink/pkg/metrics"
	"github.com/spf13/cobra"
)

type stressConfig struct {
	clients  int
	perConn  int
	size     int
	bitrate  int64
	throttle bool
	settle   time.Duration
}

type stressResult struct {
	sendDur   time.Duration
	sent      uint64
	received  uint64
	rxBytes   uint64
	txBytes   uint64
	serverRx  uint64
	peakConns int
}

func main() {
	var cfg stressConfig
	cmd := &cobra.Command{
		Use:           "stress_local",
		Short:         "Load test the shared instance local interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Quieter logs by default
			logging.SetLevel(logging.WarnLevel)

			res, err := runStress(cfg)
			if err != nil {
				return err
			}
			printSummary(cfg, res)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.clients, "clients", 8, "number of attached clients")
	f.IntVar(&cfg.perConn, "per", 2000, "frames sent by each client")
	f.IntVar(&cfg.size, "size", 512, "frame size (bytes)")
	f.Int64Var(&cfg.bitrate, "bitrate", localif.DefaultBitrate, "nominal link speed in bits per second")
	f.BoolVar(&cfg.throttle, "throttle", false, "throttle sends to the bitrate")
	f.DurationVar(&cfg.settle, "settle", 2*time.Second, "time to wait for in-flight frames")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runStress(cfg stressConfig) (stressResult, error) {
	var res stressResult
	if cfg.size <= core.DefaultHeaderMinSize {
		cfg.size = core.DefaultHeaderMinSize + 1
	}
	if cfg.size > localif.HardwareMTU {
		cfg.size = localif.HardwareMTU
	}

	var received atomic.Uint64
	sink := core.OwnerFunc(func(frame []byte, src core.Interface) { received.Add(1) })

	serverT := core.NewTransport()
	opts := []localif.Option{localif.WithBitrate(cfg.bitrate), localif.WithForceBitrate(cfg.throttle)}
	srv := localif.NewServer(sink, serverT, opts...)
	if err := srv.Start("127.0.0.1", 0); err != nil {
		return res, err
	}
	defer srv.Close()
	serverT.Interfaces.Append(srv)

	clients := make([]*localif.ClientInterface, 0, cfg.clients)
	clientT := make([]*core.Transport, 0, cfg.clients)
	for i := 0; i < cfg.clients; i++ {
		t := core.NewTransport()
		c, err := localif.ConnectShared(core.OwnerFunc(func([]byte, core.Interface) {}), t, "127.0.0.1", srv.Port(), opts...)
		if err != nil {
			return res, err
		}
		clients = append(clients, c)
		clientT = append(clientT, t)
	}
	defer func() {
		for _, t := range clientT {
			t.DetachInterfaces()
		}
		serverT.DetachInterfaces()
	}()

	payload := make([]byte, cfg.size)
	_, _ = rand.Read(payload)

	var wg sync.WaitGroup
	start := time.Now()
	for _, c := range clients {
		wg.Add(1)
		go func(c *localif.ClientInterface) {
			defer wg.Done()
			for j := 0; j < cfg.perConn; j++ {
				c.Send(payload)
			}
		}(c)
	}
	wg.Wait()
	res.sendDur = time.Since(start)
	res.sent = uint64(cfg.clients * cfg.perConn)
	res.peakConns = srv.Clients()

	deadline := time.Now().Add(cfg.settle)
	for received.Load() < res.sent && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	res.received = received.Load()
	for _, t := range clientT {
		_, tx := metrics.Totals(metrics.Snapshot(t))
		res.txBytes += tx
	}
	res.serverRx = srv.RxBytes()
	rx, _ := metrics.Totals(metrics.Snapshot(serverT))
	res.rxBytes = rx - res.serverRx
	return res, nil
}

func printSummary(cfg stressConfig, res stressResult) {
	secs := res.sendDur.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	fmt.Printf("Send duration: %v (%d clients x %d frames of %d bytes)\n", res.sendDur, cfg.clients, cfg.perConn, cfg.size)
	fmt.Printf("Frames: sent=%d received=%d lost=%d\n", res.sent, res.received, res.sent-min(res.sent, res.received))
	fmt.Printf("Bytes: client_tx=%d server_rx=%d spawned_rx=%d\n", res.txBytes, res.serverRx, res.rxBytes)
	fmt.Printf("Throughput: %.0f frames/s %.2f MiB/s encoded\n", float64(res.sent)/secs, float64(res.txBytes)/secs/(1024*1024))
	fmt.Printf("Peak clients: %d\n", res.peakConns)

	if res.received < res.sent {
		fmt.Println("WARN: not all frames arrived; increase settle or check for teardown errors")
	}
	if res.serverRx != uint64(cfg.size)*res.received {
		fmt.Println("ERROR: server rx counter does not match delivered frames")
	}
}
