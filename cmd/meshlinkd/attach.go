package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func attachCmd() *cobra.Command {
	var (
		host    string
		port    int
		hexMode bool
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a shared instance and exchange frames over stdio",
		Long: `Connect to a shared instance, send every stdin line as one frame and
print every received frame on its own line. Frames no longer than the
configured header minimum size are dropped by the receiving side.

The connection is re-established automatically if the shared instance
restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return oops.Wrapf(err, "failed to load config")
			}
			if cmd.Flags().Changed("host") {
				cfg.SharedInstance.BindHost = host
			}
			if cmd.Flags().Changed("port") {
				cfg.SharedInstance.Port = port
			}
			// Frames go to stdout, logs to stderr.
			logging.SetOutput(os.Stderr)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			t := newTransport(cfg, cancel)
			out := &framePrinter{w: cmd.OutOrStdout(), hex: hexMode}
			cli, err := localif.ConnectShared(out, t, cfg.SharedInstance.BindHost, cfg.SharedInstance.Port, cfg.InterfaceOptions()...)
			if err != nil {
				return err
			}
			logging.Infof("Attached to shared instance through %s", cli)

			go func() {
				if err := pumpLines(cmd.InOrStdin(), cli, hexMode); err != nil {
					logging.Warnf("Reading input: %v", err)
				}
				cancel()
			}()

			<-ctx.Done()
			t.DetachInterfaces()
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Shared instance address")
	cmd.Flags().IntVar(&port, "port", 37428, "Shared instance port")
	cmd.Flags().BoolVar(&hexMode, "hex", false, "Read and print frames as hex")
	return cmd
}

// framePrinter writes each inbound frame as one line.
type framePrinter struct {
	mu  sync.Mutex
	w   io.Writer
	hex bool
}

// Inbound implements core.Owner.
func (p *framePrinter) Inbound(frame []byte, src core.Interface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hex {
		fmt.Fprintln(p.w, hex.EncodeToString(frame))
		return
	}
	fmt.Fprintf(p.w, "%s\n", frame)
}

// pumpLines sends each line of r as a frame until r is exhausted.
func pumpLines(r io.Reader, dst core.Interface, hexMode bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), localif.HardwareMTU)
	for sc.Scan() {
		line := sc.Bytes()
		if hexMode {
			b, err := hex.DecodeString(string(line))
			if err != nil {
				logging.Warnf("Skipping malformed hex line: %v", err)
				continue
			}
			line = b
		} else {
			line = append([]byte(nil), line...)
		}
		if len(line) == 0 {
			continue
		}
		dst.Send(line)
	}
	return sc.Err()
}
