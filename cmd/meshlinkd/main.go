package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/irctrakz/meshlink/pkg/config"
	"github.com/irctrakz/meshlink/pkg/core"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

var (
	configPath string
	debugFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshlinkd",
		Short: "Shared instance daemon for local mesh interfaces",
		Long: `meshlinkd hosts a shared instance that local programs attach to over
loopback TCP, or attaches to one as a client.

Frames are HDLC delimited. Every attached client receives the frames sent
by the others.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .yaml, .yml or .json config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		serveCmd(),
		attachCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration from defaults, the config file, the
// environment and the --debug flag, in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		if err := config.LoadFromFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	// DEBUG is accepted as a shorthand for the log level.
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if debugFlag || dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT, SIGTERM or cancel.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	return ctx, func() {
		cancel()
		stop()
	}
}

// newTransport creates the transport for a daemon run. Losing the shared
// instance for good cancels the run through exit.
func newTransport(cfg *config.Config, exit context.CancelFunc) *core.Transport {
	t := core.NewTransport()
	cfg.ApplyTransport(t)
	t.Hooks = core.Hooks{
		SharedConnectionDisappeared: func() {
			logging.Warnf("Lost connection to the shared instance")
		},
		SharedConnectionReappeared: func() {
			logging.Infof("Connection to the shared instance is back")
		},
		PersistData: func() {
			logging.Debugf("Local client left, %d still attached", t.LocalClients.Len())
		},
		Exit: func() {
			exit()
		},
		Panic: func() {
			logging.Fatalf("Aborting after an unrecoverable interface error")
		},
	}
	return t
}
