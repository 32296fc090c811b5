package main

import (
	"github.com/irctrakz/meshlink/pkg/localif"
	"github.com/irctrakz/meshlink/pkg/logging"
	"github.com/irctrakz/meshlink/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		bindHost string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a shared instance",
		Long:  "Listen for local clients and relay frames between them until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return oops.Wrapf(err, "failed to load config")
			}
			if cmd.Flags().Changed("bind") {
				cfg.SharedInstance.BindHost = bindHost
			}
			if cmd.Flags().Changed("port") {
				cfg.SharedInstance.Port = port
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			t := newTransport(cfg, cancel)
			reg := prometheus.NewRegistry()
			if _, _, err := metrics.Register(t, metrics.WithRegistry(reg)); err != nil {
				return err
			}

			h := newHub(t)
			srv := localif.NewServer(h, t, cfg.InterfaceOptions()...)
			h.server = srv
			if err := srv.Start(cfg.SharedInstance.BindHost, cfg.SharedInstance.Port); err != nil {
				return err
			}
			t.Interfaces.Append(srv)

			startObservability(ctx, cfg, t, reg)

			<-ctx.Done()
			logging.Infof("Shutting down %s", srv)
			if err := srv.Close(); err != nil {
				logging.Warnf("%v", err)
			}
			t.Interfaces.Remove(srv)
			n := t.DetachInterfaces()
			logging.Infof("Detached %d local clients", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&bindHost, "bind", "127.0.0.1", "Address to listen on")
	cmd.Flags().IntVar(&port, "port", 37428, "Shared instance port")
	return cmd
}
