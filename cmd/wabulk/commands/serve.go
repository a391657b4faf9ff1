package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabulk/internal/app"
	"wabulk/internal/config"
)

func serveCmd(o *rootOptions) *cobra.Command {
	var (
		addr   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled campaigns until interrupted",
		Long: `serve starts the run queue, the cron scheduler for configured campaigns and
the HTTP API. The config file is watched and applied live; audit store,
sources and timezone changes need a restart. Under systemd (Type=notify)
readiness and the watchdog are reported over NOTIFY_SOCKET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			override := func(c *config.Config) {
				if addr != "" {
					c.HTTP.Addr = addr
				}
				if dryRun {
					c.Channel.Driver = "dryrun"
				}
			}
			b, err := o.bootstrap(cmd, override)
			if err != nil {
				return err
			}
			a, err := b.Build()
			if err != nil {
				_ = b.Close()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			reason := app.StopSIGTERM
			if a.Err() != nil {
				reason = app.StopFatalError
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log sends instead of calling the sidecar")
	return cmd
}
