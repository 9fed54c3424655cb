package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/api"
	"github.com/rcliao/netpulse/internal/tracker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP daemon",
		Long: "Serve event ingestion, per-tab records, notifications and AI analysis over HTTP. " +
			"Stops gracefully on SIGINT or SIGTERM.",
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("debug", false, "Run gin in debug mode")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	debug, _ := cmd.Flags().GetBool("debug")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetContext(ctx)

	bc := tracker.NewBroadcaster()
	return withApp(cmd, bc, func(a *app) error {
		return serve(ctx, a, bc, addr, debug)
	})
}

func serve(ctx context.Context, a *app, bc *tracker.Broadcaster, addr string, debug bool) error {
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := api.NewServer(addr, api.Deps{
		Tracker:     a.tracker,
		Broadcaster: bc,
		Domains:     a.domains,
		Cache:       a.cache,
		Client:      a.client,
		AI:          a.cfg.AI,
		Gatherer:    a.registry,
		Logger:      a.logger.Named("api"),
	}, debug)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		if err := srv.Shutdown(context.Background(), a.cfg.Server.ShutdownTimeout); err != nil {
			a.logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
	}
	return nil
}
