package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/mcphub"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	listen    string
	basePath  string
	publicURL string
	metrics   bool
	watch     bool
}

func newServeCmd(global *globalFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the aggregated tools over HTTP",
		Long: `Serves the aggregated tools as an MCP endpoint:

  POST {base}/messages               one JSON-RPC request per POST
  GET  {base}/sse                    SSE session; responses arrive as events
  GET  {base}/servers/{id}/logs      recent log entries of one server
  GET  /metrics                      Prometheus metrics (unless --metrics=false)

The configuration file is watched; servers whose entry changes are restarted
on their next use. Every server process is stopped on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, global, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.listen, "listen", "l", ":8080", "Address to listen on")
	f.StringVar(&flags.basePath, "base", "/mcp", "Path prefix of the MCP endpoint")
	f.StringVar(&flags.publicURL, "public-url", "", "Scheme and host advertised to SSE clients")
	f.BoolVar(&flags.metrics, "metrics", true, "Serve Prometheus metrics on /metrics")
	f.BoolVar(&flags.watch, "watch", true, "Reload the configuration file when it changes")

	return cmd
}

func runServe(cmd *cobra.Command, global *globalFlags, flags *serveFlags) error {
	ctx := cmd.Context()

	opts := []mcphub.Option{
		mcphub.WithBasePath(flags.basePath),
		mcphub.WithPublicURL(flags.publicURL),
	}

	reg := mcphub.NewMetricsRegistry()
	if flags.metrics {
		opts = append(opts, mcphub.WithMetricsRegisterer(reg))
	}

	hub, store, err := openHub(cmd, global, opts...)
	if err != nil {
		return err
	}

	defer func() { _ = hub.Close() }()

	log, _ := newLogger(cmd.ErrOrStderr(), global.logLevel)
	log = log.With("component", "serve")

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler())

	if flags.metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	srv := &http.Server{
		Addr:              flags.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Serving MCP endpoint", "listen", flags.listen, "base", flags.basePath)
		fmt.Fprintf(cmd.OutOrStdout(), "mcphub listening on %s%s\n", flags.listen, flags.basePath)

		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	})

	if flags.watch {
		g.Go(func() error {
			return hub.WatchConfig(gctx, store)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutting down")

		// SSE streams never finish on their own; end them before draining.
		_ = hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown did not complete", "error", err)
		}

		return nil
	})

	return g.Wait()
}
