package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagiedev/mcphub"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	scope      string
	logLevel   string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "mcphub",
		Short: "Aggregate MCP servers behind one MCP endpoint",
		Long: `mcphub starts the MCP servers named in a YAML file (or connects to remote
ones), merges their tools under namespaced names of the form
mcp__{server}__{tool}, and serves the result, together with its own tools,
to outside MCP clients over HTTP and SSE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       mcphub.Version,
	}

	cmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "servers.yaml", "Server configuration file")
	pf.StringVar(&flags.scope, "scope", "", "Limit servers to one scope (default: every scope)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout for MCP calls (default 60s)")

	cmd.AddCommand(
		newServeCmd(flags),
		newToolsCmd(flags),
		newCallCmd(flags),
		newLogsCmd(),
		newVersionCmd(),
	)

	return cmd
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// openHub loads the configuration file and creates a hub over it.
func openHub(cmd *cobra.Command, flags *globalFlags, extra ...mcphub.Option) (*mcphub.Hub, *mcphub.FileStore, error) {
	log, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
	if err != nil {
		return nil, nil, err
	}

	store, err := mcphub.LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	opts := append([]mcphub.Option{
		mcphub.WithLogger(log),
		mcphub.WithConfigStore(store),
		mcphub.WithCallTimeout(flags.timeout),
		mcphub.WithServerInfo("mcphub", mcphub.Version),
	}, extra...)

	hub, err := mcphub.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	return hub, store, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcphub",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcphub version %s\n", mcphub.Version)
		},
	}
}
