package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagiedev/mcphub"
)

const maxErrorBody = 512

func newLogsCmd() *cobra.Command {
	var (
		endpoint string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "logs SERVER-ID",
		Short: "Print recent log entries of a server from a running hub",
		Long: `Fetches the most recent entries of a server's log ring (stderr lines and
process lifecycle events) from a hub started with 'mcphub serve'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimRight(endpoint, "/") + "/servers/" + url.PathEscape(args[0]) +
				"/logs?limit=" + strconv.Itoa(limit)

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetch logs: %w", err)
			}

			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

				return &mcphub.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			}

			var entries []mcphub.LogEntry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return fmt.Errorf("decode logs: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s %-6s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&endpoint, "endpoint", "http://localhost:8080/mcp", "Base URL of a running hub")
	f.IntVarP(&limit, "limit", "n", 50, "Number of entries to print")

	return cmd
}
