package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(global *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the aggregated tool catalog",
		Long: `Starts every enabled server in scope, lists its tools and prints the
merged catalog. Servers that fail are left out and reported in the log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub, _, err := openHub(cmd, global)
			if err != nil {
				return err
			}

			defer func() { _ = hub.Close() }()

			tools, err := hub.ListTools(cmd.Context(), global.scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")

				return enc.Encode(tools)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")

			for _, t := range tools {
				fmt.Fprintf(tw, "%s\t%s\n", t.Name, firstLine(t.Description))
			}

			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors, including input schemas, as JSON")

	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")

	return line
}
