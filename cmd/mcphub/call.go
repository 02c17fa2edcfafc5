package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call NAME [JSON-ARGS]",
		Short: "Call one tool and print its text output",
		Example: `  mcphub call mcp__echo_mcp__ping
  mcphub call mcp__search__query '{"q":"golang"}'
  mcphub call hub_list_servers`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage

			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[1])
				}

				raw = json.RawMessage(args[1])
			}

			hub, _, err := openHub(cmd, global)
			if err != nil {
				return err
			}

			defer func() { _ = hub.Close() }()

			result := hub.CallTool(cmd.Context(), args[0], raw, global.scope)

			fmt.Fprintln(cmd.OutOrStdout(), result.Text)

			if result.IsError {
				return fmt.Errorf("tool %s returned an error", args[0])
			}

			return nil
		},
	}
}
