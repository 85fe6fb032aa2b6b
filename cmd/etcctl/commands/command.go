package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errReceiverRequired is returned when --receiver is missing.
var errReceiverRequired = errors.New("--receiver flag is required")

func commandCmd() *cobra.Command {
	var receiver, cmdName string
	var threshold uint32

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Issue an actuation command toward a sensor",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if receiver == "" {
				return errReceiverRequired
			}

			var resp struct {
				Result string `json:"result"`
			}
			if err := postJSON(context.Background(), "/command", map[string]any{
				"receiver": receiver, "command": cmdName, "threshold": threshold,
			}, &resp); err != nil {
				return fmt.Errorf("command: %w", err)
			}
			fmt.Println(resp.Result)
			return nil
		},
	}

	cmd.Flags().StringVar(&receiver, "receiver", "", "target sensor address, hex \"hi:lo\" (required)")
	cmd.Flags().StringVar(&cmdName, "command", "RESET", "command to send: RESET or THRESHOLD")
	cmd.Flags().Uint32Var(&threshold, "threshold", 0, "new threshold for a THRESHOLD command")
	return cmd
}
