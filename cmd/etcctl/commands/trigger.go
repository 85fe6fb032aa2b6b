package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func triggerCmd() *cobra.Command {
	var value, threshold uint32

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger an ETC event at this node",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Result string `json:"result"`
			}
			if err := postJSON(context.Background(), "/trigger", map[string]uint32{
				"value": value, "threshold": threshold,
			}, &resp); err != nil {
				return fmt.Errorf("trigger: %w", err)
			}
			fmt.Println(resp.Result)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&value, "value", 0, "sensor reading value")
	cmd.Flags().Uint32Var(&threshold, "threshold", 0, "sensor threshold at trigger time")
	return cmd
}
