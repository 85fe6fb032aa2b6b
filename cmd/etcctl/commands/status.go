package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Self          string `json:"self"`
	Role          string `json:"role"`
	Disconnected  bool   `json:"disconnected"`
	CurrentParent string `json:"current_parent"`
	BufferLen     int    `json:"buffer_len"`
	BeaconSeqn    uint16 `json:"beacon_seqn"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this node's protocol status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp statusResponse
			if err := getJSON(context.Background(), "/status", &resp); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out, err := formatStatus(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
