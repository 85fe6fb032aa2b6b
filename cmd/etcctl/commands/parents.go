package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type parentEntry struct {
	ParentAddr string `json:"parent_addr"`
	Seqn       uint16 `json:"seqn"`
	Hopn       uint16 `json:"hopn"`
	RSSI       int8   `json:"rssi"`
}

func parentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parents",
		Short: "List this node's parent-list entries",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp []parentEntry
			if err := getJSON(context.Background(), "/parents", &resp); err != nil {
				return fmt.Errorf("parents: %w", err)
			}

			out, err := formatParents(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format parents: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
