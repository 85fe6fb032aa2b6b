package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type forwardHop struct {
	Hop      string `json:"hop"`
	Distance uint8  `json:"distance"`
}

func forwardTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward-table",
		Short: "List this node's reverse-path forward table",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp map[string][]forwardHop
			if err := getJSON(context.Background(), "/forward-table", &resp); err != nil {
				return fmt.Errorf("forward-table: %w", err)
			}

			out, err := formatForwardTable(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format forward table: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
