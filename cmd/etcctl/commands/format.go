package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatStatus(s statusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(s)
	case formatTable:
		return formatStatusTable(s)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatParents(entries []parentEntry, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(entries)
	case formatTable:
		return formatParentsTable(entries)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatForwardTable(table map[string][]forwardHop, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(table)
	case formatTable:
		return formatForwardTableTable(table)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

func formatStatusTable(s statusResponse) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Self:\t%s\n", s.Self)
	fmt.Fprintf(w, "Role:\t%s\n", s.Role)
	fmt.Fprintf(w, "Disconnected:\t%t\n", s.Disconnected)
	fmt.Fprintf(w, "Current Parent:\t%s\n", s.CurrentParent)
	fmt.Fprintf(w, "Buffer Length:\t%d\n", s.BufferLen)
	fmt.Fprintf(w, "Beacon Seqn:\t%d\n", s.BeaconSeqn)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatParentsTable(entries []parentEntry) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARENT\tSEQN\tHOPN\tRSSI")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", e.ParentAddr, e.Seqn, e.Hopn, e.RSSI)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatForwardTableTable(table map[string][]forwardHop) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tHOP\tDISTANCE")

	for src, hops := range table {
		for _, h := range hops {
			fmt.Fprintf(w, "%s\t%s\t%d\n", src, h.Hop, h.Distance)
		}
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
