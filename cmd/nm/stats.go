package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/stats"
	"golang.org/x/term"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show content and ticket counts",
		Long:  "Prints ticket counts per kind and status. Output is a table on a terminal and tab-separated otherwise.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath, asJSON)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, configPath string, asJSON bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	snap, err := stats.Build(gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"network": cfg.Network, "snapshot": snap})
	case isTerminal(out):
		printStatsTable(out, cfg.Network, snap)
	default:
		printStatsTSV(out, snap)
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printStatsTable(out io.Writer, network string, snap *stats.Snapshot) {
	fmt.Fprintf(out, "Network: %s\n", network)
	fmt.Fprintf(out, "Content items: %d\n\n", snap.ContentTotal)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tTOTAL\tPENDING\tSUCCESS\tFAILURE")
	for _, ks := range snap.Kinds {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", ks.Title, ks.Total, ks.Pending, ks.Success, ks.Failure)
	}
	w.Flush()
}

func printStatsTSV(out io.Writer, snap *stats.Snapshot) {
	fmt.Fprintf(out, "content\t%d\n", snap.ContentTotal)
	for _, ks := range snap.Kinds {
		fmt.Fprintf(out, "%s\t%d\t%d\t%d\t%d\n", ks.Kind, ks.Total, ks.Pending, ks.Success, ks.Failure)
	}
}
