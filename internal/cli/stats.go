package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	o, cache := openOrchestrator(cmd.Context())
	defer o.Close()

	stats, err := cache.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printOut(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%d bytes)\n", stats.DBPath, stats.DBSizeBytes)
		for _, cs := range stats.Collections {
			fmt.Fprintf(w, "%-13s %6d records %9d bytes\n", cs.Collection, cs.Records, cs.BlobBytes)
		}
	})
}
