package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the cache with the remote data",
		Long: `Fetch every collection from the remote and replace the cached copy.
Local writes that have not been pushed yet are re-applied and pushed.
On failure the cache is left as it was.`,
		Run: runPull,
	}

	RootCmd.AddCommand(cmd)
}

func runPull(cmd *cobra.Command, args []string) {
	o, _ := openOrchestrator(cmd.Context())

	report, err := o.Refresh(cmd.Context())
	if err != nil && report == nil {
		o.Close()
		exitErr("pull", fmt.Errorf("%w (serving cached data)", err))
	}
	if cerr := o.Close(); cerr != nil {
		exitErr("close", cerr)
	}

	printOut(cmd.OutOrStdout(), report, func(w io.Writer) {
		for _, c := range model.AllCollections {
			if n, ok := report.Records[c]; ok {
				fmt.Fprintf(w, "%-13s %d records\n", c, n)
			}
		}
		for _, c := range report.Absent {
			fmt.Fprintf(w, "%-13s not returned, cache kept\n", c)
		}
		for _, m := range report.Malformed {
			fmt.Fprintf(w, "malformed: %s\n", m)
		}
		for _, tr := range report.Truncated {
			fmt.Fprintf(w, "truncated: %s row %d\n", tr.Collection, tr.Row)
		}
	})
	if err != nil {
		exitErr("pull", err)
	}
}
