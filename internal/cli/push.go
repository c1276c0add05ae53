package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/syncer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "push [collection...]",
		Short: "Push cached collections to the remote",
		Long:  "Overwrite the remote copy of the named collections (default: all) with the cache.",
		Run:   runPush,
	}

	RootCmd.AddCommand(cmd)
}

func runPush(cmd *cobra.Command, args []string) {
	cols, err := parseCollections(args)
	if err != nil {
		exitErr("push", err)
	}

	o, _ := openOrchestrator(cmd.Context())
	var errs []error
	for _, c := range cols {
		if err := o.Push(cmd.Context(), c); err != nil {
			errs = append(errs, err)
		}
	}
	statuses := make([]syncer.LaneStatus, 0, len(cols))
	for _, c := range cols {
		st, _ := o.Status(c)
		statuses = append(statuses, st)
	}
	o.Close()

	printOut(cmd.OutOrStdout(), statuses, func(w io.Writer) {
		printStatusText(w, statuses)
	})
	if err := errors.Join(errs...); err != nil {
		exitErr("push", err)
	}
}

func printStatusText(w io.Writer, statuses []syncer.LaneStatus) {
	for _, st := range statuses {
		line := fmt.Sprintf("%-13s %-8s pending=%d", st.Collection, st.State, st.PendingWrites)
		if st.Degraded {
			line += " degraded"
		}
		if st.LastError != "" {
			line += " error=" + st.LastError
		}
		fmt.Fprintln(w, line)
	}
}
