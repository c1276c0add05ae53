package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of every collection",
		Long:  "Show the sync state of every collection. With --check the remote is pulled first, which reports whether it is reachable.",
		Run:   runStatus,
	}

	cmd.Flags().Bool("check", false, "Pull from the remote before reporting")

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	check, _ := cmd.Flags().GetBool("check")

	o, _ := openOrchestrator(cmd.Context())
	defer o.Close()

	if check {
		// A failed pull shows up as degraded lanes below.
		o.Refresh(cmd.Context())
	}
	statuses := o.Statuses()
	printOut(cmd.OutOrStdout(), statuses, func(w io.Writer) {
		printStatusText(w, statuses)
	})
}
