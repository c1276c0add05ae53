package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Run:   runConfig,
	}

	RootCmd.AddCommand(cmd)
}

func runConfig(cmd *cobra.Command, args []string) {
	printOut(cmd.OutOrStdout(), cfg, func(w io.Writer) {
		if f := v.ConfigFileUsed(); f != "" {
			fmt.Fprintf(w, "config file: %s\n", f)
		}
		fmt.Fprintf(w, "endpoint:    %s\n", cfg.Endpoint)
		fmt.Fprintf(w, "db:          %s\n", cfg.DB)
		fmt.Fprintf(w, "chunk_limit: %d\n", cfg.ChunkLimit)
		fmt.Fprintf(w, "timeout:     %s\n", cfg.Timeout)
		fmt.Fprintf(w, "retries:     %d\n", cfg.Retry.MaxAttempts)
		fmt.Fprintf(w, "log level:   %s\n", cfg.Log.Level)
	})
}
