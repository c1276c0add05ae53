package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export [collection...]",
		Short: "Export cached records as JSON",
		Long:  "Export cached collections (default: all) as JSON, in the format read by import.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cols, err := parseCollections(args)
	if err != nil {
		exitErr("export", err)
	}

	o, _ := openOrchestrator(cmd.Context())
	defer o.Close()

	exp, err := o.Export(cmd.Context(), cols...)
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(exp, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
