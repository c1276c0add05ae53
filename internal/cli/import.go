package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import records from JSON",
		Long:  "Import records from JSON (file or stdin). Expects the format produced by export. Existing records with the same key are replaced.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var exp store.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		exitErr("parse json", err)
	}

	o, _ := openOrchestrator(cmd.Context())
	imported, err := o.Import(cmd.Context(), &exp)
	o.Close()
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", imported)
}
