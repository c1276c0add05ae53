package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
)

var errMissingKey = errors.New("key is required")

func init() {
	cmd := &cobra.Command{
		Use:   "rm <collection> <key>",
		Short: "Delete a record",
		Long:  "Delete a record from the cache and push the collection. The administrator account and settings cannot be deleted.",
		Args:  cobra.ExactArgs(2),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	c, err := model.ParseCollection(args[0])
	if err != nil {
		exitErr("rm", err)
	}
	key := args[1]
	if key == "" {
		exitErr("rm", errMissingKey)
	}

	o, _ := openOrchestrator(cmd.Context())
	removed, err := o.Delete(cmd.Context(), c, key)
	o.Close()
	if err != nil {
		exitErr("rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"collection":%q,"key":%q,"removed":%t}`+"\n", c, key, removed)
}
