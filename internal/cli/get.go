package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <collection> [key]",
		Short: "Show one cached record",
		Long:  "Show one cached record. The key may be omitted for settings.",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	c, err := model.ParseCollection(args[0])
	if err != nil {
		exitErr("get", err)
	}
	key := model.SettingsKey
	if len(args) > 1 {
		key = args[1]
	} else if !c.Singleton() {
		exitErr("get", errMissingKey)
	}

	o, _ := openOrchestrator(cmd.Context())
	defer o.Close()

	r, err := o.Get(cmd.Context(), c, key)
	if err != nil {
		exitErr("get", err)
	}
	printRecord(cmd.OutOrStdout(), r)
}
