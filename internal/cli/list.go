package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List cached records of a collection",
		Args:  cobra.ExactArgs(1),
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (0: all)")
	cmd.Flags().Bool("keys-only", false, "Only output keys")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	c, err := model.ParseCollection(args[0])
	if err != nil {
		exitErr("list", err)
	}

	o, _ := openOrchestrator(cmd.Context())
	defer o.Close()

	records, err := o.List(cmd.Context(), c)
	if err != nil {
		exitErr("list", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if keysOnly {
		for _, r := range records {
			fmt.Fprintln(cmd.OutOrStdout(), r.Key())
		}
		return
	}
	printRecords(cmd.OutOrStdout(), records)
}

// parseCollections resolves collection names; none means all.
func parseCollections(names []string) ([]model.Collection, error) {
	if len(names) == 0 {
		return model.AllCollections, nil
	}
	out := make([]model.Collection, 0, len(names))
	for _, n := range names {
		c, err := model.ParseCollection(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
