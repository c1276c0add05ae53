package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search cached records",
		Long: `Search cached records for matching text, optionally restricted by exact
field filters, e.g. students of a grade:

  senja-sync search -C roster -w classGrade=3`,
		Run: runSearch,
	}

	cmd.Flags().StringP("collection", "C", "", "Restrict to one collection")
	cmd.Flags().StringToStringP("where", "w", nil, "Exact field filter, field=value (repeatable)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	colName, _ := cmd.Flags().GetString("collection")
	where, _ := cmd.Flags().GetStringToString("where")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	if query == "" && len(where) == 0 {
		exitErr("search", fmt.Errorf("a query or at least one --where filter is required"))
	}

	var c model.Collection
	if colName != "" {
		var err error
		if c, err = model.ParseCollection(colName); err != nil {
			exitErr("search", err)
		}
	}

	o, _ := openOrchestrator(cmd.Context())
	defer o.Close()

	results, err := o.Search(cmd.Context(), store.SearchParams{
		Collection: c,
		Query:      query,
		Where:      where,
		Limit:      limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	type hit struct {
		Collection model.Collection `json:"collection" yaml:"collection"`
		Key        string           `json:"key" yaml:"key"`
		MatchField string           `json:"match_field,omitempty" yaml:"match_field,omitempty"`
		Record     model.RawRecord  `json:"record" yaml:"record"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{r.Collection, r.Key, r.MatchField, r.Record.Flatten()})
	}
	printOut(cmd.OutOrStdout(), hits, func(w io.Writer) {
		for _, h := range hits {
			fmt.Fprintf(w, "%s/%s %s\n", h.Collection, h.Key, textLine(h.Record))
		}
	})
}
