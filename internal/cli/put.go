package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/sanitize"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put <collection> [json]",
		Short: "Create or update records",
		Long: `Create or update records of a collection. The record is a JSON object, or
an array of objects for a bulk write, given as an argument or piped via stdin.
Records without a key get a generated one. The collection is pushed once.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runPut,
	}

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	c, err := model.ParseCollection(args[0])
	if err != nil {
		exitErr("put", err)
	}

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 1 {
		content = strings.Join(args[1:], " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("record is required (positional arg or stdin)"))
	}

	raw, err := parseRows(content)
	if err != nil {
		exitErr("parse json", err)
	}

	s := sanitize.New()
	records := make([]model.Record, 0, len(raw))
	for _, row := range raw {
		records = append(records, s.Record(c, row))
	}

	o, _ := openOrchestrator(cmd.Context())
	saved, err := o.SaveAll(cmd.Context(), c, records)
	if cerr := o.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		exitErr("put", err)
	}

	if len(saved) == 1 {
		printRecord(cmd.OutOrStdout(), saved[0])
		return
	}
	printRecords(cmd.OutOrStdout(), saved)
}

// parseRows accepts a JSON object or an array of objects.
func parseRows(content string) ([]model.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return []model.RawRecord{t}, nil
	case []any:
		out := make([]model.RawRecord, 0, len(t))
		for i, it := range t {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", i)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected an object or an array of objects")
}
