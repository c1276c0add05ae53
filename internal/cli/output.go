package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/senja-sync/internal/model"
)

// printOut writes v in the selected --format. text renders the text form;
// when nil, text output falls back to JSON.
func printOut(w io.Writer, v any, text func(w io.Writer)) {
	switch formatFlag {
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			exitErr("encode yaml", err)
		}
		fmt.Fprint(w, string(b))
	case "text":
		if text != nil {
			text(w)
			return
		}
		fallthrough
	default:
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(b))
	}
}

// rows flattens records so that every format shows wire field names.
func rows(records []model.Record) []model.RawRecord {
	out := make([]model.RawRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r.Flatten())
	}
	return out
}

func printRecords(w io.Writer, records []model.Record) {
	printOut(w, rows(records), func(w io.Writer) {
		for _, r := range records {
			fmt.Fprintln(w, textLine(r.Flatten()))
		}
	})
}

func printRecord(w io.Writer, r model.Record) {
	printOut(w, r.Flatten(), func(w io.Writer) {
		fmt.Fprintln(w, textLine(r.Flatten()))
	})
}

// textLine renders a row as sorted key=value pairs. Long values are
// shortened.
func textLine(row model.RawRecord) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s := model.Stringify(row[k])
		if r := []rune(s); len(r) > 60 {
			s = string(r[:57]) + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, s))
	}
	return strings.Join(parts, " ")
}
