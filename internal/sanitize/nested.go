package sanitize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/rcliao/senja-sync/internal/model"
)

// approval resolves the review state of a submission. Only an exact
// "approved" or "rejected" marker (after trimming and case folding) is
// honoured; anything else is pending. The legacy isApproved flag applies
// only when the row carries no status at all.
func approval(row model.RawRecord) model.ApprovalStatus {
	if v, ok := row["status"]; ok && v != nil {
		switch Fold(model.Stringify(v)) {
		case Fold(string(model.StatusApproved)):
			return model.StatusApproved
		case Fold(string(model.StatusRejected)):
			return model.StatusRejected
		}
		return model.StatusPending
	}
	if b, ok := row["isApproved"].(bool); ok && b {
		return model.StatusApproved
	}
	return model.StatusPending
}

// Fold trims s and maps it to its NFC, case-folded form for comparison.
func Fold(s string) string {
	return norm.NFC.String(cases.Fold().String(strings.TrimSpace(s)))
}

// decodeNested unwraps a nested value that may have been JSON-encoded into
// a text cell.
func decodeNested(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func questions(v any) []model.Question {
	out := []model.Question{}
	items, _ := decodeNested(v).([]any)
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		q := model.Question{
			ID:   strings.TrimSpace(model.Stringify(m["id"])),
			Text: model.Stringify(m["text"]),
			Type: strings.TrimSpace(model.Stringify(m["type"])),
		}
		if q.ID == "" {
			q.ID = "q" + strconv.Itoa(i+1)
		}
		if q.Type == "" {
			q.Type = "text"
		}
		out = append(out, q)
	}
	return out
}

func answers(v any) []model.Answer {
	out := []model.Answer{}
	switch t := decodeNested(v).(type) {
	case []any:
		for _, it := range t {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			qid := m["questionId"]
			if qid == nil {
				qid = m["id"]
			}
			out = append(out, model.Answer{
				QuestionID: strings.TrimSpace(model.Stringify(qid)),
				Answer:     model.Stringify(m["answer"]),
			})
		}
	case map[string]any:
		// Older clients stored answers as {questionId: answer}.
		ids := make([]string, 0, len(t))
		for k := range t {
			ids = append(ids, k)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, model.Answer{QuestionID: id, Answer: model.Stringify(t[id])})
		}
	}
	return out
}
