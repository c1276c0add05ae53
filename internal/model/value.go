package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Stringify renders a wire scalar as text. Numbers use their shortest exact
// decimal form so that identifiers typed into the backend as numbers
// (student numbers, grades) compare equal to their text form.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// EncodeRecords serializes a list of records for durable storage.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// DecodeRecords parses a list produced by EncodeRecords back into the
// record type of collection c.
func DecodeRecords(c Collection, data []byte) ([]Record, error) {
	switch c {
	case Accounts:
		return decodeAs[Account](data)
	case Roster:
		return decodeAs[Student](data)
	case ContentItems:
		return decodeAs[ContentItem](data)
	case Submissions:
		return decodeAs[Submission](data)
	case Settings:
		return decodeAs[AppSettings](data)
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

func decodeAs[T Record](data []byte) ([]Record, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out, nil
}
