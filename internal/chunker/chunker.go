// Package chunker splits oversized text fields into bounded fragments for
// the tabular backend and reassembles them on the way back.
package chunker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/senja-sync/internal/model"
)

const (
	// DefaultLimit keeps each fragment under the backend's 50,000
	// character cell ceiling.
	DefaultLimit = 40000

	chunkSep = "_chunk_"
)

// Options configures chunking behavior.
type Options struct {
	Limit int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{Limit: DefaultLimit}
}

// Descriptor names one fragment of a field. A descriptor with a negative
// Ordinal stands for the unsplit field itself.
type Descriptor struct {
	Field   string
	Ordinal int
}

// WireName is the column name the fragment is stored under.
func (d Descriptor) WireName() string {
	if d.Ordinal < 0 {
		return d.Field
	}
	return d.Field + chunkSep + strconv.Itoa(d.Ordinal)
}

// parseDescriptor recognizes <field>_chunk_<n>. Any other name is returned
// as an unsplit descriptor with ok=false.
func parseDescriptor(name string) (Descriptor, bool) {
	i := strings.LastIndex(name, chunkSep)
	if i <= 0 {
		return Descriptor{Field: name, Ordinal: -1}, false
	}
	digits := name[i+len(chunkSep):]
	if digits == "" {
		return Descriptor{Field: name, Ordinal: -1}, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Descriptor{Field: name, Ordinal: -1}, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return Descriptor{Field: name, Ordinal: -1}, false
	}
	return Descriptor{Field: name[:i], Ordinal: n}, true
}

// Fragment is one piece of an encoded field.
type Fragment struct {
	Descriptor
	Value string
}

// Encode splits value into fragments of at most limit characters. A value
// that fits, or a limit below 1, yields a single fragment under the
// original field name.
func Encode(field, value string, limit int) []Fragment {
	n := utf8.RuneCountInString(value)
	if limit < 1 || n <= limit {
		return []Fragment{{Descriptor: Descriptor{Field: field, Ordinal: -1}, Value: value}}
	}

	frags := make([]Fragment, 0, (n+limit-1)/limit)
	rest := value
	for ord := 0; rest != ""; ord++ {
		cut := byteOffset(rest, limit)
		frags = append(frags, Fragment{
			Descriptor: Descriptor{Field: field, Ordinal: ord},
			Value:      rest[:cut],
		})
		rest = rest[cut:]
	}
	return frags
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	off := 0
	for i := 0; i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}

// EncodeRecord applies Encode to every text field of r. Other scalars are
// copied unchanged.
func EncodeRecord(r model.RawRecord, opts Options) model.RawRecord {
	out := make(model.RawRecord, len(r))
	for k, v := range r {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		for _, f := range Encode(k, s, opts.Limit) {
			out[f.WireName()] = f.Value
		}
	}
	return out
}

// Truncation describes a field whose fragment sequence has a gap.
type Truncation struct {
	Field   string
	Missing int // first missing ordinal
	Dropped int // fragments after the gap
}

// SequenceError reports fields that could only be partially reassembled.
type SequenceError struct {
	Fields []Truncation
}

func (e *SequenceError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (fragment %d missing, %d dropped)", f.Field, f.Missing, f.Dropped))
	}
	return "chunk sequence gap: " + strings.Join(parts, ", ")
}

// Decode reassembles fragmented fields of r. Fragments may arrive in any
// column order. Empty fragment cells are ignored, so a short value stored
// under its plain name survives the blank fragment columns of other rows.
// If a sequence has a gap the field is rebuilt from the contiguous prefix
// and a *SequenceError is returned alongside the record.
func Decode(r model.RawRecord) (model.RawRecord, error) {
	out := make(model.RawRecord, len(r))
	groups := map[string][]Fragment{}

	for k, v := range r {
		d, ok := parseDescriptor(k)
		if !ok {
			out[k] = v
			continue
		}
		s := model.Stringify(v)
		if s == "" {
			continue
		}
		groups[d.Field] = append(groups[d.Field], Fragment{Descriptor: d, Value: s})
	}

	var truncated []Truncation
	fields := make([]string, 0, len(groups))
	for f := range groups {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		frags := groups[field]
		sort.Slice(frags, func(i, j int) bool { return frags[i].Ordinal < frags[j].Ordinal })

		var b strings.Builder
		kept := 0
		for _, f := range frags {
			if f.Ordinal != kept {
				break
			}
			b.WriteString(f.Value)
			kept++
		}
		if kept < len(frags) {
			truncated = append(truncated, Truncation{Field: field, Missing: kept, Dropped: len(frags) - kept})
		}
		if base := model.Stringify(out[field]); kept == 0 && base != "" {
			continue
		}
		out[field] = b.String()
	}

	if len(truncated) > 0 {
		return out, &SequenceError{Fields: truncated}
	}
	return out, nil
}
