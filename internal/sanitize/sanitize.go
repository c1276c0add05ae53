// Package sanitize normalizes loosely shaped remote rows into typed records.
//
// The backend is a spreadsheet: columns appear, vanish and change type
// between rows. Sanitize never fails; it fills defaults, coerces types and
// repairs collection invariants instead.
package sanitize

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/senja-sync/internal/model"
)

// KeyFunc generates a key for a record that arrives without one.
type KeyFunc func() string

// Sanitizer converts raw rows into records of a collection.
type Sanitizer struct {
	newKey KeyFunc
	logger *slog.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithKeyFunc overrides key generation (default: ULID).
func WithKeyFunc(fn KeyFunc) Option {
	return func(s *Sanitizer) { s.newKey = fn }
}

// WithLogger sets the logger used for repair warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

// New creates a Sanitizer.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{}
	for _, o := range opts {
		o(s)
	}
	if s.newKey == nil {
		s.newKey = ULIDKeys()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ULIDKeys returns a goroutine-safe ULID generator.
func ULIDKeys() KeyFunc {
	var mu sync.Mutex
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}

// Sanitize converts raw rows into the canonical records of collection c.
// Blank rows are skipped, rows without a key receive a generated one, and
// rows sharing a key collapse into the last of them (at the position of
// the first). Collection invariants are repaired afterwards.
func (s *Sanitizer) Sanitize(c model.Collection, raw []model.RawRecord) []model.Record {
	if c == model.Settings {
		return []model.Record{settingsFrom(raw)}
	}

	out := make([]model.Record, 0, len(raw)+1)
	pos := map[string]int{}
	for _, row := range raw {
		if blank(row) {
			continue
		}
		r := s.convert(c, row)
		if r == nil {
			continue
		}
		if r.Key() == "" {
			r = r.WithKey(s.newKey())
		}
		if i, ok := pos[r.Key()]; ok {
			out[i] = r
			continue
		}
		pos[r.Key()] = len(out)
		out = append(out, r)
	}

	if c == model.Accounts {
		out = s.ensureAdmin(out, pos)
	}
	return out
}

// Normalize applies the per-record rules of Sanitize to a single record,
// leaving its key untouched (even when empty). Collection-wide invariants
// are not checked.
func (s *Sanitizer) Normalize(r model.Record) model.Record {
	if r == nil {
		return nil
	}
	if r.Collection() == model.Settings {
		return settingsFrom([]model.RawRecord{r.Flatten()})
	}
	n := s.convert(r.Collection(), r.Flatten())
	if n == nil {
		return r
	}
	return n
}

// Record converts a single raw row of collection c, as Normalize does for
// a typed record. A row without a key yields a record without one.
func (s *Sanitizer) Record(c model.Collection, raw model.RawRecord) model.Record {
	if c == model.Settings {
		return settingsFrom([]model.RawRecord{raw})
	}
	return s.convert(c, raw)
}

func (s *Sanitizer) convert(c model.Collection, row model.RawRecord) model.Record {
	switch c {
	case model.Accounts:
		return account(row)
	case model.Roster:
		return student(row)
	case model.ContentItems:
		return contentItem(row)
	case model.Submissions:
		return submission(row)
	}
	s.logger.Debug("sanitize: unknown collection", "collection", c)
	return nil
}

func (s *Sanitizer) ensureAdmin(out []model.Record, pos map[string]int) []model.Record {
	for _, r := range out {
		if a, ok := r.(model.Account); ok && a.IsAdmin() {
			return out
		}
	}
	admin := model.DefaultAdmin()
	if _, taken := pos[admin.ID]; taken {
		admin.ID = s.newKey()
	}
	s.logger.Warn("administrator account missing, injecting default", "id", admin.ID)
	return append(out, admin)
}

func account(row model.RawRecord) model.Account {
	a := model.Account{
		ID:       trimmed(row, "id"),
		Username: trimmed(row, "username"),
		Password: text(row, "password"),
		Name:     text(row, "name", "fullName"),
	}
	a.Role = parseRole(trimmed(row, "role"))
	if a.Role == "" {
		a.Role = model.RoleTeacher
		if a.IsAdmin() {
			a.Role = model.RoleAdmin
		}
	}

	if v, ok := lookup(row, "classAssigned", "assignedClass"); ok {
		a.ClassAssigned = strings.TrimSpace(model.Stringify(v))
	} else if a.Role == model.RoleTeacher {
		a.ClassAssigned = model.LowestGrade
	}
	return a
}

func parseRole(s string) model.Role {
	r := model.Role(strings.ToUpper(s))
	if model.ValidRoles[r] {
		return r
	}
	return ""
}

func student(row model.RawRecord) model.Student {
	st := model.Student{
		NISN:       trimmed(row, "nisn"),
		Name:       text(row, "name"),
		ClassGrade: grade(row),
		ParentID:   trimmed(row, "parentId"),
	}
	switch g := strings.ToUpper(trimmed(row, "gender")); g {
	case "L", "P":
		st.Gender = g
	}
	return st
}

func contentItem(row model.RawRecord) model.ContentItem {
	m := model.ContentItem{
		ID:              trimmed(row, "id"),
		Title:           text(row, "title"),
		ClassGrade:      grade(row),
		ContentURL:      text(row, "contentUrl", "mediaUrl"),
		CoverImage:      text(row, "coverImage"),
		Description:     text(row, "description", "content"),
		TaskInstruction: text(row, "taskInstruction", "taskDescription"),
	}
	m.Type = model.ContentType(strings.ToUpper(trimmed(row, "type")))
	if !model.ValidContentTypes[m.Type] {
		m.Type = model.ContentArticle
	}
	v, _ := lookup(row, "reflectionQuestions", "questions")
	m.ReflectionQuestions = questions(v)
	return m
}

func submission(row model.RawRecord) model.Submission {
	sub := model.Submission{
		ID:              trimmed(row, "id"),
		StudentNISN:     trimmed(row, "studentNisn"),
		StudentName:     text(row, "studentName"),
		MaterialID:      trimmed(row, "materialId"),
		MaterialTitle:   text(row, "materialTitle"),
		ClassGrade:      trimmed(row, "classGrade"),
		TaskText:        text(row, "taskText"),
		TaskFile:        text(row, "taskFile", "taskFileUrl"),
		Status:          approval(row),
		TeacherFeedback: text(row, "teacherFeedback"),
		SubmittedAt:     trimmed(row, "submittedAt"),
	}
	v, _ := lookup(row, "answers")
	sub.Answers = answers(v)
	return sub
}

func grade(row model.RawRecord) string {
	if g := trimmed(row, "classGrade", "grade"); g != "" {
		return g
	}
	return model.LowestGrade
}

// settingsFrom collapses any number of rows into the settings singleton.
// The first non-empty background wins. Rows shaped as {key, value} pairs
// are understood as well.
func settingsFrom(raw []model.RawRecord) model.AppSettings {
	for _, row := range raw {
		for _, name := range []string{"certBackground", "certBg", "bgUrl"} {
			if bg := text(row, name); bg != "" {
				return model.AppSettings{CertBackground: bg}
			}
		}
		switch trimmed(row, "key") {
		case "certBackground", "certBg", "bgUrl":
			if bg := text(row, "value"); bg != "" {
				return model.AppSettings{CertBackground: bg}
			}
		}
	}
	return model.AppSettings{}
}

// lookup returns the first non-nil value among names.
func lookup(row model.RawRecord, names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := row[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func text(row model.RawRecord, names ...string) string {
	v, _ := lookup(row, names...)
	return model.Stringify(v)
}

func trimmed(row model.RawRecord, names ...string) string {
	return strings.TrimSpace(text(row, names...))
}

func blank(row model.RawRecord) bool {
	for _, v := range row {
		if strings.TrimSpace(model.Stringify(v)) != "" {
			return false
		}
	}
	return true
}
