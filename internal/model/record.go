package model

import (
	"encoding/json"
)

// RawRecord is a flat row as it travels on the wire: field name to scalar.
type RawRecord map[string]any

// Record is one row of a collection. It is implemented only by the record
// types of this package, one per collection.
type Record interface {
	Collection() Collection
	// Key is the natural identifier of the record within its collection.
	Key() string
	// WithKey returns a copy of the record carrying the given key.
	WithKey(key string) Record
	// Flatten renders the record as a wire row. Nested values are
	// JSON-encoded into a single text field.
	Flatten() RawRecord

	sealed()
}

// Role of an account.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// ValidRoles are the allowed account roles.
var ValidRoles = map[Role]bool{
	RoleAdmin:   true,
	RoleTeacher: true,
	RoleStudent: true,
}

// ContentType classifies a content item.
type ContentType string

const (
	ContentPDF     ContentType = "PDF"
	ContentVideo   ContentType = "VIDEO"
	ContentArticle ContentType = "ARTICLE"
)

// ValidContentTypes are the allowed content item types.
var ValidContentTypes = map[ContentType]bool{
	ContentPDF:     true,
	ContentVideo:   true,
	ContentArticle: true,
}

// ApprovalStatus is the review state of a submission, in its wire form.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Grades are the class levels of the school, lowest first.
var Grades = []string{"1", "2", "3", "4", "5", "6"}

// LowestGrade is the default class for roster entries and content.
const LowestGrade = "1"

// AdminUsername identifies the reserved administrator account.
const AdminUsername = "admin"

// SettingsKey is the fixed key of the settings singleton.
const SettingsKey = "settings"

// DefaultAdmin returns the administrator account injected whenever none is
// present.
func DefaultAdmin() Account {
	return Account{
		ID:            "u1",
		Username:      AdminUsername,
		Password:      "admin",
		Name:          "Administrator",
		Role:          RoleAdmin,
		ClassAssigned: "",
	}
}

// Account is a staff login (administrator or class teacher).
type Account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	Role          Role   `json:"role"`
	ClassAssigned string `json:"classAssigned"`
}

func (Account) Collection() Collection { return Accounts }
func (a Account) Key() string { return a.ID }
func (Account) sealed() {}

func (a Account) WithKey(key string) Record {
	a.ID = key
	return a
}

// IsAdmin reports whether a is the reserved administrator.
func (a Account) IsAdmin() bool { return a.Username == AdminUsername }

func (a Account) Flatten() RawRecord {
	return RawRecord{
		"id":            a.ID,
		"username":      a.Username,
		"password":      a.Password,
		"name":          a.Name,
		"role":          string(a.Role),
		"classAssigned": a.ClassAssigned,
	}
}

// Student is a roster entry keyed by its national student number.
type Student struct {
	NISN       string `json:"nisn"`
	Name       string `json:"name"`
	Gender     string `json:"gender"`
	ClassGrade string `json:"classGrade"`
	ParentID   string `json:"parentId,omitempty"`
}

func (Student) Collection() Collection { return Roster }
func (s Student) Key() string { return s.NISN }
func (Student) sealed() {}

func (s Student) WithKey(key string) Record {
	s.NISN = key
	return s
}

func (s Student) Flatten() RawRecord {
	return RawRecord{
		"nisn":       s.NISN,
		"name":       s.Name,
		"gender":     s.Gender,
		"classGrade": s.ClassGrade,
		"parentId":   s.ParentID,
	}
}

// Question is a reflection prompt attached to a content item.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// ContentItem is a reading material assigned to a grade.
type ContentItem struct {
	ID                  string      `json:"id"`
	Title               string      `json:"title"`
	ClassGrade          string      `json:"classGrade"`
	Type                ContentType `json:"type"`
	ContentURL          string      `json:"contentUrl"`
	CoverImage          string      `json:"coverImage"`
	Description         string      `json:"description"`
	TaskInstruction     string      `json:"taskInstruction"`
	ReflectionQuestions []Question  `json:"reflectionQuestions"`
}

func (ContentItem) Collection() Collection { return ContentItems }
func (m ContentItem) Key() string { return m.ID }
func (ContentItem) sealed() {}

func (m ContentItem) WithKey(key string) Record {
	m.ID = key
	return m
}

func (m ContentItem) Flatten() RawRecord {
	return RawRecord{
		"id":                  m.ID,
		"title":               m.Title,
		"classGrade":          m.ClassGrade,
		"type":                string(m.Type),
		"contentUrl":          m.ContentURL,
		"coverImage":          m.CoverImage,
		"description":         m.Description,
		"taskInstruction":     m.TaskInstruction,
		"reflectionQuestions": encodeNested(m.ReflectionQuestions),
	}
}

// Answer is a student's reply to one reflection question.
type Answer struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// Submission is a student's work on a content item.
type Submission struct {
	ID              string         `json:"id"`
	StudentNISN     string         `json:"studentNisn"`
	StudentName     string         `json:"studentName"`
	MaterialID      string         `json:"materialId"`
	MaterialTitle   string         `json:"materialTitle"`
	ClassGrade      string         `json:"classGrade"`
	Answers         []Answer       `json:"answers"`
	TaskText        string         `json:"taskText"`
	TaskFile        string         `json:"taskFile"`
	Status          ApprovalStatus `json:"status"`
	TeacherFeedback string         `json:"teacherFeedback"`
	SubmittedAt     string         `json:"submittedAt"`
}

func (Submission) Collection() Collection { return Submissions }
func (s Submission) Key() string { return s.ID }
func (Submission) sealed() {}

func (s Submission) WithKey(key string) Record {
	s.ID = key
	return s
}

// Approved reports whether a teacher has approved the submission.
func (s Submission) Approved() bool { return s.Status == StatusApproved }

func (s Submission) Flatten() RawRecord {
	return RawRecord{
		"id":              s.ID,
		"studentNisn":     s.StudentNISN,
		"studentName":     s.StudentName,
		"materialId":      s.MaterialID,
		"materialTitle":   s.MaterialTitle,
		"classGrade":      s.ClassGrade,
		"answers":         encodeNested(s.Answers),
		"taskText":        s.TaskText,
		"taskFile":        s.TaskFile,
		"status":          string(s.Status),
		"teacherFeedback": s.TeacherFeedback,
		"submittedAt":     s.SubmittedAt,
	}
}

// AppSettings is the settings singleton.
type AppSettings struct {
	// CertBackground is the certificate background image, usually a data URL
	// far larger than a single backend cell.
	CertBackground string `json:"certBackground"`
}

func (AppSettings) Collection() Collection { return Settings }
func (AppSettings) Key() string { return SettingsKey }
func (AppSettings) sealed() {}

// WithKey ignores key: the singleton always uses SettingsKey.
func (s AppSettings) WithKey(string) Record { return s }

func (s AppSettings) Flatten() RawRecord {
	return RawRecord{"certBackground": s.CertBackground}
}

func encodeNested(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}
