package attendance

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and report format for class dates.
const DateLayout = "2006-01-02"

// Status is the attendance state of one student on one class date.
type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusLate      Status = "late"
	StatusJustified Status = "justified"
)

// Statuses lists every status in report column order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusJustified}

// UnregisteredLabel is shown for roster students without a record.
const UnregisteredLabel = "UNREGISTERED"

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusJustified:
		return true
	}
	return false
}

// Label is the upper-case report label.
func (s Status) Label() string {
	return strings.ToUpper(string(s))
}

// Course is supplied by the backend and never modified here.
type Course struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Schedule      string `json:"schedule"`
	Category      string `json:"category"`
	EnrolledCount int    `json:"enrolled_count"`
}

// Student is one roster entry.
type Student struct {
	ID         string `json:"id"`
	NationalID string `json:"national_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
}

// FullName returns "Surname(s), GivenName(s)".
func (s Student) FullName() string {
	return strings.TrimSpace(s.FamilyName) + ", " + strings.TrimSpace(s.GivenName)
}

// DisplayName returns "GivenName(s) Surname(s)".
func (s Student) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(s.GivenName) + " " + strings.TrimSpace(s.FamilyName))
}

// StagedFile is a justification document chosen locally and not yet uploaded.
type StagedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// SizeKB is the file size in kilobytes, rounded to two decimals.
func (f StagedFile) SizeKB() float64 {
	return float64(int64(float64(len(f.Data))/1024*100+0.5)) / 100
}

// IsImage reports whether the file can be previewed as an image.
func (f StagedFile) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.ContentType), "image/")
}

// RemoteDocument marks a document already stored by the backend. It is
// resolved through the attendance record that owns it.
type RemoteDocument struct {
	RecordID string
}

// DocumentMeta is what the screen shows without fetching the binary.
type DocumentMeta struct {
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"size_kb"`
	Type     string  `json:"type"`
}

// Document is the justification document of a record: exactly one of Staged
// or Remote is set. Documents are treated as immutable values.
type Document struct {
	Staged *StagedFile
	Remote *RemoteDocument
	Meta   DocumentMeta
}

// NewStagedDocument wraps a locally chosen file.
func NewStagedDocument(f StagedFile) *Document {
	return &Document{
		Staged: &f,
		Meta:   DocumentMeta{Filename: f.Name, SizeKB: f.SizeKB(), Type: f.ContentType},
	}
}

// NewRemoteDocument references a document persisted under recordID.
func NewRemoteDocument(recordID string, meta DocumentMeta) *Document {
	return &Document{Remote: &RemoteDocument{RecordID: recordID}, Meta: meta}
}

// IsStaged reports whether the document still has to be uploaded.
func (d *Document) IsStaged() bool {
	return d != nil && d.Staged != nil
}

// IsRemote reports whether the document is already persisted.
func (d *Document) IsRemote() bool {
	return d != nil && d.Staged == nil && d.Remote != nil
}

// Record is the attendance of one student for the store's (course, date).
type Record struct {
	// ID is assigned by the backend once the record has been saved.
	ID          string
	StudentID   string
	Status      Status
	Observation string
	Document    *Document
}

// HasDocument reports whether a justification document is attached.
func (r Record) HasDocument() bool {
	return r.Document.IsStaged() || r.Document.IsRemote()
}

// DatedRecord is a record returned by a date-range query.
type DatedRecord struct {
	ID          string
	Date        time.Time
	StudentID   string
	Status      Status
	Observation string
}

// FormatDate renders a class date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a DateLayout date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}
