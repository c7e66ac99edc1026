package attendance

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrInvalidStatus         = errors.New("invalid attendance status")
	ErrInvalidDate           = errors.New("invalid date")
	ErrUnknownStudent        = errors.New("student is not in the current roster")
	ErrNoRecord              = errors.New("student has no attendance record")
	ErrNoJustificationEditor = errors.New("no justification editor attached")
)

// JustificationEditor opens the draft editor for a student. Setting the
// justified status always goes through it.
type JustificationEditor interface {
	Open(ctx context.Context, studentID string) error
}

// Counts holds per-status totals.
type Counts struct {
	Present   int `json:"present"`
	Absent    int `json:"absent"`
	Late      int `json:"late"`
	Justified int `json:"justified"`
}

// Total is the number of counted records.
func (c Counts) Total() int {
	return c.Present + c.Absent + c.Late + c.Justified
}

// Of returns the count for one status.
func (c Counts) Of(s Status) int {
	switch s {
	case StatusPresent:
		return c.Present
	case StatusAbsent:
		return c.Absent
	case StatusLate:
		return c.Late
	case StatusJustified:
		return c.Justified
	}
	return 0
}

// Add increments the count for s.
func (c *Counts) Add(s Status) {
	switch s {
	case StatusPresent:
		c.Present++
	case StatusAbsent:
		c.Absent++
	case StatusLate:
		c.Late++
	case StatusJustified:
		c.Justified++
	}
}

// Store holds the attendance records of one (course, date) context. A new
// Store is created for every context switch; records never outlive it.
type Store struct {
	mu       sync.Mutex
	courseID string
	date     time.Time
	roster   []Student
	index    map[string]int
	records  map[string]Record
	saved    bool
	editor   JustificationEditor
}

// NewStore creates an empty store bound to a roster.
func NewStore(courseID string, date time.Time, roster []Student) *Store {
	s := &Store{
		courseID: courseID,
		date:     date,
		roster:   append([]Student(nil), roster...),
		index:    make(map[string]int, len(roster)),
		records:  make(map[string]Record, len(roster)),
	}
	for i, st := range s.roster {
		s.index[st.ID] = i
	}
	return s
}

func (s *Store) CourseID() string { return s.courseID }

func (s *Store) Date() time.Time { return s.date }

// Roster returns the students in roster order.
func (s *Store) Roster() []Student {
	return append([]Student(nil), s.roster...)
}

// Student looks up a roster student.
func (s *Store) Student(id string) (Student, bool) {
	i, ok := s.index[id]
	if !ok {
		return Student{}, false
	}
	return s.roster[i], true
}

// SetJustificationEditor attaches the editor used for the justified status.
func (s *Store) SetJustificationEditor(e JustificationEditor) {
	s.mu.Lock()
	s.editor = e
	s.mu.Unlock()
}

// SetStatus records present, absent or late immediately. Justified is handed
// to the justification editor and the record is left untouched.
func (s *Store) SetStatus(ctx context.Context, studentID string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if _, ok := s.index[studentID]; !ok {
		return ErrUnknownStudent
	}
	if status == StatusJustified {
		s.mu.Lock()
		editor := s.editor
		s.mu.Unlock()
		if editor == nil {
			return ErrNoJustificationEditor
		}
		return editor.Open(ctx, studentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[studentID]
	rec.StudentID = studentID
	rec.Status = status
	s.records[studentID] = rec
	s.saved = false
	return nil
}

// Get returns the record of a student.
func (s *Store) Get(studentID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[studentID]
	return rec, ok
}

// Put replaces the full record of a roster student.
func (s *Store) Put(rec Record) error {
	if !rec.Status.Valid() {
		return ErrInvalidStatus
	}
	if _, ok := s.index[rec.StudentID]; !ok {
		return ErrUnknownStudent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.StudentID]; ok && rec.ID == "" {
		rec.ID = prev.ID
	}
	s.records[rec.StudentID] = rec
	s.saved = false
	return nil
}

// SetObservation changes the observation of an existing record.
func (s *Store) SetObservation(studentID, text string) error {
	return s.update(studentID, func(rec *Record) { rec.Observation = text })
}

// ClearDocument detaches the justification document, keeping status and
// observation.
func (s *Store) ClearDocument(studentID string) error {
	return s.update(studentID, func(rec *Record) { rec.Document = nil })
}

func (s *Store) update(studentID string, fn func(*Record)) error {
	if _, ok := s.index[studentID]; !ok {
		return ErrUnknownStudent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[studentID]
	if !ok {
		return ErrNoRecord
	}
	fn(&rec)
	s.records[studentID] = rec
	s.saved = false
	return nil
}

// CountByStatus is recomputed on every call.
func (s *Store) CountByStatus() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, rec := range s.records {
		c.Add(rec.Status)
	}
	return c
}

// Records returns all records in roster order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, st := range s.roster {
		if rec, ok := s.records[st.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Len is the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Missing returns the roster students without a record, in roster order.
func (s *Store) Missing() []Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Student
	for _, st := range s.roster {
		if _, ok := s.records[st.ID]; !ok {
			out = append(out, st)
		}
	}
	return out
}

// Replace swaps the whole content for records loaded from the backend.
// Records of students outside the roster are dropped and counted. The store
// is marked saved when anything was loaded.
func (s *Store) Replace(records []Record) (dropped int) {
	next := make(map[string]Record, len(records))
	for _, rec := range records {
		if _, ok := s.index[rec.StudentID]; !ok || !rec.Status.Valid() {
			dropped++
			continue
		}
		next[rec.StudentID] = rec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = next
	s.saved = len(next) > 0
	return dropped
}

// Saved reports whether the store matches what the backend holds.
func (s *Store) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// MarkSaved flags the store as persisted.
func (s *Store) MarkSaved() {
	s.mu.Lock()
	s.saved = true
	s.mu.Unlock()
}
