package session

import (
	"classroll/internal/attendance"
	"classroll/internal/justification"
)

// Row is one roster line of the attendance screen.
type Row struct {
	Student     attendance.Student       `json:"student"`
	Status      attendance.Status        `json:"status,omitempty"`
	Observation string                   `json:"observation,omitempty"`
	Document    *attendance.DocumentMeta `json:"document,omitempty"`
	Uploaded    bool                     `json:"uploaded,omitempty"`
}

// View is a snapshot of the screen for the current page.
type View struct {
	TeacherID string               `json:"teacher_id"`
	Course    attendance.Course    `json:"course"`
	Date      string               `json:"date"`
	Page      Page                 `json:"page"`
	Rows      []Row                `json:"rows"`
	Counts    attendance.Counts    `json:"counts"`
	Saved     bool                 `json:"saved"`
	Saving    bool                 `json:"saving"`
	Draft     *justification.Draft `json:"draft,omitempty"`
}

// View snapshots the screen.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		TeacherID: s.teacherID,
		Course:    s.course,
		Date:      attendance.FormatDate(s.date),
		Page:      s.pageLocked(0),
		Saving:    s.saving,
	}
	v.Rows = make([]Row, 0, len(v.Page.Students))
	for _, st := range v.Page.Students {
		row := Row{Student: st}
		if s.store != nil {
			if rec, ok := s.store.Get(st.ID); ok {
				row.Status = rec.Status
				row.Observation = rec.Observation
				if rec.HasDocument() {
					meta := rec.Document.Meta
					row.Document = &meta
					row.Uploaded = rec.Document.IsRemote()
				}
			}
		}
		v.Rows = append(v.Rows, row)
	}
	if s.store != nil {
		v.Counts = s.store.CountByStatus()
		v.Saved = s.store.Saved()
	}
	if s.flow != nil {
		if d, ok := s.flow.Draft(); ok {
			v.Draft = &d
		}
	}
	return v
}
