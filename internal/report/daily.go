package report

import (
	"time"

	"classroll/internal/attendance"
)

// DailyRow is one roster student in the daily detail sheet.
type DailyRow struct {
	Seq         int    `json:"seq"`
	NationalID  string `json:"national_id"`
	FamilyName  string `json:"family_name"`
	GivenName   string `json:"given_name"`
	Status      string `json:"status"`
	Observation string `json:"observation"`
}

// DailySummary aggregates one class date.
type DailySummary struct {
	Course       string            `json:"course"`
	Category     string            `json:"category"`
	Schedule     string            `json:"schedule"`
	Date         string            `json:"date"`
	Total        int               `json:"total"`
	Registered   int               `json:"registered"`
	Unregistered int               `json:"unregistered"`
	Counts       attendance.Counts `json:"counts"`
	Percentage   string            `json:"percentage"`
}

// DailyReport is the single-day export.
type DailyReport struct {
	Filename string       `json:"filename"`
	Detail   []DailyRow   `json:"detail"`
	Summary  DailySummary `json:"summary"`
}

// BuildDaily derives the daily report from the roster and the records held
// for that date. Students without a record are labelled UNREGISTERED.
func BuildDaily(course attendance.Course, date time.Time, roster []attendance.Student, records []attendance.Record) DailyReport {
	byStudent := make(map[string]attendance.Record, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec
	}

	rep := DailyReport{
		Filename: DailyFilename(course.Name, date),
		Detail:   make([]DailyRow, 0, len(roster)),
		Summary: DailySummary{
			Course:   course.Name,
			Category: course.Category,
			Schedule: course.Schedule,
			Date:     attendance.FormatDate(date),
			Total:    len(roster),
		},
	}
	for i, st := range roster {
		rec, ok := byStudent[st.ID]
		rep.Detail = append(rep.Detail, DailyRow{
			Seq:         i + 1,
			NationalID:  st.NationalID,
			FamilyName:  st.FamilyName,
			GivenName:   st.GivenName,
			Status:      statusLabel(rec, ok),
			Observation: rec.Observation,
		})
		if ok {
			rep.Summary.Registered++
			rep.Summary.Counts.Add(rec.Status)
		}
	}
	rep.Summary.Unregistered = rep.Summary.Total - rep.Summary.Registered
	rep.Summary.Percentage = Percent(rep.Summary.Counts.Present, rep.Summary.Total)
	return rep
}

// Workbook lays the report out as Detail and Summary sheets.
func (r DailyReport) Workbook() Workbook {
	detail := Sheet{
		Name:   "Detail",
		Header: []string{"#", "National ID", "Surname", "Given name", "Status", "Observation"},
		Rows:   make([][]any, 0, len(r.Detail)),
	}
	for _, row := range r.Detail {
		detail.Rows = append(detail.Rows, []any{row.Seq, row.NationalID, row.FamilyName, row.GivenName, row.Status, row.Observation})
	}

	s := r.Summary
	summary := Sheet{
		Name:   "Summary",
		Header: []string{"Field", "Value"},
		Rows: [][]any{
			{"Course", s.Course},
			{"Category", s.Category},
			{"Schedule", s.Schedule},
			{"Date", s.Date},
			{"Total students", s.Total},
			{"Registered", s.Registered},
			{"Unregistered", s.Unregistered},
			{"Present", s.Counts.Present},
			{"Absent", s.Counts.Absent},
			{"Late", s.Counts.Late},
			{"Justified", s.Counts.Justified},
			{"Attendance percentage", s.Percentage},
		},
	}
	return Workbook{Filename: r.Filename, Sheets: []Sheet{detail, summary}}
}
