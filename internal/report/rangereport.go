package report

import (
	"sort"
	"time"

	"classroll/internal/attendance"
)

// DateRange bounds a range report, both ends inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validate requires both dates and Start <= End.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ErrRangeMissing
	}
	if r.Start.After(r.End) {
		return ErrRangeOrder
	}
	return nil
}

// StudentSummary is one roster student's rollup over the range. Total counts
// only the dates on which the student has a record.
type StudentSummary struct {
	Seq        int               `json:"seq"`
	StudentID  string            `json:"student_id"`
	NationalID string            `json:"national_id"`
	FamilyName string            `json:"family_name"`
	GivenName  string            `json:"given_name"`
	Total      int               `json:"total"`
	Counts     attendance.Counts `json:"counts"`
	Percentage string            `json:"percentage"`
}

// DayRow is one fetched record.
type DayRow struct {
	Date        string `json:"date"`
	StudentID   string `json:"student_id"`
	NationalID  string `json:"national_id"`
	FamilyName  string `json:"family_name"`
	GivenName   string `json:"given_name"`
	Status      string `json:"status"`
	Observation string `json:"observation"`
}

// RangeStats aggregates the whole range.
type RangeStats struct {
	Course       string            `json:"course"`
	Category     string            `json:"category"`
	Schedule     string            `json:"schedule"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	ClassDays    int               `json:"class_days"`
	TotalRecords int               `json:"total_records"`
	Counts       attendance.Counts `json:"counts"`
	Percentage   string            `json:"percentage"`
}

// RangeReport is the multi-date export.
type RangeReport struct {
	Filename string           `json:"filename"`
	Students []StudentSummary `json:"students"`
	Days     []DayRow         `json:"days"`
	Stats    RangeStats       `json:"stats"`
}

// BuildRange derives the range report from records fetched for the course.
// It refuses invalid ranges.
func BuildRange(course attendance.Course, roster []attendance.Student, rng DateRange, records []attendance.DatedRecord) (RangeReport, error) {
	if err := rng.Validate(); err != nil {
		return RangeReport{}, err
	}

	index := make(map[string]int, len(roster))
	for i, st := range roster {
		index[st.ID] = i
	}

	sorted := append([]attendance.DatedRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return rosterPos(index, sorted[i].StudentID, len(roster)) < rosterPos(index, sorted[j].StudentID, len(roster))
	})

	rep := RangeReport{
		Filename: RangeFilename(course.Name, rng.Start, rng.End),
		Students: make([]StudentSummary, len(roster)),
		Days:     make([]DayRow, 0, len(sorted)),
		Stats: RangeStats{
			Course:   course.Name,
			Category: course.Category,
			Schedule: course.Schedule,
			Start:    attendance.FormatDate(rng.Start),
			End:      attendance.FormatDate(rng.End),
		},
	}
	for i, st := range roster {
		rep.Students[i] = StudentSummary{
			Seq:        i + 1,
			StudentID:  st.ID,
			NationalID: st.NationalID,
			FamilyName: st.FamilyName,
			GivenName:  st.GivenName,
		}
	}

	days := make(map[string]struct{})
	for _, rec := range sorted {
		date := attendance.FormatDate(rec.Date)
		days[date] = struct{}{}
		rep.Stats.TotalRecords++
		rep.Stats.Counts.Add(rec.Status)

		row := DayRow{Date: date, StudentID: rec.StudentID, Status: rec.Status.Label(), Observation: rec.Observation}
		if i, ok := index[rec.StudentID]; ok {
			st := roster[i]
			row.NationalID, row.FamilyName, row.GivenName = st.NationalID, st.FamilyName, st.GivenName
			rep.Students[i].Total++
			rep.Students[i].Counts.Add(rec.Status)
		}
		rep.Days = append(rep.Days, row)
	}
	for i := range rep.Students {
		s := &rep.Students[i]
		s.Percentage = Percent(s.Counts.Present, s.Total)
	}
	rep.Stats.ClassDays = len(days)
	rep.Stats.Percentage = Percent(rep.Stats.Counts.Present, rep.Stats.TotalRecords)
	return rep, nil
}

func rosterPos(index map[string]int, id string, n int) int {
	if i, ok := index[id]; ok {
		return i
	}
	return n
}

// Workbook lays the report out as per-student, day-by-day and aggregate
// sheets.
func (r RangeReport) Workbook() Workbook {
	students := Sheet{
		Name: "Per-student summary",
		Header: []string{"#", "National ID", "Surname", "Given name", "Total classes",
			"Present", "Absent", "Late", "Justified", "Attendance percentage"},
		Rows: make([][]any, 0, len(r.Students)),
	}
	for _, s := range r.Students {
		students.Rows = append(students.Rows, []any{s.Seq, s.NationalID, s.FamilyName, s.GivenName, s.Total,
			s.Counts.Present, s.Counts.Absent, s.Counts.Late, s.Counts.Justified, s.Percentage})
	}

	days := Sheet{
		Name:   "Day-by-day detail",
		Header: []string{"Date", "National ID", "Surname", "Given name", "Status", "Observation"},
		Rows:   make([][]any, 0, len(r.Days)),
	}
	for _, d := range r.Days {
		id := d.NationalID
		if id == "" {
			id = d.StudentID
		}
		days.Rows = append(days.Rows, []any{d.Date, id, d.FamilyName, d.GivenName, d.Status, d.Observation})
	}

	s := r.Stats
	stats := Sheet{
		Name:   "Aggregate statistics",
		Header: []string{"Field", "Value"},
		Rows: [][]any{
			{"Course", s.Course},
			{"Category", s.Category},
			{"Schedule", s.Schedule},
			{"From", s.Start},
			{"To", s.End},
			{"Class days", s.ClassDays},
			{"Total records", s.TotalRecords},
			{"Present", s.Counts.Present},
			{"Absent", s.Counts.Absent},
			{"Late", s.Counts.Late},
			{"Justified", s.Counts.Justified},
			{"Attendance percentage", s.Percentage},
		},
	}
	return Workbook{Filename: r.Filename, Sheets: []Sheet{students, days, stats}}
}
