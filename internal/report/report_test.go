package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"classroll/internal/attendance"
)

var (
	course = attendance.Course{ID: "c1", Name: "Math 101 A", Category: "Science", Schedule: "Mon 9:00"}
	day    = time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
)

func d(day int) time.Time { return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC) }

func roster() []attendance.Student {
	return []attendance.Student{
		{ID: "1", NationalID: "11", GivenName: "Ana", FamilyName: "García"},
		{ID: "2", NationalID: "22", GivenName: "Luis", FamilyName: "Pérez"},
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0.00%", Percent(0, 0))
	assert.Equal(t, "75.00%", Percent(3, 4))
	assert.Equal(t, "33.33%", Percent(1, 3))
	assert.Equal(t, "66.67%", Percent(2, 3))
	assert.Equal(t, "100.00%", Percent(5, 5))
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "Attendance_Math_101_A_2024-03-07.xlsx", DailyFilename(course.Name, day))
	assert.Equal(t, "Report_Attendance_Math_101_A_2024-03-01_to_2024-03-31.xlsx", RangeFilename(course.Name, d(1), d(31)))
}

func TestBuildDailyEndToEnd(t *testing.T) {
	records := []attendance.Record{
		{StudentID: "2", Status: attendance.StatusAbsent},
		{StudentID: "1", Status: attendance.StatusPresent},
	}

	rep := BuildDaily(course, day, roster(), records)

	require.Len(t, rep.Detail, 2)
	assert.Equal(t, "García", rep.Detail[0].FamilyName)
	assert.Equal(t, "PRESENT", rep.Detail[0].Status)
	assert.Equal(t, "ABSENT", rep.Detail[1].Status)
	assert.Equal(t, 0, rep.Summary.Unregistered)
	assert.Equal(t, "50.00%", rep.Summary.Percentage)
	assert.Equal(t, "Attendance_Math_101_A_2024-03-07.xlsx", rep.Filename)
}

func TestBuildDailyUnregisteredAndPercentages(t *testing.T) {
	students := []attendance.Student{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	records := []attendance.Record{
		{StudentID: "1", Status: attendance.StatusPresent},
		{StudentID: "2", Status: attendance.StatusPresent},
		{StudentID: "3", Status: attendance.StatusPresent, Observation: "arrived"},
	}

	rep := BuildDaily(course, day, students, records)

	assert.Equal(t, "75.00%", rep.Summary.Percentage)
	assert.Equal(t, 3, rep.Summary.Registered)
	assert.Equal(t, 1, rep.Summary.Unregistered)
	assert.Equal(t, attendance.UnregisteredLabel, rep.Detail[3].Status)
	assert.Equal(t, "arrived", rep.Detail[2].Observation)

	empty := BuildDaily(course, day, nil, nil)
	assert.Equal(t, "0.00%", empty.Summary.Percentage)
	assert.Empty(t, empty.Detail)
}

func TestBuildRangeValidation(t *testing.T) {
	_, err := BuildRange(course, roster(), DateRange{Start: d(10), End: d(9)}, nil)
	assert.ErrorIs(t, err, ErrRangeOrder)

	_, err = BuildRange(course, roster(), DateRange{End: d(9)}, nil)
	assert.ErrorIs(t, err, ErrRangeMissing)

	rep, err := BuildRange(course, roster(), DateRange{Start: d(9), End: d(9)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.00%", rep.Stats.Percentage)
	assert.Equal(t, "0.00%", rep.Students[0].Percentage)
}

func TestBuildRange(t *testing.T) {
	records := []attendance.DatedRecord{
		{Date: d(5), StudentID: "2", Status: attendance.StatusLate, Observation: "bus"},
		{Date: d(4), StudentID: "2", Status: attendance.StatusPresent},
		{Date: d(4), StudentID: "1", Status: attendance.StatusPresent},
		{Date: d(5), StudentID: "1", Status: attendance.StatusJustified},
		{Date: d(6), StudentID: "2", Status: attendance.StatusPresent},
		{Date: d(6), StudentID: "9", Status: attendance.StatusAbsent},
	}

	rep, err := BuildRange(course, roster(), DateRange{Start: d(1), End: d(31)}, records)
	require.NoError(t, err)

	require.Len(t, rep.Students, 2)
	ana, luis := rep.Students[0], rep.Students[1]
	assert.Equal(t, 2, ana.Total)
	assert.Equal(t, "50.00%", ana.Percentage)
	assert.Equal(t, 3, luis.Total)
	assert.Equal(t, attendance.Counts{Present: 2, Late: 1}, luis.Counts)
	assert.Equal(t, "66.67%", luis.Percentage)

	require.Len(t, rep.Days, 6)
	assert.Equal(t, "2024-03-04", rep.Days[0].Date)
	assert.Equal(t, "11", rep.Days[0].NationalID)
	assert.Equal(t, "22", rep.Days[1].NationalID)
	assert.Equal(t, "bus", rep.Days[3].Observation)
	assert.Equal(t, "9", rep.Days[5].StudentID)

	assert.Equal(t, 3, rep.Stats.ClassDays)
	assert.Equal(t, 6, rep.Stats.TotalRecords)
	assert.Equal(t, attendance.Counts{Present: 3, Absent: 1, Late: 1, Justified: 1}, rep.Stats.Counts)
	assert.Equal(t, "50.00%", rep.Stats.Percentage)
	assert.Equal(t, "2024-03-01", rep.Stats.Start)
}

func TestDailyWorkbookRendersSheets(t *testing.T) {
	records := []attendance.Record{
		{StudentID: "1", Status: attendance.StatusPresent},
		{StudentID: "2", Status: attendance.StatusAbsent},
	}
	data, err := Render(BuildDaily(course, day, roster(), records).Workbook())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Detail", "Summary"}, f.GetSheetList())
	rows, err := f.GetRows("Detail")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.GreaterOrEqual(t, len(rows[1]), 5)
	assert.Equal(t, []string{"1", "11", "García", "Ana", "PRESENT"}, rows[1][:5])
	assert.Equal(t, "ABSENT", rows[2][4])

	pct, err := f.GetCellValue("Summary", "B13")
	require.NoError(t, err)
	assert.Equal(t, "50.00%", pct)
}

func TestRangeWorkbookRendersSheets(t *testing.T) {
	rep, err := BuildRange(course, roster(), DateRange{Start: d(1), End: d(2)}, []attendance.DatedRecord{
		{Date: d(1), StudentID: "1", Status: attendance.StatusPresent},
	})
	require.NoError(t, err)

	data, err := Render(rep.Workbook())
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Per-student summary", "Day-by-day detail", "Aggregate statistics"}, f.GetSheetList())
	rows, err := f.GetRows("Day-by-day detail")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-03-01", rows[1][0])
}

func TestRenderEmptyWorkbookFails(t *testing.T) {
	_, err := Render(Workbook{Filename: "x.xlsx"})
	assert.Error(t, err)
}
