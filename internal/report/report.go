package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"classroll/internal/attendance"
)

var (
	ErrRangeMissing = errors.New("report: start and end dates are required")
	ErrRangeOrder   = errors.New("report: start date must not be after end date")
)

// Sheet is one tab of a workbook: a header row followed by data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Workbook is the file-independent form of an export.
type Workbook struct {
	Filename string
	Sheets   []Sheet
}

// Percent renders num/den*100 with two decimals, "0.00%" when den is zero.
func Percent(num, den int) string {
	if den <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(num)/float64(den)*100)
}

// DailyFilename is Attendance_<Course_Name>_<YYYY-MM-DD>.xlsx.
func DailyFilename(courseName string, date time.Time) string {
	return fmt.Sprintf("Attendance_%s_%s.xlsx", fileSafe(courseName), attendance.FormatDate(date))
}

// RangeFilename is Report_Attendance_<Course_Name>_<start>_to_<end>.xlsx.
func RangeFilename(courseName string, start, end time.Time) string {
	return fmt.Sprintf("Report_Attendance_%s_%s_to_%s.xlsx",
		fileSafe(courseName), attendance.FormatDate(start), attendance.FormatDate(end))
}

func fileSafe(name string) string {
	name = strings.Join(strings.Fields(name), "_")
	return strings.NewReplacer("/", "-", `\`, "-", ":", "-").Replace(name)
}

func statusLabel(rec attendance.Record, ok bool) string {
	if !ok {
		return attendance.UnregisteredLabel
	}
	return rec.Status.Label()
}
