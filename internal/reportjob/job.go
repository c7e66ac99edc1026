package reportjob

import (
	"errors"
	"time"

	"classroll/internal/attendance"
	"classroll/internal/report"
)

// MessageType tags range report jobs on the queue.
const MessageType = "range_report"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("reportjob: job not found")

// Job is an asynchronous range report request.
type Job struct {
	ID             string    `json:"id"`
	TeacherID      string    `json:"teacher_id"`
	CourseID       string    `json:"course_id"`
	CourseName     string    `json:"course_name"`
	CourseCategory string    `json:"course_category"`
	CourseSchedule string    `json:"course_schedule"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Status         Status    `json:"status"`
	FileName       string    `json:"file_name,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Course rebuilds the course the job reports on.
func (j Job) Course() attendance.Course {
	return attendance.Course{
		ID:       j.CourseID,
		Name:     j.CourseName,
		Category: j.CourseCategory,
		Schedule: j.CourseSchedule,
	}
}

// Range is the requested period.
func (j Job) Range() report.DateRange {
	return report.DateRange{Start: j.Start, End: j.End}
}
