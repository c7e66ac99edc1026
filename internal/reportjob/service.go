package reportjob

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/logging"
	"classroll/internal/queue"
	"classroll/internal/report"
)

// Jobs is the job persistence used by the service and the processor.
type Jobs interface {
	Insert(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	ListByTeacher(ctx context.Context, teacherID string, limit int) ([]Job, error)
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id, fileName, fileURL string) error
	Fail(ctx context.Context, id, reason string) error
}

// Service accepts range report requests and queues them.
type Service struct {
	jobs Jobs
	q    queue.Queue
	log  *zap.Logger
}

// NewService creates a service.
func NewService(jobs Jobs, q queue.Queue, log *zap.Logger) *Service {
	return &Service{jobs: jobs, q: q, log: logging.OrNop(log)}
}

// Enqueue validates the range, stores a pending job and queues it.
func (s *Service) Enqueue(ctx context.Context, teacherID string, course attendance.Course, rng report.DateRange) (Job, error) {
	if err := rng.Validate(); err != nil {
		return Job{}, err
	}
	if course.ID == "" {
		return Job{}, fmt.Errorf("reportjob: course id required")
	}
	job, err := s.jobs.Insert(ctx, Job{
		TeacherID:      teacherID,
		CourseID:       course.ID,
		CourseName:     course.Name,
		CourseCategory: course.Category,
		CourseSchedule: course.Schedule,
		Start:          day(rng.Start),
		End:            day(rng.End),
	})
	if err != nil {
		return Job{}, err
	}
	if err := s.q.Publish(ctx, queue.Message{Type: MessageType, Body: []byte(job.ID)}); err != nil {
		_ = s.jobs.Fail(context.WithoutCancel(ctx), job.ID, "could not be queued")
		return Job{}, fmt.Errorf("reportjob: publish %s: %w", job.ID, err)
	}
	s.log.Info("range report queued", zap.String("job_id", job.ID), zap.String("course_id", course.ID))
	return job, nil
}

// Get returns a job owned by teacherID.
func (s *Service) Get(ctx context.Context, teacherID, id string) (Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.TeacherID != teacherID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// List returns the latest jobs of teacherID.
func (s *Service) List(ctx context.Context, teacherID string, limit int) ([]Job, error) {
	return s.jobs.ListByTeacher(ctx, teacherID, limit)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
