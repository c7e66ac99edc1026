package reportjob

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/cloudinary"
	"classroll/internal/logging"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/report"
)

// Source supplies roster and range records from the backend.
type Source interface {
	Roster(ctx context.Context, courseID string) ([]attendance.Student, error)
	AttendanceRange(ctx context.Context, courseID string, start, end time.Time) ([]attendance.DatedRecord, error)
}

// Uploader stores finished workbooks.
type Uploader interface {
	UploadRaw(ctx context.Context, data []byte, filename, publicID string) (*cloudinary.UploadResult, error)
}

// Processor builds and uploads queued range reports.
type Processor struct {
	jobs    Jobs
	src     Source
	up      Uploader
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewProcessor creates a processor.
func NewProcessor(jobs Jobs, src Source, up Uploader, m *metrics.Metrics, log *zap.Logger) *Processor {
	return &Processor{jobs: jobs, src: src, up: up, metrics: m, log: logging.OrNop(log)}
}

// Run handles messages until the channel closes.
func (p *Processor) Run(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		if msg.Type != MessageType {
			p.log.Warn("ignoring unknown message", zap.String("type", msg.Type))
			continue
		}
		if err := p.Process(ctx, string(msg.Body)); err != nil {
			p.log.Error("range report failed", zap.String("job_id", string(msg.Body)), zap.Error(err))
		}
	}
}

// Process runs one job. Jobs that are no longer pending are skipped.
func (p *Processor) Process(ctx context.Context, id string) error {
	claimed, err := p.jobs.Claim(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		p.log.Info("job already handled", zap.String("job_id", id))
		return nil
	}
	job, err := p.jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	name, url, err := p.build(ctx, job)
	p.metrics.Job(err)
	if err != nil {
		if ferr := p.jobs.Fail(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
			p.log.Error("could not record job failure", zap.String("job_id", id), zap.Error(ferr))
		}
		return err
	}
	if err := p.jobs.Complete(ctx, id, name, url); err != nil {
		return err
	}
	p.log.Info("range report ready", zap.String("job_id", id), zap.String("file", name))
	return nil
}

func (p *Processor) build(ctx context.Context, job Job) (string, string, error) {
	students, err := p.src.Roster(ctx, job.CourseID)
	p.metrics.Load("roster", err)
	if err != nil {
		return "", "", fmt.Errorf("reportjob: roster: %w", err)
	}
	records, err := p.src.AttendanceRange(ctx, job.CourseID, job.Start, job.End)
	p.metrics.Load("range", err)
	if err != nil {
		return "", "", fmt.Errorf("reportjob: range records: %w", err)
	}
	rep, err := report.BuildRange(job.Course(), students, job.Range(), records)
	if err != nil {
		return "", "", err
	}
	data, err := report.Render(rep.Workbook())
	p.metrics.Report("range", err)
	if err != nil {
		return "", "", err
	}
	res, err := p.up.UploadRaw(ctx, data, rep.Filename, "attendance-report-"+job.ID)
	if err != nil {
		return "", "", err
	}
	return rep.Filename, res.SecureURL, nil
}
