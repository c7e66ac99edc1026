package reportjob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schema creates the job table.
const Schema = `
CREATE TABLE IF NOT EXISTS report_jobs (
	id              UUID PRIMARY KEY,
	teacher_id      TEXT NOT NULL,
	course_id       TEXT NOT NULL,
	course_name     TEXT NOT NULL DEFAULT '',
	course_category TEXT NOT NULL DEFAULT '',
	course_schedule TEXT NOT NULL DEFAULT '',
	start_date      DATE NOT NULL,
	end_date        DATE NOT NULL,
	status          TEXT NOT NULL,
	file_name       TEXT NOT NULL DEFAULT '',
	file_url        TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS report_jobs_teacher_idx ON report_jobs (teacher_id, created_at DESC);
`

const jobColumns = `id, teacher_id, course_id, course_name, course_category, course_schedule,
	start_date, end_date, status, file_name, file_url, error, created_at, updated_at`

// Repository persists report jobs in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the job table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("reportjob: ensure schema: %w", err)
	}
	return nil
}

// Insert writes a new pending job.
func (r *Repository) Insert(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.Status = StatusPending
	job.CreatedAt, job.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_jobs (id, teacher_id, course_id, course_name, course_category, course_schedule,
			start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, job.TeacherID, job.CourseID, job.CourseName, job.CourseCategory, job.CourseSchedule,
		job.Start, job.End, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("reportjob: insert: %w", err)
	}
	return job, nil
}

// Get fetches a job by id.
func (r *Repository) Get(ctx context.Context, id string) (Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Job{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// ListByTeacher returns the latest jobs of a teacher, newest first.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID string, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM report_jobs
		WHERE teacher_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, teacherID, limit)
	if err != nil {
		return nil, fmt.Errorf("reportjob: list: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim moves a pending job to processing. It reports false when another
// worker already took it or it is finished.
func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE report_jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, string(StatusProcessing), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("reportjob: claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete records the uploaded workbook.
func (r *Repository) Complete(ctx context.Context, id, fileName, fileURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE report_jobs SET status = $2, file_name = $3, file_url = $4, error = '', updated_at = NOW()
		WHERE id = $1
	`, id, string(StatusDone), fileName, fileURL)
	if err != nil {
		return fmt.Errorf("reportjob: complete %s: %w", id, err)
	}
	return nil
}

// Fail records why a job could not be produced.
func (r *Repository) Fail(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE report_jobs SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(StatusFailed), reason)
	if err != nil {
		return fmt.Errorf("reportjob: fail %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var job Job
	var status string
	err := s.Scan(&job.ID, &job.TeacherID, &job.CourseID, &job.CourseName, &job.CourseCategory, &job.CourseSchedule,
		&job.Start, &job.End, &status, &job.FileName, &job.FileURL, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	return job, nil
}
