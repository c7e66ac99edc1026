package roster

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/logging"
)

// Source lists the students enrolled in a course.
type Source interface {
	Roster(ctx context.Context, courseID string) ([]attendance.Student, error)
}

// Loader fetches rosters. It never retries; a failed load yields an empty
// roster and the error.
type Loader struct {
	src Source
	log *zap.Logger
}

// NewLoader creates a loader backed by src.
func NewLoader(src Source, log *zap.Logger) *Loader {
	return &Loader{src: src, log: logging.OrNop(log)}
}

// Load returns the ordered roster of courseID.
func (l *Loader) Load(ctx context.Context, courseID string) ([]attendance.Student, error) {
	if courseID == "" {
		return nil, errors.New("roster: course id required")
	}
	students, err := l.src.Roster(ctx, courseID)
	if err != nil {
		l.log.Warn("roster load failed", zap.String("course_id", courseID), zap.Error(err))
		return nil, fmt.Errorf("roster: load course %s: %w", courseID, err)
	}
	l.log.Debug("roster loaded", zap.String("course_id", courseID), zap.Int("students", len(students)))
	return students, nil
}
