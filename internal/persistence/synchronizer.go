package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/backend"
	"classroll/internal/logging"
)

var (
	ErrMissingTeacher = errors.New("attendance: no teacher selected")
	ErrNoRecords      = errors.New("attendance: there are no records to save")
)

// MissingStudentsError rejects a save that does not cover the whole roster.
type MissingStudentsError struct {
	Students []attendance.Student
}

// Names lists the missing students as "GivenName FamilyName".
func (e *MissingStudentsError) Names() []string {
	names := make([]string, 0, len(e.Students))
	for _, st := range e.Students {
		names = append(names, st.DisplayName())
	}
	return names
}

func (e *MissingStudentsError) Error() string {
	return "attendance: students without a status: " + strings.Join(e.Names(), ", ")
}

// Backend is the slice of the REST client used here.
type Backend interface {
	Attendance(ctx context.Context, courseID string, date time.Time) ([]attendance.Record, error)
	SaveAttendance(ctx context.Context, req backend.SaveRequest) error
	Document(ctx context.Context, recordID string) (backend.DocumentInfo, error)
	OpenDocument(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// Synchronizer moves attendance between a Store and the backend.
type Synchronizer struct {
	api Backend
	log *zap.Logger
}

// New creates a synchronizer.
func New(api Backend, log *zap.Logger) *Synchronizer {
	return &Synchronizer{api: api, log: logging.OrNop(log)}
}

// LoadExisting replaces the store content with what the backend holds for
// the store's (course, date). On failure the store is left as it was.
func (s *Synchronizer) LoadExisting(ctx context.Context, store *attendance.Store) (int, error) {
	records, err := s.api.Attendance(ctx, store.CourseID(), store.Date())
	if err != nil {
		return 0, fmt.Errorf("attendance: load %s on %s: %w", store.CourseID(), attendance.FormatDate(store.Date()), err)
	}
	if dropped := store.Replace(records); dropped > 0 {
		s.log.Warn("ignored attendance records outside the roster",
			zap.String("course_id", store.CourseID()), zap.Int("dropped", dropped))
	}
	return store.Len(), nil
}

// SaveResult describes a successful save.
type SaveResult struct {
	Records   int
	Documents int
	// ReloadErr is set when the save went through but the canonical state
	// could not be fetched back.
	ReloadErr error
}

// Save validates roster coverage and sends every record in one request.
// Nothing is sent when validation fails.
func (s *Synchronizer) Save(ctx context.Context, store *attendance.Store, teacherID string) (SaveResult, error) {
	if teacherID == "" {
		return SaveResult{}, ErrMissingTeacher
	}
	if store.Len() == 0 {
		return SaveResult{}, ErrNoRecords
	}
	if missing := store.Missing(); len(missing) > 0 {
		return SaveResult{}, &MissingStudentsError{Students: missing}
	}

	records := store.Records()
	res := SaveResult{Records: len(records)}
	for _, rec := range records {
		if rec.Document.IsStaged() {
			res.Documents++
		}
	}
	err := s.api.SaveAttendance(ctx, backend.SaveRequest{
		CourseID:  store.CourseID(),
		TeacherID: teacherID,
		Date:      store.Date(),
		Records:   records,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("attendance: save: %w", err)
	}
	store.MarkSaved()
	s.log.Info("attendance saved",
		zap.String("course_id", store.CourseID()),
		zap.String("date", attendance.FormatDate(store.Date())),
		zap.Int("records", res.Records),
		zap.Int("documents", res.Documents))

	if _, err := s.LoadExisting(ctx, store); err != nil {
		s.log.Warn("reload after save failed", zap.Error(err))
		res.ReloadErr = err
	}
	return res, nil
}

// FetchDocument resolves the URL and metadata of a persisted document.
func (s *Synchronizer) FetchDocument(ctx context.Context, recordID string) (backend.DocumentInfo, error) {
	if recordID == "" {
		return backend.DocumentInfo{}, errors.New("attendance: record has not been saved")
	}
	info, err := s.api.Document(ctx, recordID)
	if err != nil {
		return backend.DocumentInfo{}, fmt.Errorf("attendance: document of record %s: %w", recordID, err)
	}
	return info, nil
}

// DocumentMeta lets the justification editor confirm a remote document.
func (s *Synchronizer) DocumentMeta(ctx context.Context, recordID string) (attendance.DocumentMeta, error) {
	info, err := s.FetchDocument(ctx, recordID)
	if err != nil {
		return attendance.DocumentMeta{}, err
	}
	return attendance.DocumentMeta{Filename: info.Filename, SizeKB: info.SizeKB, Type: info.MimeType}, nil
}

// Download is a renamed justification document ready to be saved by the
// caller. Body must be closed.
type Download struct {
	Filename    string
	ContentType string
	Body        io.ReadCloser
}

// DownloadDocument fetches a persisted document under its normalized name.
func (s *Synchronizer) DownloadDocument(ctx context.Context, recordID, originalFilename, studentFullName string, date time.Time) (Download, error) {
	info, err := s.FetchDocument(ctx, recordID)
	if err != nil {
		return Download{}, err
	}
	if originalFilename == "" {
		originalFilename = info.Filename
	}
	body, ct, err := s.api.OpenDocument(ctx, info.URL)
	if err != nil {
		return Download{}, fmt.Errorf("attendance: download record %s: %w", recordID, err)
	}
	if ct == "" || ct == "application/octet-stream" {
		if info.MimeType != "" {
			ct = info.MimeType
		}
	}
	return Download{
		Filename:    DownloadFilename(originalFilename, studentFullName, date),
		ContentType: ct,
		Body:        body,
	}, nil
}
