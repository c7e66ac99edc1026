package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/backend"
	"classroll/internal/justification"
	"classroll/internal/logging"
	"classroll/internal/metrics"
	"classroll/internal/persistence"
	"classroll/internal/report"
	"classroll/internal/roster"
)

var (
	ErrNoCourse       = errors.New("session: no course selected")
	ErrSaveInProgress = errors.New("session: save already in progress")
	ErrNoDocument     = errors.New("session: record has no document")
	ErrNotPersisted   = errors.New("session: document not saved yet")
	// ErrStale is returned when a response arrives for a course or date the
	// teacher already navigated away from. The response is discarded.
	ErrStale = errors.New("session: selection changed")
)

// Backend is everything the attendance screen needs from the REST backend.
type Backend interface {
	roster.Source
	persistence.Backend
	Courses(ctx context.Context, teacherID string) ([]attendance.Course, error)
	AttendanceRange(ctx context.Context, courseID string, start, end time.Time) ([]attendance.DatedRecord, error)
}

// Options tunes a session.
type Options struct {
	PageSize  int
	Previewer justification.Previewer
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	// Now defaults to time.Now and decides the initial class date.
	Now func() time.Time
}

// Session is the attendance screen of one teacher: a course and date
// selection, the record store of that selection and its justification
// editor. Network calls run without holding the session lock; results for a
// superseded selection are dropped.
type Session struct {
	teacherID string
	api       Backend
	loader    *roster.Loader
	sync      *persistence.Synchronizer
	preview   justification.Previewer
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu      sync.Mutex
	epoch   uint64
	courses []attendance.Course
	course  attendance.Course
	date    time.Time
	roster  []attendance.Student
	store   *attendance.Store
	flow    *justification.Workflow
	pager   *roster.Pager
	saving  bool
	notices []Notice
}

// New creates a session for teacherID with today's date selected.
func New(teacherID string, api Backend, opts Options) *Session {
	log := logging.OrNop(opts.Log).With(zap.String("teacher_id", teacherID))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	y, m, d := now().Date()
	return &Session{
		teacherID: teacherID,
		api:       api,
		loader:    roster.NewLoader(api, log),
		sync:      persistence.New(api, log),
		preview:   opts.Previewer,
		metrics:   opts.Metrics,
		log:       log,
		date:      time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		pager:     roster.NewPager(opts.PageSize),
	}
}

// TeacherID returns the owner of the session.
func (s *Session) TeacherID() string { return s.teacherID }

// Course returns the selected course; its ID is empty before selection.
func (s *Session) Course() attendance.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.course
}

// Courses lists the teacher's courses and remembers them for selection.
func (s *Session) Courses(ctx context.Context) ([]attendance.Course, error) {
	courses, err := s.api.Courses(ctx, s.teacherID)
	s.metrics.Load("courses", err)
	if err != nil {
		return nil, s.fail("load your courses", fmt.Errorf("session: courses: %w", err))
	}
	s.mu.Lock()
	s.courses = courses
	s.mu.Unlock()
	return courses, nil
}

// SelectCourse switches to courseID: it discards the current store, loads
// the roster and then the attendance already saved for the selected date.
func (s *Session) SelectCourse(ctx context.Context, courseID string) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.course = s.lookupCourseLocked(courseID)
	s.roster = nil
	s.resetStoreLocked(nil)
	s.pager.Reset()
	date := s.date
	s.mu.Unlock()

	students, err := s.loader.Load(ctx, courseID)
	s.metrics.Load("roster", err)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		s.mu.Unlock()
		return s.fail("load the students of the course", err)
	}
	s.roster = students
	store := attendance.NewStore(courseID, date, students)
	s.resetStoreLocked(store)
	s.mu.Unlock()

	return s.loadExisting(ctx, epoch, store)
}

// SelectDate changes the class date. With a course selected the records of
// the new date are loaded; the previous store is discarded either way.
func (s *Session) SelectDate(ctx context.Context, date time.Time) error {
	y, m, d := date.Date()
	date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.date = date
	s.pager.Reset()
	if s.course.ID == "" || s.roster == nil {
		s.resetStoreLocked(nil)
		s.mu.Unlock()
		return nil
	}
	store := attendance.NewStore(s.course.ID, date, s.roster)
	s.resetStoreLocked(store)
	s.mu.Unlock()

	return s.loadExisting(ctx, epoch, store)
}

func (s *Session) loadExisting(ctx context.Context, epoch uint64, store *attendance.Store) error {
	n, err := s.sync.LoadExisting(ctx, store)
	s.metrics.Load("attendance", err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return ErrStale
	}
	if err != nil {
		s.notices = append(s.notices, describe("load the saved attendance", err))
		return err
	}
	if n > 0 {
		s.notices = append(s.notices, Notice{LevelInfo, fmt.Sprintf("Loaded %d saved records.", n)})
	}
	return nil
}

func (s *Session) lookupCourseLocked(id string) attendance.Course {
	for _, c := range s.courses {
		if c.ID == id {
			return c
		}
	}
	return attendance.Course{ID: id}
}

// resetStoreLocked closes the editor of the old store and installs store.
func (s *Session) resetStoreLocked(store *attendance.Store) {
	if s.flow != nil {
		s.flow.Close()
	}
	s.store, s.flow = store, nil
	if store != nil {
		s.flow = justification.New(store, s.sync, s.preview, s.log)
	}
}

func (s *Session) current() (*attendance.Store, *justification.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, nil, ErrNoCourse
	}
	return s.store, s.flow, nil
}

// fail queues a notice for err and returns it.
func (s *Session) fail(action string, err error) error {
	n := describe(action, err)
	if n.Level == LevelError {
		s.log.Warn("attendance operation failed", zap.String("action", action), zap.Error(err))
	}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	return err
}

// SetStatus applies a status. Justified opens the justification editor
// instead of changing the record.
func (s *Session) SetStatus(ctx context.Context, studentID string, status attendance.Status) error {
	store, _, err := s.current()
	if err != nil {
		return s.fail("change the status", err)
	}
	if err := store.SetStatus(ctx, studentID, status); err != nil {
		return s.fail("change the status", err)
	}
	return nil
}

// SetObservation edits the observation of an existing record.
func (s *Session) SetObservation(studentID, text string) error {
	store, _, err := s.current()
	if err == nil {
		err = store.SetObservation(studentID, text)
	}
	if err != nil {
		return s.fail("update the observation", err)
	}
	return nil
}

// ClearDocument detaches the document of a record.
func (s *Session) ClearDocument(studentID string) error {
	store, _, err := s.current()
	if err == nil {
		err = store.ClearDocument(studentID)
	}
	if err != nil {
		return s.fail("remove the document", err)
	}
	return nil
}

// Counts tallies the current records by status.
func (s *Session) Counts() attendance.Counts {
	store, _, err := s.current()
	if err != nil {
		return attendance.Counts{}
	}
	return store.CountByStatus()
}

// Records returns the current records in roster order.
func (s *Session) Records() []attendance.Record {
	store, _, err := s.current()
	if err != nil {
		return nil
	}
	return store.Records()
}

// OpenJustification starts editing the justification of studentID.
func (s *Session) OpenJustification(ctx context.Context, studentID string) error {
	_, flow, err := s.current()
	if err == nil {
		err = flow.Open(ctx, studentID)
	}
	if err != nil {
		return s.fail("open the justification", err)
	}
	return nil
}

// ChangeObservation edits the draft observation.
func (s *Session) ChangeObservation(text string) error {
	_, flow, err := s.current()
	if err == nil {
		err = flow.ChangeObservation(text)
	}
	if err != nil {
		return s.fail("edit the justification", err)
	}
	return nil
}

// AttachFile stages a file on the draft.
func (s *Session) AttachFile(f attendance.StagedFile) error {
	_, flow, err := s.current()
	if err == nil {
		err = flow.AttachFile(f)
	}
	if err != nil {
		return s.fail("attach the file", err)
	}
	return nil
}

// RemoveAttachedFile drops the staged file of the draft.
func (s *Session) RemoveAttachedFile() error {
	_, flow, err := s.current()
	if err == nil {
		err = flow.RemoveAttachedFile()
	}
	if err != nil {
		return s.fail("remove the file", err)
	}
	return nil
}

// CommitJustification writes the draft as a justified record.
func (s *Session) CommitJustification() (attendance.Record, error) {
	_, flow, err := s.current()
	if err != nil {
		return attendance.Record{}, s.fail("save the justification", err)
	}
	rec, err := flow.Commit()
	if err != nil {
		return attendance.Record{}, s.fail("save the justification", err)
	}
	return rec, nil
}

// CancelJustification discards the draft.
func (s *Session) CancelJustification() error {
	_, flow, err := s.current()
	if err == nil {
		err = flow.Cancel()
	}
	if err != nil {
		return s.fail("close the justification", err)
	}
	return nil
}

// Draft returns the open justification draft.
func (s *Session) Draft() (justification.Draft, bool) {
	_, flow, err := s.current()
	if err != nil {
		return justification.Draft{}, false
	}
	return flow.Draft()
}

// WaitPreview blocks until the draft preview is ready.
func (s *Session) WaitPreview(ctx context.Context) error {
	_, flow, err := s.current()
	if err != nil {
		return err
	}
	return flow.WaitPreview(ctx)
}

// Save sends the current records. Only one save runs at a time.
func (s *Session) Save(ctx context.Context) (persistence.SaveResult, error) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return persistence.SaveResult{}, s.fail("save", ErrSaveInProgress)
	}
	store := s.store
	if store == nil {
		s.mu.Unlock()
		return persistence.SaveResult{}, s.fail("save", ErrNoCourse)
	}
	s.saving = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	res, err := s.sync.Save(ctx, store, s.teacherID)
	if err != nil {
		s.metrics.Save(saveOutcome(err))
		return res, s.fail("save the attendance", err)
	}
	s.metrics.Save("ok")

	s.mu.Lock()
	s.notices = append(s.notices, Notice{LevelSuccess, fmt.Sprintf("Attendance saved: %d records, %d documents.", res.Records, res.Documents)})
	if res.ReloadErr != nil {
		s.notices = append(s.notices, Notice{LevelWarning, "Saved, but the updated attendance could not be reloaded."})
	}
	s.mu.Unlock()
	return res, nil
}

func saveOutcome(err error) string {
	var missing *persistence.MissingStudentsError
	if errors.As(err, &missing) || errors.Is(err, persistence.ErrNoRecords) || errors.Is(err, persistence.ErrMissingTeacher) {
		return "rejected"
	}
	return "error"
}

// Saving reports whether a save is outstanding.
func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// Export is a rendered workbook.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DailyReport renders the workbook of the current course and date from the
// records on screen.
func (s *Session) DailyReport() (Export, error) {
	s.mu.Lock()
	store, course, date := s.store, s.course, s.date
	students := s.roster
	s.mu.Unlock()
	if store == nil {
		return Export{}, s.fail("generate the report", ErrNoCourse)
	}

	rep := report.BuildDaily(course, date, students, store.Records())
	data, err := report.Render(rep.Workbook())
	s.metrics.Report("daily", err)
	if err != nil {
		return Export{}, s.fail("generate the report", err)
	}
	return Export{Filename: rep.Filename, ContentType: report.ContentType, Data: data}, nil
}

// RangeReport renders the workbook of the current course over [start, end].
func (s *Session) RangeReport(ctx context.Context, start, end time.Time) (Export, error) {
	rng := report.DateRange{Start: start, End: end}
	if err := rng.Validate(); err != nil {
		return Export{}, s.fail("generate the report", err)
	}
	s.mu.Lock()
	course, students := s.course, s.roster
	s.mu.Unlock()
	if course.ID == "" {
		return Export{}, s.fail("generate the report", ErrNoCourse)
	}

	records, err := s.api.AttendanceRange(ctx, course.ID, start, end)
	s.metrics.Load("range", err)
	if err != nil {
		return Export{}, s.fail("load the attendance of the period", fmt.Errorf("session: range: %w", err))
	}
	rep, err := report.BuildRange(course, students, rng, records)
	var data []byte
	if err == nil {
		data, err = report.Render(rep.Workbook())
	}
	s.metrics.Report("range", err)
	if err != nil {
		return Export{}, s.fail("generate the report", err)
	}
	return Export{Filename: rep.Filename, ContentType: report.ContentType, Data: data}, nil
}

func (s *Session) documentOf(studentID string) (attendance.Record, attendance.Student, time.Time, error) {
	s.mu.Lock()
	store, date := s.store, s.date
	s.mu.Unlock()
	if store == nil {
		return attendance.Record{}, attendance.Student{}, date, ErrNoCourse
	}
	st, ok := store.Student(studentID)
	if !ok {
		return attendance.Record{}, attendance.Student{}, date, attendance.ErrUnknownStudent
	}
	rec, ok := store.Get(studentID)
	if !ok || !rec.HasDocument() {
		return attendance.Record{}, st, date, ErrNoDocument
	}
	return rec, st, date, nil
}

// ViewDocument resolves where a saved document can be opened.
func (s *Session) ViewDocument(ctx context.Context, studentID string) (backend.DocumentInfo, error) {
	rec, _, _, err := s.documentOf(studentID)
	if err == nil && rec.Document.IsStaged() {
		err = ErrNotPersisted
	}
	if err != nil {
		return backend.DocumentInfo{}, s.fail("open the document", err)
	}
	info, err := s.sync.FetchDocument(ctx, rec.Document.Remote.RecordID)
	s.metrics.Document("view", err)
	if err != nil {
		return backend.DocumentInfo{}, s.fail("open the document", err)
	}
	return info, nil
}

// DownloadDocument returns the document of studentID under its normalized
// download name. Staged documents are served from memory.
func (s *Session) DownloadDocument(ctx context.Context, studentID string) (persistence.Download, error) {
	rec, st, date, err := s.documentOf(studentID)
	if err != nil {
		return persistence.Download{}, s.fail("download the document", err)
	}
	if f := rec.Document.Staged; f != nil {
		s.metrics.Document("download", nil)
		return persistence.Download{
			Filename:    persistence.DownloadFilename(f.Name, st.FullName(), date),
			ContentType: f.ContentType,
			Body:        io.NopCloser(bytes.NewReader(f.Data)),
		}, nil
	}
	dl, err := s.sync.DownloadDocument(ctx, rec.Document.Remote.RecordID, rec.Document.Meta.Filename, st.FullName(), date)
	s.metrics.Document("download", err)
	if err != nil {
		return persistence.Download{}, s.fail("download the document", err)
	}
	return dl, nil
}

// Page is one page of the roster.
type Page struct {
	Number   int                  `json:"page"`
	Count    int                  `json:"page_count"`
	Size     int                  `json:"page_size"`
	Total    int                  `json:"total"`
	Students []attendance.Student `json:"students"`
}

// Page moves to page n (clamped) and returns it. n < 1 keeps the current page.
func (s *Session) Page(n int) Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageLocked(n)
}

func (s *Session) pageLocked(n int) Page {
	total := len(s.roster)
	if n >= 1 {
		s.pager.SetPage(n, total)
	}
	students := s.pager.Slice(s.roster)
	return Page{
		Number:   s.pager.Current(),
		Count:    s.pager.PageCount(total),
		Size:     s.pager.Size(),
		Total:    total,
		Students: students,
	}
}

// Notices drains the pending notices.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

// Close discards the store and stops any preview work.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.resetStoreLocked(nil)
}
