package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"classroll/internal/auth"
	"classroll/internal/backend"
	"classroll/internal/queue"
	"classroll/internal/reportjob"
	"classroll/internal/session"
)

const (
	signingKey = "test-key"
	issuer     = "classroll-test"
)

// schoolBackend is a minimal stand-in for the school REST backend.
type schoolBackend struct {
	mu       sync.Mutex
	bearers  []string
	payloads []map[string]any
	files    []string
	records  []map[string]any
}

func (b *schoolBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/teachers/t1/courses", func(w http.ResponseWriter, r *http.Request) {
		b.track(r)
		_, _ = io.WriteString(w, `[{"id": 7, "name": "Math 101", "schedule": "Mon 9:00", "category": "Science", "enrolled_count": 2}]`)
	})
	mux.HandleFunc("/api/courses/7/students", func(w http.ResponseWriter, r *http.Request) {
		b.track(r)
		_, _ = io.WriteString(w, `[
			{"id": 1, "national_id": "11", "given_name": "Ana", "family_name": "García"},
			{"id": 2, "national_id": "22", "given_name": "Luis", "family_name": "Pérez"}
		]`)
	})
	mux.HandleFunc("/api/attendance", func(w http.ResponseWriter, r *http.Request) {
		b.track(r)
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			var payload map[string]any
			require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload")), &payload))
			b.mu.Lock()
			b.payloads = append(b.payloads, payload)
			for name := range r.MultipartForm.File {
				b.files = append(b.files, name)
			}
			b.records = nil
			recs, _ := payload["records"].([]any)
			for i, rec := range recs {
				m := rec.(map[string]any)
				m["id"] = i + 1
				b.records = append(b.records, m)
			}
			b.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.records == nil {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(b.records))
	})
	mux.HandleFunc("/api/attendance/range", func(w http.ResponseWriter, r *http.Request) {
		b.track(r)
		_, _ = io.WriteString(w, `[{"id": 1, "date": "2024-03-04", "student_id": 1, "status": "present"}]`)
	})
	return mux
}

func (b *schoolBackend) track(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bearers = append(b.bearers, r.Header.Get("Authorization"))
}

type fixture struct {
	t      *testing.T
	router *gin.Engine
	school *schoolBackend
	token  string
}

func newFixture(t *testing.T, jobs *reportjob.Service) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	school := &schoolBackend{}
	srv := httptest.NewServer(school.handler(t))
	t.Cleanup(srv.Close)

	api := backend.New(srv.URL, 5*time.Second, auth.ContextTokens{})
	now := func() time.Time { return time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC) }
	mgr := session.NewManager(func(id string) *session.Session {
		return session.New(id, api, session.Options{Now: now})
	})

	r := gin.New()
	New(mgr, jobs, nil).Register(r, auth.TeacherAuth(signingKey, issuer))

	tok, err := auth.Issue("t1", auth.RoleTeacher, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return &fixture{t: t, router: r, school: school, token: tok.Value}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRequiresBearer(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/courses", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTakeAttendanceFlow(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/v1/courses", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["courses"], 1)

	w = f.do(http.MethodPost, "/v1/session/course", gin.H{"course_id": "7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/v1/session/save", nil).Code)

	w = f.do(http.MethodPut, "/v1/session/records/1/status", gin.H{"status": "present"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/v1/session/save", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{"Luis Pérez"}, body["missing_students"])
	assert.NotEmpty(t, body["notices"])

	w = f.do(http.MethodPut, "/v1/session/records/2/status", gin.H{"status": "sick"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodPut, "/v1/session/records/2/status", gin.H{"status": "absent"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/v1/session/save", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.EqualValues(t, 2, body["records"])
	assert.Equal(t, true, body["session"].(map[string]any)["saved"])

	f.school.mu.Lock()
	require.Len(t, f.school.payloads, 1)
	assert.Equal(t, "t1", f.school.payloads[0]["teacher_id"])
	assert.Equal(t, "2024-03-07", f.school.payloads[0]["date"])
	for _, b := range f.school.bearers {
		assert.Equal(t, "Bearer "+f.token, b)
	}
	f.school.mu.Unlock()

	w = f.do(http.MethodGet, "/v1/session/reports/daily", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Attendance_Math_101_2024-03-07.xlsx")
	xl, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer xl.Close()
	rows, err := xl.GetRows("Detail")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestJustificationUpload(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/course", gin.H{"course_id": "7"}).Code)

	w := f.do(http.MethodPut, "/v1/session/records/2/status", gin.H{"status": "justified"})
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode(t, w)["session"].(map[string]any)
	assert.Equal(t, "2", sess["draft"].(map[string]any)["student_id"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "note.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.4 note"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/session/draft/file", &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodPut, "/v1/session/draft/observation", gin.H{"observation": "doctor"}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/draft/commit", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/v1/session/draft/commit", nil).Code)

	w = f.do(http.MethodGet, "/v1/session/records/2/document/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Justificacion_PEREZ_Luis_07-03-2024.pdf")
	assert.Equal(t, "%PDF-1.4 note", w.Body.String())

	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/v1/session/records/2/document", nil).Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPut, "/v1/session/records/1/status", gin.H{"status": "late"}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/save", nil).Code)
	f.school.mu.Lock()
	assert.Equal(t, []string{"document_2"}, f.school.files)
	f.school.mu.Unlock()
}

func TestRangeReportValidation(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/course", gin.H{"course_id": "7"}).Code)

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/v1/session/reports/range?start=2024-03-31&end=2024-03-01", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/v1/session/reports/range?start=2024-03-01", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/session/reports/range?start=03/01/2024&end=2024-03-31", nil).Code)

	w := f.do(http.MethodGet, "/v1/session/reports/range?start=2024-03-01&end=2024-03-31", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Report_Attendance_Math_101_2024-03-01_to_2024-03-31.xlsx")
}

func TestPageQuery(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/course", gin.H{"course_id": "7"}).Code)

	w := f.do(http.MethodGet, "/v1/session?page=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)["session"].(map[string]any)["page"].(map[string]any)
	assert.EqualValues(t, 1, page["page"])
	assert.EqualValues(t, 2, page["total"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/session?page=x", nil).Code)
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]reportjob.Job
}

func (m *memJobs) Insert(_ context.Context, job reportjob.Job) (reportjob.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = "job-1"
	job.Status = reportjob.StatusPending
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memJobs) Get(_ context.Context, id string) (reportjob.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return reportjob.Job{}, reportjob.ErrNotFound
	}
	return job, nil
}

func (m *memJobs) ListByTeacher(context.Context, string, int) ([]reportjob.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reportjob.Job
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memJobs) Claim(context.Context, string) (bool, error)             { return true, nil }
func (m *memJobs) Complete(context.Context, string, string, string) error { return nil }
func (m *memJobs) Fail(context.Context, string, string) error             { return nil }

func TestQueueRangeReport(t *testing.T) {
	jobs := &memJobs{jobs: map[string]reportjob.Job{}}
	f := newFixture(t, reportjob.NewService(jobs, queue.NewInMemory(4), nil))

	w := f.do(http.MethodPost, "/v1/reports/range", gin.H{"start": "2024-03-01", "end": "2024-03-31"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/session/course", gin.H{"course_id": "7"}).Code)
	w = f.do(http.MethodPost, "/v1/reports/range", gin.H{"start": "2024-03-01", "end": "2024-03-31"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode(t, w)["job"].(map[string]any)
	assert.Equal(t, "pending", job["status"])
	assert.Equal(t, "7", job["course_id"])

	w = f.do(http.MethodGet, "/v1/reports/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/reports/other", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/reports", nil).Code)
}

func TestJobsDisabled(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/v1/reports", nil).Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	up := true
	r.GET("/healthz", Health{Checks: map[string]func(*gin.Context) bool{
		"redis": func(*gin.Context) bool { return up },
	}}.Handle)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	up = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
