package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/backend"
	"classroll/internal/justification"
	"classroll/internal/logging"
	"classroll/internal/persistence"
	"classroll/internal/report"
	"classroll/internal/reportjob"
	"classroll/internal/session"
)

// MaxUploadBytes bounds a justification file upload.
const MaxUploadBytes = 10 << 20

// Handler serves the attendance screen over HTTP.
type Handler struct {
	sessions *session.Manager
	jobs     *reportjob.Service
	log      *zap.Logger
}

// New creates a handler. jobs may be nil when async reports are disabled.
func New(sessions *session.Manager, jobs *reportjob.Service, log *zap.Logger) *Handler {
	return &Handler{sessions: sessions, jobs: jobs, log: logging.OrNop(log)}
}

// Register mounts the /v1 routes on r behind mw (authentication first).
func (h *Handler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	v1 := r.Group("/v1", mw...)

	v1.GET("/courses", h.courses)

	s := v1.Group("/session")
	s.GET("", h.view)
	s.POST("/course", h.selectCourse)
	s.POST("/date", h.selectDate)
	s.POST("/save", h.save)

	rec := s.Group("/records/:studentId")
	rec.PUT("/status", h.setStatus)
	rec.PUT("/observation", h.setObservation)
	rec.DELETE("/document", h.clearDocument)
	rec.GET("/document", h.viewDocument)
	rec.GET("/document/download", h.downloadDocument)
	rec.POST("/justification", h.openJustification)

	d := s.Group("/draft")
	d.PUT("/observation", h.draftObservation)
	d.POST("/file", h.attachFile)
	d.DELETE("/file", h.removeFile)
	d.POST("/commit", h.commit)
	d.POST("/cancel", h.cancel)

	s.GET("/reports/daily", h.dailyReport)
	s.GET("/reports/range", h.rangeReport)

	v1.POST("/reports/range", h.queueRangeReport)
	v1.GET("/reports", h.listJobs)
	v1.GET("/reports/:id", h.getJob)
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok || claims.Subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, false
	}
	return h.sessions.Get(claims.Subject), true
}

// reply writes body with the pending notices of s.
func reply(c *gin.Context, s *session.Session, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["notices"] = s.Notices()
	c.JSON(status, body)
}

func (h *Handler) fail(c *gin.Context, s *session.Session, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	reply(c, s, status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var missing *persistence.MissingStudentsError
	var se *backend.StatusError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, persistence.ErrNoRecords),
		errors.Is(err, persistence.ErrMissingTeacher),
		errors.Is(err, report.ErrRangeMissing),
		errors.Is(err, report.ErrRangeOrder),
		errors.Is(err, session.ErrNoCourse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidDate),
		errors.Is(err, justification.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrUnknownStudent),
		errors.Is(err, attendance.ErrNoRecord),
		errors.Is(err, session.ErrNoDocument),
		errors.Is(err, reportjob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSaveInProgress),
		errors.Is(err, session.ErrStale),
		errors.Is(err, session.ErrNotPersisted),
		errors.Is(err, justification.ErrNotEditing),
		errors.Is(err, justification.ErrDraftOpen):
		return http.StatusConflict
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) courses(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	courses, err := s.Courses(c.Request.Context())
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"courses": courses})
}

func (h *Handler) view(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if p := c.Query("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			reply(c, s, http.StatusBadRequest, gin.H{"error": "page must be a number"})
			return
		}
		s.Page(n)
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) selectCourse(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		CourseID string `json:"course_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.SelectCourse(c.Request.Context(), req.CourseID); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) selectDate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Date string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := attendance.ParseDate(req.Date)
	if err == nil {
		err = s.SelectDate(c.Request.Context(), date)
	}
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) setStatus(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err == nil {
		err = s.SetStatus(c.Request.Context(), c.Param("studentId"), status)
	}
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) setObservation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Observation string `json:"observation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.SetObservation(c.Param("studentId"), req.Observation); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) clearDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ClearDocument(c.Param("studentId")); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) viewDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	info, err := s.ViewDocument(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"document": info})
}

func (h *Handler) downloadDocument(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	dl, err := s.DownloadDocument(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.fail(c, s, err)
		return
	}
	defer dl.Body.Close()
	ct := dl.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, ct, dl.Body, map[string]string{
		"Content-Disposition": attachment(dl.Filename),
	})
}

func (h *Handler) openJustification(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.OpenJustification(c.Request.Context(), c.Param("studentId")); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) draftObservation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Observation string `json:"observation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ChangeObservation(req.Observation); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) attachFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	staged := attendance.StagedFile{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
	if err := s.AttachFile(staged); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) removeFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.RemoveAttachedFile(); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) commit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := s.CommitJustification(); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.CancelJustification(); err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"session": s.View()})
}

func (h *Handler) save(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	res, err := s.Save(c.Request.Context())
	if err != nil {
		body := gin.H{"error": err.Error()}
		var missing *persistence.MissingStudentsError
		if errors.As(err, &missing) {
			body["missing_students"] = missing.Names()
		}
		reply(c, s, statusFor(err), body)
		return
	}
	body := gin.H{"records": res.Records, "documents": res.Documents, "session": s.View()}
	if res.ReloadErr != nil {
		body["reload_error"] = res.ReloadErr.Error()
	}
	reply(c, s, http.StatusOK, body)
}

func (h *Handler) dailyReport(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	exp, err := s.DailyReport()
	if err != nil {
		h.fail(c, s, err)
		return
	}
	sendExport(c, exp)
}

func (h *Handler) rangeReport(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	rng, err := parseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		h.fail(c, s, err)
		return
	}
	exp, err := s.RangeReport(c.Request.Context(), rng.Start, rng.End)
	if err != nil {
		h.fail(c, s, err)
		return
	}
	sendExport(c, exp)
}

func (h *Handler) queueRangeReport(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.jobs == nil {
		reply(c, s, http.StatusServiceUnavailable, gin.H{"error": "report jobs are not configured"})
		return
	}
	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, s, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rng, err := parseRange(req.Start, req.End)
	if err != nil {
		h.fail(c, s, err)
		return
	}
	course := s.Course()
	if course.ID == "" {
		h.fail(c, s, session.ErrNoCourse)
		return
	}
	job, err := h.jobs.Enqueue(c.Request.Context(), s.TeacherID(), course, rng)
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusAccepted, gin.H{"job": job})
}

func (h *Handler) getJob(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.jobs == nil {
		reply(c, s, http.StatusServiceUnavailable, gin.H{"error": "report jobs are not configured"})
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), s.TeacherID(), c.Param("id"))
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"job": job})
}

func (h *Handler) listJobs(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if h.jobs == nil {
		reply(c, s, http.StatusServiceUnavailable, gin.H{"error": "report jobs are not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.jobs.List(c.Request.Context(), s.TeacherID(), limit)
	if err != nil {
		h.fail(c, s, err)
		return
	}
	reply(c, s, http.StatusOK, gin.H{"jobs": jobs})
}

// parseRange parses optional YYYY-MM-DD bounds; missing bounds are left zero
// so range validation reports them.
func parseRange(start, end string) (report.DateRange, error) {
	var rng report.DateRange
	var err error
	if start != "" {
		if rng.Start, err = attendance.ParseDate(start); err != nil {
			return rng, err
		}
	}
	if end != "" {
		if rng.End, err = attendance.ParseDate(end); err != nil {
			return rng, err
		}
	}
	return rng, rng.Validate()
}

func sendExport(c *gin.Context, exp session.Export) {
	c.Header("Content-Disposition", attachment(exp.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, exp.ContentType, exp.Data)
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

// Health reports dependency state for /healthz.
type Health struct {
	Checks map[string]func(*gin.Context) bool
}

// Handle answers 200 when every check passes, 503 otherwise.
func (hc Health) Handle(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"time": time.Now().UTC().Format(time.RFC3339)}
	for name, check := range hc.Checks {
		ok := check(c)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
