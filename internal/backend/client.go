package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"classroll/internal/attendance"
)

// TokenSource supplies the bearer credential attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Code, e.Body)
}

// Client calls the school backend REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// flexID accepts identifiers encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(b)
	return nil
}

type courseDTO struct {
	ID            flexID `json:"id"`
	Name          string `json:"name"`
	Schedule      string `json:"schedule"`
	Category      string `json:"category"`
	EnrolledCount int    `json:"enrolled_count"`
}

type studentDTO struct {
	ID         flexID `json:"id"`
	NationalID string `json:"national_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
}

type attendanceDTO struct {
	ID           flexID  `json:"id"`
	StudentID    flexID  `json:"student_id"`
	Status       string  `json:"status"`
	Observation  string  `json:"observation"`
	HasDocument  bool    `json:"has_document"`
	DocumentName string  `json:"document_name"`
	DocumentKB   float64 `json:"document_size_kb"`
	DocumentType string  `json:"document_type"`
}

type rangeDTO struct {
	ID          flexID `json:"id"`
	Date        string `json:"date"`
	StudentID   flexID `json:"student_id"`
	Status      string `json:"status"`
	Observation string `json:"observation"`
}

// DocumentInfo resolves a persisted justification document.
type DocumentInfo struct {
	URL      string  `json:"url"`
	MimeType string  `json:"mime_type"`
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"size_kb"`
}

// Courses lists the courses taught by a teacher.
func (c *Client) Courses(ctx context.Context, teacherID string) ([]attendance.Course, error) {
	var out []courseDTO
	if err := c.getJSON(ctx, "/api/teachers/"+url.PathEscape(teacherID)+"/courses", nil, &out); err != nil {
		return nil, err
	}
	courses := make([]attendance.Course, 0, len(out))
	for _, d := range out {
		courses = append(courses, attendance.Course{
			ID:            string(d.ID),
			Name:          d.Name,
			Schedule:      d.Schedule,
			Category:      d.Category,
			EnrolledCount: d.EnrolledCount,
		})
	}
	return courses, nil
}

// Roster lists the students enrolled in a course, in backend order.
func (c *Client) Roster(ctx context.Context, courseID string) ([]attendance.Student, error) {
	var out []studentDTO
	if err := c.getJSON(ctx, "/api/courses/"+url.PathEscape(courseID)+"/students", nil, &out); err != nil {
		return nil, err
	}
	students := make([]attendance.Student, 0, len(out))
	for _, d := range out {
		students = append(students, attendance.Student{
			ID:         string(d.ID),
			NationalID: d.NationalID,
			GivenName:  d.GivenName,
			FamilyName: d.FamilyName,
			Email:      d.Email,
		})
	}
	return students, nil
}

// Attendance returns the records saved for a (course, date) pair.
func (c *Client) Attendance(ctx context.Context, courseID string, date time.Time) ([]attendance.Record, error) {
	q := url.Values{"course_id": {courseID}, "date": {attendance.FormatDate(date)}}
	var out []attendanceDTO
	if err := c.getJSON(ctx, "/api/attendance", q, &out); err != nil {
		return nil, err
	}
	records := make([]attendance.Record, 0, len(out))
	for _, d := range out {
		status, err := attendance.ParseStatus(d.Status)
		if err != nil {
			return nil, fmt.Errorf("backend: record %s: %w", d.ID, err)
		}
		rec := attendance.Record{
			ID:          string(d.ID),
			StudentID:   string(d.StudentID),
			Status:      status,
			Observation: d.Observation,
		}
		if d.HasDocument {
			rec.Document = attendance.NewRemoteDocument(rec.ID, attendance.DocumentMeta{
				Filename: d.DocumentName,
				SizeKB:   d.DocumentKB,
				Type:     d.DocumentType,
			})
		}
		records = append(records, rec)
	}
	return records, nil
}

// AttendanceRange returns every record of a course between start and end,
// both inclusive.
func (c *Client) AttendanceRange(ctx context.Context, courseID string, start, end time.Time) ([]attendance.DatedRecord, error) {
	q := url.Values{
		"course_id": {courseID},
		"start":     {attendance.FormatDate(start)},
		"end":       {attendance.FormatDate(end)},
	}
	var out []rangeDTO
	if err := c.getJSON(ctx, "/api/attendance/range", q, &out); err != nil {
		return nil, err
	}
	records := make([]attendance.DatedRecord, 0, len(out))
	for _, d := range out {
		status, err := attendance.ParseStatus(d.Status)
		if err != nil {
			return nil, fmt.Errorf("backend: record %s: %w", d.ID, err)
		}
		date, err := parseWireDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("backend: record %s: %w", d.ID, err)
		}
		records = append(records, attendance.DatedRecord{
			ID:          string(d.ID),
			Date:        date,
			StudentID:   string(d.StudentID),
			Status:      status,
			Observation: d.Observation,
		})
	}
	return records, nil
}

// parseWireDate accepts plain dates and full timestamps.
func parseWireDate(s string) (time.Time, error) {
	if len(s) > len(attendance.DateLayout) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		s = s[:len(attendance.DateLayout)]
	}
	return attendance.ParseDate(s)
}

// SaveRequest is the multi-part save of one (course, date) context.
type SaveRequest struct {
	CourseID  string
	TeacherID string
	Date      time.Time
	Records   []attendance.Record
}

type savePayload struct {
	CourseID  string          `json:"course_id"`
	TeacherID string          `json:"teacher_id"`
	Date      string          `json:"date"`
	Records   []saveRecordDTO `json:"records"`
}

type saveRecordDTO struct {
	StudentID    string  `json:"student_id"`
	Status       string  `json:"status"`
	Observation  string  `json:"observation"`
	HasDocument  bool    `json:"has_document"`
	DocumentName string  `json:"document_name,omitempty"`
	DocumentKB   float64 `json:"document_size_kb,omitempty"`
	DocumentType string  `json:"document_type,omitempty"`
	NewDocument  bool    `json:"new_document"`
}

// DocumentField is the multipart field name of a staged document.
func DocumentField(studentID string) string {
	return "document_" + studentID
}

// SaveAttendance sends the JSON payload plus one file part for each newly
// staged justification document.
func (c *Client) SaveAttendance(ctx context.Context, req SaveRequest) error {
	payload := savePayload{
		CourseID:  req.CourseID,
		TeacherID: req.TeacherID,
		Date:      attendance.FormatDate(req.Date),
		Records:   make([]saveRecordDTO, 0, len(req.Records)),
	}
	for _, rec := range req.Records {
		dto := saveRecordDTO{
			StudentID:   rec.StudentID,
			Status:      string(rec.Status),
			Observation: rec.Observation,
			HasDocument: rec.HasDocument(),
			NewDocument: rec.Document.IsStaged(),
		}
		if rec.Document != nil {
			dto.DocumentName = rec.Document.Meta.Filename
			dto.DocumentKB = rec.Document.Meta.SizeKB
			dto.DocumentType = rec.Document.Meta.Type
		}
		payload.Records = append(payload.Records, dto)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: encode payload: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload", string(body)); err != nil {
		return fmt.Errorf("backend: write payload: %w", err)
	}
	for _, rec := range req.Records {
		if !rec.Document.IsStaged() {
			continue
		}
		f := rec.Document.Staged
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, DocumentField(rec.StudentID), f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("backend: create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("backend: write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("backend: close multipart: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.BaseURL+"/api/attendance", &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend: request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Document resolves the access URL of a persisted record's document.
func (c *Client) Document(ctx context.Context, recordID string) (DocumentInfo, error) {
	var out DocumentInfo
	if err := c.getJSON(ctx, "/api/attendance/"+url.PathEscape(recordID)+"/document", nil, &out); err != nil {
		return DocumentInfo{}, err
	}
	if out.URL == "" {
		return DocumentInfo{}, fmt.Errorf("backend: record %s has no document url", recordID)
	}
	return out, nil
}

// OpenDocument streams the bytes behind a resolved document URL. Relative
// URLs are resolved against BaseURL. The bearer token is only sent to the
// backend host. The caller closes the body.
func (c *Client) OpenDocument(ctx context.Context, docURL string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(docURL, "/") {
		docURL = c.BaseURL + docURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("backend: create request: %w", err)
	}
	if c.isBackendHost(req.URL) {
		if err := c.authorize(req); err != nil {
			return nil, "", err
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("backend: request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, "", err
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend: request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.Tokens == nil {
		return nil
	}
	tok, err := c.Tokens.Token(req.Context())
	if err != nil {
		return fmt.Errorf("backend: credentials: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func (c *Client) isBackendHost(u *url.URL) bool {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
