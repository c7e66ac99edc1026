package justification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/logging"
)

// State of the justification editor.
type State int

const (
	Closed State = iota
	Editing
	Committing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Editing:
		return "editing"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrNotEditing = errors.New("justification: no draft open")
	ErrDraftOpen  = errors.New("justification: a draft is already open")
	ErrEmptyFile  = errors.New("justification: file is empty")
)

// Resolver confirms that a persisted document still exists and returns its
// current metadata.
type Resolver interface {
	DocumentMeta(ctx context.Context, recordID string) (attendance.DocumentMeta, error)
}

// Draft is the editable copy of one student's justification.
type Draft struct {
	StudentID   string                   `json:"student_id"`
	Observation string                   `json:"observation"`
	FileName    string                   `json:"file_name,omitempty"`
	FileType    string                   `json:"file_type,omitempty"`
	FileSizeKB  float64                  `json:"file_size_kb,omitempty"`
	Preview     string                   `json:"preview,omitempty"`
	Existing    *attendance.DocumentMeta `json:"existing_document,omitempty"`

	file   *attendance.StagedFile
	remote *attendance.Document
}

// HasFile reports whether a new or staged file is attached to the draft.
func (d Draft) HasFile() bool { return d.file != nil }

type previewTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Workflow owns the single justification draft of an attendance store.
type Workflow struct {
	store    *attendance.Store
	resolver Resolver
	preview  Previewer
	log      *zap.Logger

	mu    sync.Mutex
	state State
	draft Draft
	task  *previewTask
	seq   uint64
}

// New creates a workflow and registers it as the store's justification
// editor. resolver may be nil.
func New(store *attendance.Store, resolver Resolver, preview Previewer, log *zap.Logger) *Workflow {
	w := &Workflow{
		store:    store,
		resolver: resolver,
		preview:  preview,
		log:      logging.OrNop(log),
	}
	store.SetJustificationEditor(w)
	return w
}

// State returns the current editor state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Draft returns a copy of the open draft.
func (w *Workflow) Draft() (Draft, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return Draft{}, false
	}
	return w.draft, true
}

// Open starts editing studentID, pre-filled from its record when one exists.
func (w *Workflow) Open(ctx context.Context, studentID string) error {
	if _, ok := w.store.Student(studentID); !ok {
		return attendance.ErrUnknownStudent
	}
	w.mu.Lock()
	if w.state != Closed {
		w.mu.Unlock()
		return ErrDraftOpen
	}
	w.mu.Unlock()

	draft := Draft{StudentID: studentID}
	if rec, ok := w.store.Get(studentID); ok {
		draft.Observation = rec.Observation
		switch {
		case rec.Document.IsStaged():
			f := *rec.Document.Staged
			draft.setFile(&f)
		case rec.Document.IsRemote():
			draft.remote = rec.Document
			draft.Existing = w.resolveExisting(ctx, rec.Document)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Closed {
		return ErrDraftOpen
	}
	w.state = Editing
	w.draft = draft
	if draft.file != nil && draft.file.IsImage() {
		w.startPreviewLocked(*draft.file)
	}
	return nil
}

// resolveExisting returns the metadata to show for a remote document, or nil
// when it cannot be resolved. Failures never block editing.
func (w *Workflow) resolveExisting(ctx context.Context, doc *attendance.Document) *attendance.DocumentMeta {
	meta := doc.Meta
	if w.resolver == nil {
		return &meta
	}
	resolved, err := w.resolver.DocumentMeta(ctx, doc.Remote.RecordID)
	if err != nil {
		w.log.Warn("justification document unavailable, editing without it",
			zap.String("record_id", doc.Remote.RecordID), zap.Error(err))
		return nil
	}
	if resolved.Filename == "" {
		resolved.Filename = meta.Filename
	}
	if resolved.SizeKB == 0 {
		resolved.SizeKB = meta.SizeKB
	}
	if resolved.Type == "" {
		resolved.Type = meta.Type
	}
	return &resolved
}

// ChangeObservation replaces the draft observation text.
func (w *Workflow) ChangeObservation(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return ErrNotEditing
	}
	w.draft.Observation = text
	return nil
}

// AttachFile stages f in the draft. Images get a preview computed in the
// background; a newer attach or removal supersedes a pending one.
func (w *Workflow) AttachFile(f attendance.StagedFile) error {
	if len(f.Data) == 0 {
		return ErrEmptyFile
	}
	if f.ContentType == "" || f.ContentType == "application/octet-stream" {
		f.ContentType = mimetype.Detect(f.Data).String()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return ErrNotEditing
	}
	w.stopPreviewLocked()
	w.draft.setFile(&f)
	if f.IsImage() {
		w.startPreviewLocked(f)
	}
	return nil
}

// RemoveAttachedFile drops the draft file and preview. The committed record
// is not touched.
func (w *Workflow) RemoveAttachedFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return ErrNotEditing
	}
	w.stopPreviewLocked()
	w.draft.setFile(nil)
	return nil
}

// Commit writes the draft as a justified record and closes the editor. An
// empty observation without a document is accepted.
func (w *Workflow) Commit() (attendance.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return attendance.Record{}, ErrNotEditing
	}
	w.state = Committing

	rec := attendance.Record{
		StudentID:   w.draft.StudentID,
		Status:      attendance.StatusJustified,
		Observation: w.draft.Observation,
	}
	if prev, ok := w.store.Get(w.draft.StudentID); ok {
		rec.ID = prev.ID
	}
	switch {
	case w.draft.file != nil:
		rec.Document = attendance.NewStagedDocument(*w.draft.file)
	case w.draft.remote != nil:
		rec.Document = w.draft.remote
	}

	if err := w.store.Put(rec); err != nil {
		w.state = Editing
		return attendance.Record{}, fmt.Errorf("justification: commit: %w", err)
	}
	w.log.Debug("justification committed",
		zap.String("student_id", rec.StudentID), zap.Bool("document", rec.HasDocument()))
	w.closeLocked()
	return rec, nil
}

// Cancel closes the editor without touching the store.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Editing {
		return ErrNotEditing
	}
	w.closeLocked()
	return nil
}

// Close discards any open draft; used when the screen context changes.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

// WaitPreview blocks until the pending preview, if any, has finished.
func (w *Workflow) WaitPreview(ctx context.Context) error {
	w.mu.Lock()
	task := w.task
	w.mu.Unlock()
	if task == nil {
		return nil
	}
	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workflow) closeLocked() {
	w.stopPreviewLocked()
	w.state = Closed
	w.draft = Draft{}
}

func (w *Workflow) stopPreviewLocked() {
	w.seq++
	if w.task != nil {
		w.task.cancel()
		w.task = nil
	}
}

func (w *Workflow) startPreviewLocked(f attendance.StagedFile) {
	w.seq++
	id := w.seq
	ctx, cancel := context.WithCancel(context.Background())
	task := &previewTask{cancel: cancel, done: make(chan struct{})}
	w.task = task

	go func() {
		defer close(task.done)
		defer cancel()
		url, err := w.preview.Preview(ctx, f)

		w.mu.Lock()
		defer w.mu.Unlock()
		if id != w.seq || w.state != Editing {
			return
		}
		if err != nil {
			w.log.Info("justification preview failed", zap.String("file", f.Name), zap.Error(err))
			return
		}
		w.draft.Preview = url
	}()
}

func (d *Draft) setFile(f *attendance.StagedFile) {
	d.file = f
	d.Preview = ""
	if f == nil {
		d.FileName, d.FileType, d.FileSizeKB = "", "", 0
		return
	}
	d.FileName = f.Name
	d.FileType = f.ContentType
	d.FileSizeKB = f.SizeKB()
}
