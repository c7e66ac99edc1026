package session

import (
	"errors"
	"fmt"
	"strings"

	"classroll/internal/attendance"
	"classroll/internal/justification"
	"classroll/internal/persistence"
	"classroll/internal/report"
)

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient message for the teacher.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// describe turns an operation failure into an actionable message.
func describe(action string, err error) Notice {
	var missing *persistence.MissingStudentsError
	switch {
	case errors.As(err, &missing):
		return Notice{LevelWarning, "These students have no status yet: " + strings.Join(missing.Names(), ", ")}
	case errors.Is(err, persistence.ErrMissingTeacher):
		return Notice{LevelWarning, "No teacher is associated with this session."}
	case errors.Is(err, persistence.ErrNoRecords):
		return Notice{LevelWarning, "There is no attendance to save."}
	case errors.Is(err, report.ErrRangeMissing):
		return Notice{LevelWarning, "Choose both a start and an end date."}
	case errors.Is(err, report.ErrRangeOrder):
		return Notice{LevelWarning, "The start date must not be after the end date."}
	case errors.Is(err, ErrNoCourse):
		return Notice{LevelWarning, "Select a course first."}
	case errors.Is(err, ErrSaveInProgress):
		return Notice{LevelInfo, "A save is already in progress."}
	case errors.Is(err, ErrNoDocument):
		return Notice{LevelWarning, "This record has no justification document."}
	case errors.Is(err, ErrNotPersisted):
		return Notice{LevelInfo, "The document has not been saved yet."}
	case errors.Is(err, attendance.ErrUnknownStudent):
		return Notice{LevelWarning, "The student is not in this course."}
	case errors.Is(err, justification.ErrNotEditing):
		return Notice{LevelWarning, "No justification is being edited."}
	case errors.Is(err, justification.ErrDraftOpen):
		return Notice{LevelWarning, "Finish the open justification first."}
	}
	return Notice{LevelError, fmt.Sprintf("Could not %s. Please try again.", action)}
}
