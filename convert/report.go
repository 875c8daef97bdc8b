package convert

import (
	"time"

	"github.com/google/uuid"

	"github.com/robodata/rdm/validate"
)

// Status is the terminal state of one conversion.
type Status string

const (
	// StatusSucceeded means the target was finalized and is valid.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the conversion aborted; no target was published.
	StatusFailed Status = "failed"
	// StatusSkipped means the job never started, e.g. the batch was
	// cancelled first.
	StatusSkipped Status = "skipped"
)

// Report describes one finished conversion attempt.
type Report struct {
	ID           string           `json:"id"`
	SourcePath   string           `json:"source_path"`
	TargetPath   string           `json:"target_path"`
	SourceFormat string           `json:"source_format"`
	TargetFormat string           `json:"target_format"`
	BytesRead    int64            `json:"bytes_read"`
	BytesWritten int64            `json:"bytes_written"`
	Duration     time.Duration    `json:"duration"`
	Validation   *validate.Result `json:"validation,omitempty"`
	Status       Status           `json:"status"`
	Err          error            `json:"-"`
	Error        string           `json:"error,omitempty"`
}

func newReport(sourcePath, targetPath string) *Report {
	return &Report{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		TargetPath: targetPath,
	}
}

func (r *Report) fail(err error) *Report {
	r.Status = StatusFailed
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// BatchReport aggregates the reports of one batch run in discovery
// order.
type BatchReport struct {
	Reports   []*Report     `json:"reports"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}
