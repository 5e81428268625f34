package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
)

var (
	ErrBatchInProgress = errors.New("batch already processing")
	ErrEmptyBatch      = errors.New("batch contains no files")
	ErrNoFilesAccepted = errors.New("no file in the batch was accepted")
	ErrFormatMismatch  = errors.New("source format mismatch")
	ErrJobNotFound     = errors.New("job not found")
)

// MismatchError rejects a submission whose first file is not in the session's source
// format. The session has already been re-paired to Redirected when it is returned.
type MismatchError struct {
	Detected   format.ImageFormat
	Previous   format.Pair
	Redirected format.Pair
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: first file is %s, session expects %s; redirected to %s",
		ErrFormatMismatch, e.Detected, e.Previous.Source, e.Redirected)
}

func (e *MismatchError) Unwrap() error {
	return ErrFormatMismatch
}

// Job is one file's conversion unit. Snapshots hand out copies; Input and Output
// data must be treated as read-only.
type Job struct {
	ID           string
	Pair         format.Pair
	Input        domain.ImageBytes
	Status       domain.JobStatus
	Output       *domain.ImageBytes
	OutputFormat format.ImageFormat
	UsedFallback format.ImageFormat
	ErrorKind    domain.ErrorKind
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
}

// SizeDelta is input size minus output size; positive when the conversion saved bytes.
func (j Job) SizeDelta() int64 {
	if j.Output == nil {
		return 0
	}
	return int64(j.Input.Len()) - int64(j.Output.Len())
}

type jobEntry struct {
	Job
	cancel  context.CancelFunc
	removed bool
}

// release drops the job's buffers so a removed or reset job holds no image data.
func (e *jobEntry) release() {
	if e.cancel != nil {
		e.cancel()
	}
	e.removed = true
	e.Input.Data = nil
	e.Output = nil
}

type WarningCode string

const (
	WarningBatchTruncated WarningCode = "batch_truncated"
	WarningFileTooLarge   WarningCode = "file_too_large"
	WarningEmptyFile      WarningCode = "empty_file"
)

// Warning reports files that were dropped from an otherwise accepted submission.
type Warning struct {
	Code    WarningCode
	Message string
	Files   []string
}

type SubmitResult struct {
	JobIDs   []string
	Warnings []Warning
}

// Counts tallies jobs per status.
type Counts struct {
	Waiting    int
	Converting int
	Completed  int
	Failed     int
}

func (c Counts) Total() int {
	return c.Waiting + c.Converting + c.Completed + c.Failed
}

// Snapshot is a consistent copy of a session for rendering.
type Snapshot struct {
	SessionID  string
	Pair       format.Pair
	Jobs       []Job
	Counts     Counts
	Progress   float64
	Processing bool
	Stats      *domain.BatchStats
}

// Completed returns the completed jobs in submission order.
func (s Snapshot) Completed() []Job {
	var out []Job
	for _, j := range s.Jobs {
		if j.Status == domain.JobStatusCompleted {
			out = append(out, j)
		}
	}
	return out
}
