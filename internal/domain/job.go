package domain

import "time"

type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusConverting JobStatus = "converting"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is possible except removal.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorKind is the displayable classification of a failure.
type ErrorKind string

const (
	ErrorKindNone            ErrorKind = ""
	ErrorKindUnknownFormat   ErrorKind = "unknown_format"
	ErrorKindUnsupportedPair ErrorKind = "unsupported_pair"
	ErrorKindDecode          ErrorKind = "decode_error"
	ErrorKindEncode          ErrorKind = "encode_error"
	ErrorKindArchiveBuild    ErrorKind = "archive_build_error"
	ErrorKindCanceled        ErrorKind = "canceled"
	ErrorKindTimeout         ErrorKind = "timeout"
)

// BatchStats is computed once every job of a session has reached a terminal state.
type BatchStats struct {
	ElapsedMS         int64
	CompletedCount    int
	FailedCount       int
	FallbackCount     int
	AvgSizeDeltaBytes int64
	StartedAt         time.Time
	FinishedAt        time.Time
}
