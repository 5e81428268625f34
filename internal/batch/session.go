package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/convertify/internal/convert"
	"github.com/dunamismax/convertify/internal/detect"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"github.com/dunamismax/convertify/internal/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxFiles     = 50
	DefaultMaxFileBytes = 10 << 20
)

type Config struct {
	// MaxFiles caps the jobs a session holds. Zero selects DefaultMaxFiles.
	MaxFiles int
	// MaxFileBytes skips larger files at submission. Zero disables the check.
	MaxFileBytes int64
	// JobTimeout bounds one job's decode and encode. Zero means no timeout.
	JobTimeout time.Duration
}

// Session is a batch of jobs sharing one (source, target) pair. Jobs are converted one
// at a time, in submission order, by Run.
type Session struct {
	id         string
	cfg        Config
	dispatcher *convert.Dispatcher
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time

	mu         sync.Mutex
	pair       format.Pair
	jobs       []*jobEntry
	processing bool
	cancelRun  context.CancelFunc
}

func NewSession(pair format.Pair, dispatcher *convert.Dispatcher, cfg Config, logger *zap.Logger, metrics *Metrics) *Session {
	if err := pair.Validate(); err != nil {
		pair = format.DefaultPair
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if dispatcher == nil {
		dispatcher = convert.NewDispatcher(nil, convert.Options{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Session{
		id:         id.New(),
		cfg:        cfg,
		dispatcher: dispatcher,
		metrics:    metrics,
		tracer:     otel.Tracer("convertify/batch"),
		now:        time.Now,
		pair:       pair,
	}
	s.logger = logger.With(zap.String("session_id", s.id))
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Pair() format.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

// SetPair re-pairs the session. Changing the pair tears down every job.
func (s *Session) SetPair(p format.Pair) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.pair {
		return nil
	}
	s.teardownLocked()
	s.pair = p
	s.logger.Info("session re-paired", zap.String("pair", p.Slug()))
	return nil
}

// Submit validates a batch and appends one Waiting job per accepted file. Only the
// first file is classified: an unknown format rejects the batch, and a format other
// than the session source rejects it and redirects the session with a *MismatchError.
// A batch whose files are all skipped is rejected with ErrNoFilesAccepted; the result
// still carries the warnings that explain why.
func (s *Session) Submit(ctx context.Context, files []domain.ImageBytes) (SubmitResult, error) {
	if len(files) == 0 {
		return SubmitResult{}, ErrEmptyBatch
	}

	_, span := s.tracer.Start(ctx, "batch.submit")
	span.SetAttributes(attribute.Int("batch.files", len(files)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return SubmitResult{}, ErrBatchInProgress
	}

	first := files[0]
	detected, err := detect.DetectImage(first)
	if err != nil {
		s.metrics.rejectedBatches.WithLabelValues(string(domain.ErrorKindUnknownFormat)).Inc()
		s.logger.Warn("batch rejected", zap.String("file", first.Name), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown format")
		return SubmitResult{}, fmt.Errorf("detect %q: %w", first.Name, err)
	}

	if detected != s.pair.Source {
		mismatch := &MismatchError{Detected: detected, Previous: s.pair}
		mismatch.Redirected = format.Pair{Source: detected, Target: s.pair.Target}
		if mismatch.Redirected.Validate() != nil {
			mismatch.Redirected = format.DefaultPair
		}

		s.teardownLocked()
		s.pair = mismatch.Redirected
		s.metrics.rejectedBatches.WithLabelValues("format_mismatch").Inc()
		s.logger.Warn("batch rejected, session redirected",
			zap.String("file", first.Name),
			zap.String("detected", string(detected)),
			zap.String("previous_pair", mismatch.Previous.Slug()),
			zap.String("pair", mismatch.Redirected.Slug()),
		)
		span.SetStatus(codes.Error, "format mismatch")
		return SubmitResult{}, mismatch
	}

	var (
		res       SubmitResult
		tooLarge  []string
		empty     []string
		truncated []string
	)
	room := s.cfg.MaxFiles - len(s.jobs)
	for _, f := range files {
		switch {
		case f.Len() == 0:
			empty = append(empty, f.Name)
			continue
		case s.cfg.MaxFileBytes > 0 && int64(f.Len()) > s.cfg.MaxFileBytes:
			tooLarge = append(tooLarge, f.Name)
			continue
		case room <= 0:
			truncated = append(truncated, f.Name)
			continue
		}

		room--
		entry := &jobEntry{Job: Job{
			ID:     id.New(),
			Pair:   s.pair,
			Input:  f,
			Status: domain.JobStatusWaiting,
		}}
		s.jobs = append(s.jobs, entry)
		res.JobIDs = append(res.JobIDs, entry.ID)
		s.metrics.inputBytesTotal.Add(float64(f.Len()))
	}

	res.Warnings = s.warn(res.Warnings, WarningEmptyFile, empty, "%d empty file(s) skipped")
	res.Warnings = s.warn(res.Warnings, WarningFileTooLarge, tooLarge,
		fmt.Sprintf("%%d file(s) over %d bytes skipped", s.cfg.MaxFileBytes))
	res.Warnings = s.warn(res.Warnings, WarningBatchTruncated, truncated,
		fmt.Sprintf("batch limited to %d files, %%d dropped", s.cfg.MaxFiles))

	span.SetAttributes(attribute.Int("batch.accepted", len(res.JobIDs)))
	if len(res.JobIDs) == 0 {
		s.metrics.rejectedBatches.WithLabelValues("no_files_accepted").Inc()
		s.logger.Warn("batch rejected, every file was skipped", zap.Int("files", len(files)))
		span.SetStatus(codes.Error, "no files accepted")
		return res, ErrNoFilesAccepted
	}
	s.logger.Info("batch accepted",
		zap.String("pair", s.pair.Slug()),
		zap.Int("accepted", len(res.JobIDs)),
		zap.Int("jobs", len(s.jobs)),
	)
	return res, nil
}

func (s *Session) warn(warnings []Warning, code WarningCode, files []string, msgFormat string) []Warning {
	if len(files) == 0 {
		return warnings
	}
	msg := fmt.Sprintf(msgFormat, len(files))
	s.metrics.droppedFilesTotal.WithLabelValues(string(code)).Add(float64(len(files)))
	s.logger.Warn(msg, zap.String("reason", string(code)), zap.Strings("files", files))
	return append(warnings, Warning{Code: code, Message: msg, Files: files})
}

// Run converts every Waiting job sequentially. It returns ErrBatchInProgress when a run
// is already active, and ctx.Err() when ctx is canceled mid-batch; jobs not yet
// started stay Waiting in that case. A Reset during Run discards the batch and Run
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ErrBatchInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.processing = true
	s.cancelRun = cancel
	pair := s.pair
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.processing = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	runCtx, span := s.tracer.Start(runCtx, "batch.run")
	span.SetAttributes(attribute.String("batch.pair", pair.Slug()))
	defer span.End()

	processed := 0
	for {
		entry, jobCtx, jobCancel := s.next(runCtx)
		if entry == nil {
			break
		}
		s.process(jobCtx, entry)
		jobCancel()
		processed++
	}

	snap := s.Snapshot()
	span.SetAttributes(
		attribute.Int("batch.processed", processed),
		attribute.Int("batch.completed", snap.Counts.Completed),
		attribute.Int("batch.failed", snap.Counts.Failed),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "canceled")
		s.logger.Warn("batch interrupted", zap.Int("processed", processed), zap.Error(err))
		return err
	}

	fields := []zap.Field{
		zap.Int("processed", processed),
		zap.Int("completed", snap.Counts.Completed),
		zap.Int("failed", snap.Counts.Failed),
	}
	if snap.Stats != nil {
		fields = append(fields,
			zap.Int64("elapsed_ms", snap.Stats.ElapsedMS),
			zap.Int64("avg_size_delta_bytes", snap.Stats.AvgSizeDeltaBytes),
		)
	}
	s.logger.Info("batch finished", fields...)
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// next moves the first Waiting job to Converting.
func (s *Session) next(ctx context.Context) (*jobEntry, context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return nil, nil, nil
	}
	for _, e := range s.jobs {
		if e.Status != domain.JobStatusWaiting {
			continue
		}

		var (
			jobCtx context.Context
			cancel context.CancelFunc
		)
		if s.cfg.JobTimeout > 0 {
			jobCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		} else {
			jobCtx, cancel = context.WithCancel(ctx)
		}
		e.cancel = cancel
		e.Status = domain.JobStatusConverting
		e.StartedAt = s.now()
		s.metrics.activeJobs.Inc()
		return e, jobCtx, cancel
	}
	return nil, nil, nil
}

func (s *Session) process(ctx context.Context, e *jobEntry) {
	s.mu.Lock()
	jobID, pair, input := e.ID, e.Pair, e.Input
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "batch.convert_job", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.pair", pair.Slug()),
		attribute.Int("job.input_bytes", input.Len()),
	)
	defer span.End()

	s.logger.Debug("converting", zap.String("job_id", jobID), zap.String("file", input.Name))
	result, err := s.dispatcher.Convert(ctx, pair, input.Data)
	finished := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.activeJobs.Dec()

	if e.removed {
		span.SetStatus(codes.Error, "discarded")
		s.logger.Debug("discarded result of removed job", zap.String("job_id", jobID))
		return
	}

	e.cancel = nil
	e.FinishedAt = finished
	e.Duration = finished.Sub(e.StartedAt)

	if err != nil {
		e.Status = domain.JobStatusFailed
		e.ErrorKind = convert.KindOf(err)
		e.Error = err.Error()

		s.metrics.jobsTotal.WithLabelValues(pair.Slug(), string(e.Status)).Inc()
		s.metrics.jobDuration.WithLabelValues(pair.Slug(), string(e.Status)).Observe(e.Duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, string(e.ErrorKind))
		s.logger.Warn("job failed",
			zap.String("job_id", jobID),
			zap.String("file", input.Name),
			zap.String("kind", string(e.ErrorKind)),
			zap.Error(err),
		)
		return
	}

	out := domain.ImageBytes{
		Name:     input.BaseName() + "." + result.Format.Extension(),
		MIMEType: result.MIMEType,
		Data:     result.Data,
	}
	e.Output = &out
	e.OutputFormat = result.Format
	e.UsedFallback = result.UsedFallback
	e.Status = domain.JobStatusCompleted

	s.metrics.jobsTotal.WithLabelValues(pair.Slug(), string(e.Status)).Inc()
	s.metrics.jobDuration.WithLabelValues(pair.Slug(), string(e.Status)).Observe(e.Duration.Seconds())
	if delta := e.SizeDelta(); delta > 0 {
		s.metrics.bytesSavedTotal.Add(float64(delta))
	}
	if result.Fallback() {
		s.metrics.fallbacksTotal.WithLabelValues(string(pair.Target), string(result.UsedFallback)).Inc()
		s.logger.Warn("encoder fallback used",
			zap.String("job_id", jobID),
			zap.String("requested", string(pair.Target)),
			zap.String("used", string(result.UsedFallback)),
		)
	}

	span.SetAttributes(attribute.Int("job.output_bytes", out.Len()))
	span.SetStatus(codes.Ok, "converted")
	s.logger.Debug("job completed",
		zap.String("job_id", jobID),
		zap.String("output", out.Name),
		zap.Duration("duration", e.Duration),
	)
}

// Remove deletes one job and releases its buffers, canceling it if it is converting.
func (s *Session) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.jobs {
		if e.ID != jobID {
			continue
		}
		e.release()
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		s.logger.Debug("job removed", zap.String("job_id", jobID))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// Reset destroys every job, canceling in-flight work. The pair is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.logger.Info("session reset")
}

func (s *Session) teardownLocked() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
	for _, e := range s.jobs {
		e.release()
	}
	s.jobs = nil
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:  s.id,
		Pair:       s.pair,
		Processing: s.processing,
		Jobs:       make([]Job, 0, len(s.jobs)),
	}
	for _, e := range s.jobs {
		snap.Jobs = append(snap.Jobs, e.Job)
		switch e.Status {
		case domain.JobStatusWaiting:
			snap.Counts.Waiting++
		case domain.JobStatusConverting:
			snap.Counts.Converting++
		case domain.JobStatusCompleted:
			snap.Counts.Completed++
		case domain.JobStatusFailed:
			snap.Counts.Failed++
		}
	}
	snap.Progress = progressPercent(snap.Counts)
	snap.Stats = computeStats(snap.Jobs)
	return snap
}

func progressPercent(c Counts) float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Completed+c.Failed) / float64(total) * 100
}

// computeStats is nil until every job is terminal.
func computeStats(jobs []Job) *domain.BatchStats {
	if len(jobs) == 0 {
		return nil
	}

	var (
		st    domain.BatchStats
		saved int64
	)
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return nil
		}
		if st.StartedAt.IsZero() || j.StartedAt.Before(st.StartedAt) {
			st.StartedAt = j.StartedAt
		}
		if j.FinishedAt.After(st.FinishedAt) {
			st.FinishedAt = j.FinishedAt
		}
		switch j.Status {
		case domain.JobStatusCompleted:
			st.CompletedCount++
			saved += j.SizeDelta()
			if j.UsedFallback != "" {
				st.FallbackCount++
			}
		case domain.JobStatusFailed:
			st.FailedCount++
		}
	}

	st.ElapsedMS = st.FinishedAt.Sub(st.StartedAt).Milliseconds()
	if st.CompletedCount > 0 {
		st.AvgSizeDeltaBytes = saved / int64(st.CompletedCount)
	}
	return &st
}
