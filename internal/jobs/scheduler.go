package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/stream"
)

// ErrNotFound is returned when a job id is neither registered nor in history.
var ErrNotFound = errors.New("job not found")

// stageDone is the sentinel marker the stream consumer terminates on.
const stageDone = "done"

// DefaultHeartbeat is how long a stream consumer waits for an event before a
// synthetic heartbeat frame is emitted to keep the connection alive.
const DefaultHeartbeat = 15 * time.Second

const defaultQueueSize = 64

// PipelineRunner is the slice of the audit pipeline the scheduler drives.
type PipelineRunner interface {
	RunStream(ctx context.Context, params audit.Params) <-chan audit.Event
}

// Config tunes the scheduler; zero values pick sensible defaults.
type Config struct {
	Heartbeat time.Duration
	QueueSize int
	// RootDir resolves relative artifact paths from results.
	RootDir string
	// BundleDir receives artifact zip bundles.
	BundleDir string
}

// Scheduler runs audit pipelines as independently scheduled units of work. It
// owns the in-memory job registry (one lock for creation/lookup races) and
// appends one history record per terminated job; a job never leaks without a
// terminal status and record.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	pipeline PipelineRunner
	history  *History
	logger   *slog.Logger
	cfg      Config
}

func NewScheduler(pipeline PipelineRunner, history *History, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     make(map[string]*Job),
		pipeline: pipeline,
		history:  history,
		logger:   logger,
		cfg:      cfg,
	}
}

// Create registers a new job and starts its pipeline run, returning the job id
// immediately. The status flips to running as soon as the unit of work begins
// executing.
func (s *Scheduler) Create(params audit.Params) (string, error) {
	if strings.TrimSpace(params.FilePath) == "" {
		return "", fmt.Errorf("file path is required")
	}
	if strings.TrimSpace(params.OrgID) == "" {
		params.OrgID = "default_org"
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(newJobID(params.FilePath), params, s.cfg.QueueSize, cancel)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("job created", "job_id", job.ID, "file", params.FilePath, "org_id", params.OrgID)
	go s.run(ctx, job)
	return job.ID, nil
}

func (s *Scheduler) lookup(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// Status reports a snapshot of the job, consulting history for jobs that are
// no longer in the registry.
func (s *Scheduler) Status(jobID string) (Snapshot, error) {
	if job, ok := s.lookup(jobID); ok {
		return job.snapshot(), nil
	}
	if s.history != nil {
		rec, ok, err := s.history.Find(jobID)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			return Snapshot{
				ID:        rec.JobID,
				Status:    rec.Status,
				CreatedAt: rec.CreatedAt,
				Params:    rec.Params,
				Result:    rec.Result,
			}, nil
		}
	}
	return Snapshot{}, ErrNotFound
}

// Result returns the final result of a job; nil result with nil error means
// the job has not finished yet.
func (s *Scheduler) Result(jobID string) (*audit.Result, error) {
	snap, err := s.Status(jobID)
	if err != nil {
		return nil, err
	}
	return snap.Result, nil
}

// Cancel requests cooperative cancellation. The running unit of work observes
// it at its next checkpoint, pushes a cancellation event then the done
// sentinel, and the job terminates as cancelled.
func (s *Scheduler) Cancel(jobID string) error {
	job, ok := s.lookup(jobID)
	if !ok {
		return ErrNotFound
	}
	snap := job.snapshot()
	if snap.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, snap.Status)
	}
	job.setStatus(StatusCancelling)
	job.cancel()
	s.logger.Info("job cancelling", "job_id", jobID)
	return nil
}

// Rerun creates a fresh job with params identical to the original, looked up
// in the registry first and then in history.
func (s *Scheduler) Rerun(jobID string) (string, error) {
	if job, ok := s.lookup(jobID); ok {
		return s.Create(job.Params)
	}
	if s.history != nil {
		rec, ok, err := s.history.Find(jobID)
		if err != nil {
			return "", err
		}
		if ok {
			return s.Create(rec.Params)
		}
	}
	return "", ErrNotFound
}

// Recent lists up to n terminated jobs from history, most recent first.
func (s *Scheduler) Recent(n int) ([]Record, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(n)
}

// Stream returns the job's encoded frame sequence. Events are delivered in
// strict FIFO order matching stage execution; a silence longer than the
// heartbeat interval produces a synthetic heartbeat frame. The channel closes
// after the literal [DONE] frame or when ctx ends.
func (s *Scheduler) Stream(ctx context.Context, jobID string) (<-chan []byte, error) {
	job, ok := s.lookup(jobID)
	if !ok {
		return nil, ErrNotFound
	}

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-job.queue:
				if evt.Stage == stageDone {
					select {
					case out <- stream.Done:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- stream.Frame(evt.Stage, evt.Data, evt.Err):
				case <-ctx.Done():
					return
				}
			case <-time.After(s.cfg.Heartbeat):
				select {
				case out <- stream.Heartbeat("processing"):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// run is the job's unit of work: it forwards pipeline events to the job
// queue, applies the terminal transition, persists the history record and
// pushes the done sentinel. A panic anywhere inside is converted into an
// error event and a terminal error status.
func (s *Scheduler) run(ctx context.Context, job *Job) {
	defer job.cancel()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("pipeline panic: %v", r)
			s.logger.Error("job panicked", "job_id", job.ID, "err", msg)
			job.setError(msg)
			s.push(job, audit.Event{Stage: audit.StageError, Data: map[string]any{"message": msg}})
			s.finish(job)
		}
	}()

	job.setStatus(StatusRunning)
	s.logger.Info("job running", "job_id", job.ID)

	sawFinal := false
	for evt := range s.pipeline.RunStream(ctx, job.Params) {
		if evt.Stage == audit.StageFinal {
			if res, ok := evt.Data.(*audit.Result); ok {
				job.setResult(res)
				sawFinal = true
			}
		}
		s.push(job, evt)
	}

	switch {
	case ctx.Err() != nil && !sawFinal:
		s.push(job, audit.Event{Stage: audit.StageCancelled, Data: map[string]any{"message": "job cancelled"}})
		job.setStatus(StatusCancelled)
		s.logger.Info("job cancelled", "job_id", job.ID)
	case sawFinal:
		job.setStatus(StatusCompleted)
		s.logger.Info("job completed", "job_id", job.ID)
	default:
		msg := "pipeline ended before final event"
		job.setError(msg)
		s.push(job, audit.Event{Stage: audit.StageError, Data: map[string]any{"message": msg}})
		s.logger.Error("job failed", "job_id", job.ID, "err", msg)
	}
	s.finish(job)
}

// push enqueues one event. The queue is sized for a full pipeline run, so an
// overflow means the consumer stalled for the job's whole lifetime; the event
// is dropped rather than wedging the scheduler.
func (s *Scheduler) push(job *Job, evt audit.Event) {
	select {
	case job.queue <- evt:
	default:
		s.logger.Warn("event queue full, dropping event", "job_id", job.ID, "stage", evt.Stage)
	}
}

// finish persists the terminal record and pushes the done sentinel.
func (s *Scheduler) finish(job *Job) {
	snap := job.snapshot()
	if s.history != nil {
		rec := Record{
			JobID:     snap.ID,
			Status:    snap.Status,
			CreatedAt: snap.CreatedAt,
			Params:    snap.Params,
			Result:    snap.Result,
		}
		if err := s.history.Append(rec); err != nil {
			s.logger.Error("history append failed", "job_id", snap.ID, "err", err)
		}
	}
	s.push(job, audit.Event{Stage: stageDone})
}

// ArtifactBundle zips the job's report and annotated document into one
// downloadable archive and returns its path.
func (s *Scheduler) ArtifactBundle(jobID string) (string, error) {
	snap, err := s.Status(jobID)
	if err != nil {
		return "", err
	}
	if snap.Result == nil {
		return "", fmt.Errorf("job %s has no result yet", jobID)
	}

	var files []string
	for _, p := range []string{snap.Result.ReportPath, snap.Result.AnnotatedPath} {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && s.cfg.RootDir != "" {
			p = filepath.Join(s.cfg.RootDir, p)
		}
		if _, statErr := os.Stat(p); statErr == nil {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("job %s has no artifacts on disk", jobID)
	}

	dir := s.cfg.BundleDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}
	bundlePath := filepath.Join(dir, jobID+".artifacts.zip")
	if err := writeZip(bundlePath, files); err != nil {
		return "", err
	}
	return bundlePath, nil
}

func writeZip(dest string, files []string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, path := range files {
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open artifact %s: %w", path, err)
		}
		w, err := zw.Create(filepath.Base(path))
		if err != nil {
			src.Close()
			return fmt.Errorf("add artifact %s: %w", path, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			return fmt.Errorf("write artifact %s: %w", path, err)
		}
		src.Close()
	}
	return zw.Close()
}
