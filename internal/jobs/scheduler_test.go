package jobs

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

type pipelineRunnerMock struct {
	RunStreamFunc func(ctx context.Context, params audit.Params) <-chan audit.Event
}

func (m *pipelineRunnerMock) RunStream(ctx context.Context, params audit.Params) <-chan audit.Event {
	return m.RunStreamFunc(ctx, params)
}

func completingRunner(result *audit.Result) *pipelineRunnerMock {
	return &pipelineRunnerMock{
		RunStreamFunc: func(ctx context.Context, params audit.Params) <-chan audit.Event {
			ch := make(chan audit.Event, 4)
			go func() {
				defer close(ch)
				ch <- audit.Event{Stage: audit.StageClassify, Data: map[string]any{"policy_type": "hr"}}
				ch <- audit.Event{Stage: audit.StageGaps, Data: map[string]any{"count": 0}}
				ch <- audit.Event{Stage: audit.StageFinal, Data: result}
			}()
			return ch
		},
	}
}

func newTestScheduler(t *testing.T, runner PipelineRunner) *Scheduler {
	t.Helper()
	history := NewHistory(filepath.Join(t.TempDir(), "jobs.jsonl"))
	return NewScheduler(runner, history, nil, Config{})
}

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		got, err := s.Status(jobID)
		if err != nil {
			return false
		}
		snap = got
		return got.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s", want)
	return snap
}

func TestScheduler_Create_RequiresFilePath(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	_, err := s.Create(audit.Params{FilePath: "   "})
	assert.Error(t, err)
}

func TestScheduler_Create_DefaultsOrgID(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)

	snap := waitForStatus(t, s, jobID, StatusCompleted)
	assert.Equal(t, "default_org", snap.Params.OrgID)
}

func TestScheduler_Lifecycle_Completed(t *testing.T) {
	result := &audit.Result{PolicyType: "hr", Composite: 4.5}
	s := newTestScheduler(t, completingRunner(result))

	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf", OrgID: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	snap := waitForStatus(t, s, jobID, StatusCompleted)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "hr", snap.Result.PolicyType)

	res, err := s.Result(jobID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 4.5, res.Composite, 0.001)

	// Terminal record is durable.
	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, jobID, recs[0].JobID)
	assert.Equal(t, StatusCompleted, recs[0].Status)
}

func TestScheduler_Status_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	_, err := s.Status("job-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_Stream_DrainsToDone(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)

	frames, err := s.Stream(context.Background(), jobID)
	require.NoError(t, err)

	var collected [][]byte
	for f := range frames {
		collected = append(collected, f)
	}
	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	assert.Equal(t, []byte("data: [DONE]\n\n"), last)
	for _, f := range collected {
		assert.True(t, bytes.HasPrefix(f, []byte("data: ")))
	}
}

func TestScheduler_Stream_EmitsHeartbeatDuringSilence(t *testing.T) {
	release := make(chan struct{})
	runner := &pipelineRunnerMock{
		RunStreamFunc: func(ctx context.Context, params audit.Params) <-chan audit.Event {
			ch := make(chan audit.Event)
			go func() {
				defer close(ch)
				<-release
				ch <- audit.Event{Stage: audit.StageFinal, Data: &audit.Result{}}
			}()
			return ch
		},
	}
	history := NewHistory(filepath.Join(t.TempDir(), "jobs.jsonl"))
	s := NewScheduler(runner, history, nil, Config{Heartbeat: 10 * time.Millisecond})

	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)
	frames, err := s.Stream(context.Background(), jobID)
	require.NoError(t, err)

	first := <-frames
	assert.Contains(t, string(first), `"stage":"heartbeat"`)

	close(release)
	for range frames {
	}
}

func TestScheduler_Stream_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	_, err := s.Stream(context.Background(), "job-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_Cancel(t *testing.T) {
	started := make(chan struct{})
	runner := &pipelineRunnerMock{
		RunStreamFunc: func(ctx context.Context, params audit.Params) <-chan audit.Event {
			ch := make(chan audit.Event)
			go func() {
				defer close(ch)
				close(started)
				<-ctx.Done()
			}()
			return ch
		},
	}
	s := newTestScheduler(t, runner)

	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)
	<-started

	frames, err := s.Stream(context.Background(), jobID)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(jobID))
	snap := waitForStatus(t, s, jobID, StatusCancelled)
	assert.Nil(t, snap.Result)

	var collected []string
	for f := range frames {
		collected = append(collected, string(f))
	}
	require.Len(t, collected, 2)
	assert.Contains(t, collected[0], `"stage":"cancelled"`)
	assert.Equal(t, "data: [DONE]\n\n", collected[1])

	// A second cancel of a terminal job is rejected.
	assert.Error(t, s.Cancel(jobID))

	rec, ok, err := s.history.Find(jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestScheduler_Rerun_CopiesParams(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	params := audit.Params{FilePath: "/tmp/policy.pdf", OrgID: "acme", TopK: 7, Prefer: "groq"}

	jobID, err := s.Create(params)
	require.NoError(t, err)
	waitForStatus(t, s, jobID, StatusCompleted)

	newID, err := s.Rerun(jobID)
	require.NoError(t, err)
	assert.NotEqual(t, jobID, newID)

	snap := waitForStatus(t, s, newID, StatusCompleted)
	assert.Equal(t, params.FilePath, snap.Params.FilePath)
	assert.Equal(t, params.OrgID, snap.Params.OrgID)
	assert.Equal(t, params.TopK, snap.Params.TopK)
	assert.Equal(t, params.Prefer, snap.Params.Prefer)
}

func TestScheduler_Rerun_FromHistory(t *testing.T) {
	history := NewHistory(filepath.Join(t.TempDir(), "jobs.jsonl"))
	require.NoError(t, history.Append(Record{
		JobID:     "job-old",
		Status:    StatusCompleted,
		CreatedAt: time.Now().UTC(),
		Params:    audit.Params{FilePath: "/tmp/from-history.pdf", OrgID: "acme"},
	}))
	s := NewScheduler(completingRunner(&audit.Result{}), history, nil, Config{})

	newID, err := s.Rerun("job-old")
	require.NoError(t, err)
	snap := waitForStatus(t, s, newID, StatusCompleted)
	assert.Equal(t, "/tmp/from-history.pdf", snap.Params.FilePath)
}

func TestScheduler_Rerun_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, completingRunner(&audit.Result{}))
	_, err := s.Rerun("job-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_MissingFinalEventIsError(t *testing.T) {
	runner := &pipelineRunnerMock{
		RunStreamFunc: func(ctx context.Context, params audit.Params) <-chan audit.Event {
			ch := make(chan audit.Event, 1)
			go func() {
				defer close(ch)
				ch <- audit.Event{Stage: audit.StageClassify, Data: map[string]any{}}
			}()
			return ch
		},
	}
	s := newTestScheduler(t, runner)

	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)

	snap := waitForStatus(t, s, jobID, StatusError)
	assert.NotEmpty(t, snap.Error)
}

func TestScheduler_PanicBecomesErrorStatus(t *testing.T) {
	runner := &pipelineRunnerMock{
		RunStreamFunc: func(ctx context.Context, params audit.Params) <-chan audit.Event {
			panic("pipeline exploded")
		},
	}
	s := newTestScheduler(t, runner)

	jobID, err := s.Create(audit.Params{FilePath: "/tmp/policy.pdf"})
	require.NoError(t, err)

	snap := waitForStatus(t, s, jobID, StatusError)
	assert.Contains(t, snap.Error, "pipeline exploded")

	rec, ok, err := s.history.Find(jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusError, rec.Status)
}

func TestNewJobID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := newJobID("/tmp/policy.pdf")
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestStatus_TransitionsAreMonotonic(t *testing.T) {
	j := newJob("job-t", audit.Params{FilePath: "/tmp/a"}, 4, func() {})
	assert.Equal(t, StatusQueued, j.snapshot().Status)

	j.setStatus(StatusRunning)
	assert.Equal(t, StatusRunning, j.snapshot().Status)

	// Backwards transition is ignored.
	j.setStatus(StatusQueued)
	assert.Equal(t, StatusRunning, j.snapshot().Status)

	j.setStatus(StatusCompleted)
	assert.Equal(t, StatusCompleted, j.snapshot().Status)

	// Terminal states are sticky.
	j.setStatus(StatusRunning)
	assert.Equal(t, StatusCompleted, j.snapshot().Status)
	j.setStatus(StatusError)
	assert.Equal(t, StatusCompleted, j.snapshot().Status)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusCancelling.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
}
