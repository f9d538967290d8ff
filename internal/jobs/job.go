package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
)

// Status is the lifecycle state of one job. Transitions are monotonic along
// queued → running → {completed | error | cancelling → cancelled}.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusError:
		return true
	}
	return false
}

var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusRunning:    1,
	StatusCancelling: 2,
	StatusCancelled:  3,
	StatusCompleted:  3,
	StatusError:      3,
}

// Job is one scheduled, asynchronously executing pipeline run. The scheduler
// owns it for its in-memory lifetime; a terminal summary goes to history.
type Job struct {
	ID        string
	CreatedAt time.Time
	Params    audit.Params

	mu     sync.Mutex
	status Status
	result *audit.Result
	errMsg string

	queue  chan audit.Event
	cancel context.CancelFunc
}

func newJob(id string, params audit.Params, queueSize int, cancel context.CancelFunc) *Job {
	return &Job{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Params:    params,
		status:    StatusQueued,
		queue:     make(chan audit.Event, queueSize),
		cancel:    cancel,
	}
}

// setStatus applies a transition, ignoring any attempt to move backwards or
// out of a terminal state.
func (j *Job) setStatus(next Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	if statusRank[next] < statusRank[j.status] {
		return
	}
	j.status = next
}

// setResult stores the final result; populated at most once.
func (j *Job) setResult(res *audit.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		j.result = res
	}
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	j.errMsg = msg
	j.mu.Unlock()
	j.setStatus(StatusError)
}

// Snapshot is a point-in-time view of a job, safe to serialize.
type Snapshot struct {
	ID        string        `json:"job_id"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Params    audit.Params  `json:"params"`
	Result    *audit.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:        j.ID,
		Status:    j.status,
		CreatedAt: j.CreatedAt,
		Params:    j.Params,
		Result:    j.result,
		Error:     j.errMsg,
	}
}

// Record is the terminal summary appended to the history log.
type Record struct {
	JobID     string        `json:"job_id"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Params    audit.Params  `json:"params"`
	Result    *audit.Result `json:"result"`
}

// newJobID derives an opaque, unique identifier from the current time, the
// process id and a hash of the input path.
func newJobID(filePath string) string {
	h := fnv.New32a()
	h.Write([]byte(filePath))
	return fmt.Sprintf("job-%d-%d-%08x", time.Now().UnixNano(), os.Getpid(), h.Sum32())
}
