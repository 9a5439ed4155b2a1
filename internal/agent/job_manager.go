package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Job is the record of one applied command.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// JobManager keeps the most recent command outcomes of an agent.
type JobManager struct {
	mu    sync.RWMutex
	limit int
	jobs  []*Job
}

// NewJobManager keeps at most limit jobs; limit <= 0 means 32.
func NewJobManager(limit int) *JobManager {
	if limit <= 0 {
		limit = 32
	}
	return &JobManager{limit: limit}
}

// Record stores the outcome of cmd and returns its job.
func (jm *JobManager) Record(cmd Command, err error) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Type:      cmd.Type,
		Status:    JobStatusSuccess,
		AppliedAt: time.Now().UTC(),
	}
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs = append(jm.jobs, job)
	if over := len(jm.jobs) - jm.limit; over > 0 {
		jm.jobs = append(jm.jobs[:0], jm.jobs[over:]...)
	}
	return job
}

// Last returns a copy of the newest job, or nil.
func (jm *JobManager) Last() *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	if len(jm.jobs) == 0 {
		return nil
	}
	job := *jm.jobs[len(jm.jobs)-1]
	return &job
}

// Jobs returns copies of the kept jobs, oldest first.
func (jm *JobManager) Jobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	out := make([]Job, len(jm.jobs))
	for i, j := range jm.jobs {
		out[i] = *j
	}
	return out
}
