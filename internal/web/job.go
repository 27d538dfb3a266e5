package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadmail/leadmail/internal/importer"
)

// JobStatus represents the status of a background import
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error" // mailbox or store failure
)

// Job is a background mailbox import
type Job struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Fetched     int       `json:"fetched"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"` // already in the store
	Leads       int       `json:"leads"`
	Review      int       `json:"review"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`

	ctx        context.Context
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// SetFetched records how many messages the mailbox returned
func (j *Job) SetFetched(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Fetched = n
}

// Update records the counters of an import report
func (j *Job) Update(rep importer.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Processed = rep.Processed
	j.Skipped = rep.Skipped
	j.Leads = rep.Leads
	j.Review = rep.Review
	j.Failed = rep.Failed
	if j.Fetched > 0 {
		j.Progress = ((rep.Processed + rep.Skipped) * 100) / j.Fetched
	}
}

// Complete marks the job as completed
func (j *Job) Complete() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusCompleted
	j.CompletedAt = time.Now()
	j.Progress = 100
}

// StopWithError stops the job and keeps the error for the status endpoint
func (j *Job) StopWithError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusError
	j.CompletedAt = time.Now()
	j.Error = err.Error()
}

// Cancel cancels the job
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status == JobStatusRunning {
		j.Status = JobStatusCancelled
		j.CompletedAt = time.Now()
		if j.cancelFunc != nil {
			j.cancelFunc()
		}
	}
}

// IsCancelled returns true if the job was cancelled
func (j *Job) IsCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status == JobStatusCancelled
}

func (j *Job) Context() context.Context {
	return j.ctx
}

// Snapshot returns a copy safe to encode while the job keeps running
func (j *Job) Snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	return JobView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Fetched:     j.Fetched,
		Processed:   j.Processed,
		Skipped:     j.Skipped,
		Leads:       j.Leads,
		Review:      j.Review,
		Failed:      j.Failed,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
}

// JobView is the JSON form of a Job
type JobView struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Fetched     int       `json:"fetched"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Leads       int       `json:"leads"`
	Review      int       `json:"review"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// JobManager manages background jobs
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
	}
}

// Create registers a running job whose context derives from parent
func (jm *JobManager) Create(parent context.Context) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)

	job := &Job{
		ID:         uuid.New().String(),
		Status:     JobStatusRunning,
		StartedAt:  time.Now(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	jm.jobs[job.ID] = job
	return job
}

// Get returns a job by ID, or nil if not found
func (jm *JobManager) Get(id string) *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return jm.jobs[id]
}

// GetActive returns the currently running job, or nil if none
func (jm *JobManager) GetActive() *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	for _, job := range jm.jobs {
		job.mu.Lock()
		running := job.Status == JobStatusRunning
		job.mu.Unlock()
		if running {
			return job
		}
	}
	return nil
}

// Cleanup removes finished jobs older than maxAge
func (jm *JobManager) Cleanup(maxAge time.Duration) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range jm.jobs {
		job.mu.Lock()
		expired := job.Status != JobStatusRunning && job.CompletedAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(jm.jobs, id)
		}
	}
}
