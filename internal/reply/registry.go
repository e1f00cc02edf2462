package reply

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is the input to Schedule: everything needed to generate a reply for
// one assistant message row that already exists with status pending.
type Job struct {
	MessageID        int64
	ConversationID   int64
	Content          string
	Files            []AttachedFile
	OwnerID          int64
	OwnerDisplayName string
}

// PendingJob is the registry entry for an in-flight job. State is read and
// written under the registry lock (via Update); the cancellation fields have
// their own lock because Cancel races with the supervising goroutine.
type PendingJob struct {
	Job       Job
	State     JobState
	CreatedAt time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	handle    WorkerHandle
	cancelled bool
}

// AttachHandle records the worker handle for a dispatched job. If the job
// was cancelled before the worker registered, it reports true and the caller
// must stop the worker itself.
func (p *PendingJob) AttachHandle(h WorkerHandle) (alreadyCancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return true
	}
	p.handle = h
	return false
}

// SignalCancel cancels the job's context and returns the worker handle if a
// worker was already dispatched (nil otherwise). Idempotent.
func (p *PendingJob) SignalCancel() WorkerHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return nil
	}
	p.cancelled = true
	if p.cancel != nil {
		p.cancel()
	}
	return p.handle
}

// Cancelled reports whether SignalCancel has been called.
func (p *PendingJob) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Registry tracks in-flight reply jobs, at most one per message ID.
// Implementations must be thread-safe for concurrent access.
type Registry interface {
	// Put stores a pending job. Returns an error if a job for the same
	// message ID is already in flight.
	Put(job *PendingJob) error

	// Get retrieves a job by message ID. Returns the job and true if found,
	// or nil and false if not found.
	Get(messageID int64) (*PendingJob, bool)

	// Update atomically modifies a job. The update function is called while
	// holding an exclusive lock on the registry. Returns an error if the
	// job is not found.
	Update(messageID int64, fn func(*PendingJob)) error

	// Take removes and returns a job. The second return is false if no job
	// was in flight for the message ID, so concurrent removals resolve to
	// exactly one winner.
	Take(messageID int64) (*PendingJob, bool)

	// Remove deletes the entry for messageID only if it is the given job.
	// A supervisor winding down after its entry was taken (and possibly
	// replaced by a rescheduled job) must not evict its successor.
	Remove(messageID int64, job *PendingJob) bool

	// Count returns the number of jobs in each state.
	Count() map[JobState]int
}

// inMemoryRegistry is a thread-safe in-memory implementation of Registry.
type inMemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[int64]*PendingJob
}

// NewInMemoryRegistry creates a new in-memory Registry.
func NewInMemoryRegistry() Registry {
	return &inMemoryRegistry{
		jobs: make(map[int64]*PendingJob),
	}
}

// Put stores a pending job.
func (r *inMemoryRegistry) Put(job *PendingJob) error {
	if job == nil {
		return fmt.Errorf("pending job cannot be nil")
	}
	if job.Job.MessageID <= 0 {
		return fmt.Errorf("pending job has invalid message ID %d", job.Job.MessageID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Job.MessageID]; exists {
		return fmt.Errorf("reply for message %d is already in flight: %w", job.Job.MessageID, ErrAlreadyScheduled)
	}

	r.jobs[job.Job.MessageID] = job
	return nil
}

// Get retrieves a job by message ID.
func (r *inMemoryRegistry) Get(messageID int64) (*PendingJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[messageID]
	return job, ok
}

// Update atomically modifies a job.
func (r *inMemoryRegistry) Update(messageID int64, fn func(*PendingJob)) error {
	if fn == nil {
		return fmt.Errorf("update function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[messageID]
	if !ok {
		return fmt.Errorf("no pending reply for message %d", messageID)
	}

	fn(job)
	return nil
}

// Take removes and returns a job.
func (r *inMemoryRegistry) Take(messageID int64) (*PendingJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[messageID]
	if !ok {
		return nil, false
	}
	delete(r.jobs, messageID)
	return job, true
}

// Remove deletes the entry only when it is still the given job.
func (r *inMemoryRegistry) Remove(messageID int64, job *PendingJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[messageID]
	if !ok || current != job {
		return false
	}
	delete(r.jobs, messageID)
	return true
}

// Count returns the number of jobs in each state.
func (r *inMemoryRegistry) Count() map[JobState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[JobState]int)
	for _, job := range r.jobs {
		counts[job.State]++
	}
	return counts
}
