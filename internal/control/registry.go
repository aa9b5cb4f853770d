package control

import "sync"

// Signal is a control request raised against a running job. Cancel wins over
// pause, pause wins over skip-remaining.
type Signal int

const (
	SignalNone Signal = iota
	SignalSkipRemaining
	SignalPause
	SignalCancel
)

func (s Signal) String() string {
	switch s {
	case SignalSkipRemaining:
		return "skip-remaining"
	case SignalPause:
		return "pause"
	case SignalCancel:
		return "cancel"
	default:
		return "none"
	}
}

type jobControl struct {
	mu     sync.Mutex
	signal Signal
}

// Registry tracks which jobs are running in this process and the control
// signals raised against them. Signals are process-local: a caller that gets
// false back from a request knows no local orchestrator owns the job and
// falls back to writing status directly.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*jobControl
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*jobControl)}
}

// Register claims the job for this process. Returns false when another
// orchestrator in this process already owns it.
func (r *Registry) Register(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; ok {
		return false
	}
	r.jobs[jobID] = &jobControl{}
	return true
}

// Unregister releases the job. Pending signals are discarded with it.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// IsRunning reports whether this process currently owns the job.
func (r *Registry) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobID]
	return ok
}

// Check returns the strongest signal raised against the job so far.
func (r *Registry) Check(jobID string) Signal {
	r.mu.Lock()
	jc, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return SignalNone
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.signal
}

// RequestCancel asks the job's orchestrator to stop and mark the job
// cancelled. Returns false when the job is not running here.
func (r *Registry) RequestCancel(jobID string) bool {
	return r.raise(jobID, SignalCancel)
}

// RequestPause asks the orchestrator to checkpoint and stop resumable.
func (r *Registry) RequestPause(jobID string) bool {
	return r.raise(jobID, SignalPause)
}

// RequestSkipRemaining asks the orchestrator to finish the item in flight,
// skip the rest, and complete the job.
func (r *Registry) RequestSkipRemaining(jobID string) bool {
	return r.raise(jobID, SignalSkipRemaining)
}

func (r *Registry) raise(jobID string, s Signal) bool {
	r.mu.Lock()
	jc, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	// A stronger signal is never downgraded by a later weaker one.
	if s > jc.signal {
		jc.signal = s
	}
	return true
}
