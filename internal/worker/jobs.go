package worker

import "sync"

type stopper interface {
	Stop()
}

// job tracks the orchestrator currently running for one request so that a
// cancel can reach it.
type job struct {
	mu      sync.Mutex
	stopped bool
	current stopper
}

// attach makes s the running step. It reports false once the job was
// stopped, in which case s must not run.
func (j *job) attach(s stopper) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return false
	}

	j.current = s

	return true
}

func (j *job) stop() {
	j.mu.Lock()
	j.stopped = true
	current := j.current
	j.mu.Unlock()

	if current != nil {
		current.Stop()
	}
}

// registry indexes in-flight jobs by workflow id. Pages of one workflow
// may be in flight together.
type registry struct {
	mu     sync.Mutex
	jobs   map[string]map[*job]struct{}
	closed bool
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]map[*job]struct{})}
}

// add registers a job. Once the registry is closed the job is born
// stopped.
func (r *registry) add(workflowID string) *job {
	j := &job{}

	r.mu.Lock()
	defer r.mu.Unlock()

	j.stopped = r.closed

	if r.jobs[workflowID] == nil {
		r.jobs[workflowID] = make(map[*job]struct{})
	}

	r.jobs[workflowID][j] = struct{}{}

	return j
}

func (r *registry) remove(workflowID string, j *job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs[workflowID], j)

	if len(r.jobs[workflowID]) == 0 {
		delete(r.jobs, workflowID)
	}
}

// cancel stops every job of workflowID and reports whether there was one.
func (r *registry) cancel(workflowID string) bool {
	r.mu.Lock()
	matched := make([]*job, 0, len(r.jobs[workflowID]))

	for j := range r.jobs[workflowID] {
		matched = append(matched, j)
	}

	r.mu.Unlock()

	for _, j := range matched {
		j.stop()
	}

	return len(matched) > 0
}

// cancelAll stops every job and closes the registry.
func (r *registry) cancelAll() {
	r.mu.Lock()
	r.closed = true
	matched := make([]*job, 0, len(r.jobs))

	for _, jobs := range r.jobs {
		for j := range jobs {
			matched = append(matched, j)
		}
	}

	r.mu.Unlock()

	for _, j := range matched {
		j.stop()
	}
}
