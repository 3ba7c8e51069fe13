package cron

import "context"

// Job is one unit of scheduled sweep work. The worker runs every registered
// job once per cycle, in registration order, while it holds the cluster lock.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the worker's job lineup.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry from the provided jobs. Nil entries are
// skipped so callers can pass conditionally constructed jobs.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends a job to the lineup.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the lineup in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}
