package health

import "sync/atomic"

// Status is the state of the task building run.
type Status string

const (
	StatusBuilding Status = "building"
	StatusDone     Status = "done"
	StatusAborted  Status = "aborted"
	StatusFailed   Status = "failed"
)

// Checker tracks how the pipeline run ended, if it has.
type Checker struct {
	status atomic.Value
}

// NewChecker creates a checker in the building state.
func NewChecker() *Checker {
	c := &Checker{}
	c.status.Store(StatusBuilding)
	return c
}

// SetDone marks the pipeline as finished with every deal processed.
func (c *Checker) SetDone() {
	c.finish(StatusDone)
}

// SetAborted marks the pipeline as cancelled before reaching the end of its
// input.
func (c *Checker) SetAborted() {
	c.finish(StatusAborted)
}

// SetFailed marks the pipeline as stopped by an error.
func (c *Checker) SetFailed() {
	c.finish(StatusFailed)
}

// finish records the final status. Only the first call has an effect.
func (c *Checker) finish(s Status) {
	c.status.CompareAndSwap(StatusBuilding, s)
}

// Status returns the current pipeline status.
func (c *Checker) Status() Status {
	return c.status.Load().(Status)
}
