// Package admission bounds the number of outbound deliveries in flight
// across every dispatch in the process.
package admission

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentRequests is used when no ceiling is configured.
const DefaultMaxConcurrentRequests = 100

// ErrAdmissionExceeded is returned when a dispatch asks for more slots than
// are currently free.
var ErrAdmissionExceeded = errors.New("concurrent request limit exceeded")

// Controller is a counting semaphore with fail-fast, all-or-nothing
// acquisition. It never queues callers.
type Controller struct {
	limit    int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// New creates a Controller with limit slots. A non-positive limit falls back
// to DefaultMaxConcurrentRequests.
func New(limit int) *Controller {
	if limit <= 0 {
		limit = DefaultMaxConcurrentRequests
	}
	return &Controller{
		limit: int64(limit),
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

// TryAcquire takes n slots at once or none. Asking for zero slots always
// succeeds.
func (c *Controller) TryAcquire(n int) error {
	if n <= 0 {
		return nil
	}
	if int64(n) > c.limit || !c.sem.TryAcquire(int64(n)) {
		return fmt.Errorf("%w: need %d slots, %d of %d in use",
			ErrAdmissionExceeded, n, c.inFlight.Load(), c.limit)
	}
	c.inFlight.Add(int64(n))
	return nil
}

// Release returns n slots. It never blocks.
func (c *Controller) Release(n int) {
	if n <= 0 {
		return
	}
	c.inFlight.Add(-int64(n))
	c.sem.Release(int64(n))
}

// InFlight reports the number of slots currently held.
func (c *Controller) InFlight() int { return int(c.inFlight.Load()) }

// Limit reports the configured ceiling.
func (c *Controller) Limit() int { return int(c.limit) }
