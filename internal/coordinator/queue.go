package coordinator

import (
	"sync"

	"github.com/datanger/gemini-cli/pkg/models"
)

// ExecutionQueue is an admission-controlled queue bounded by a maximum
// number of in-flight invocations. Dequeue is the single extraction
// point; it consults the DependencyResolver so only invocations whose
// dependencies have completed are ever promoted to executing.
type ExecutionQueue struct {
	// resolver partitions queued invocations by dependency readiness.
	resolver *DependencyResolver
	// maxConcurrent caps the number of simultaneously executing invocations.
	maxConcurrent int

	// queued holds the backlog in insertion order.
	queued []*models.Invocation
	// executing maps invocation ID to the in-flight invocation.
	executing map[string]*models.Invocation
	// completed tracks IDs whose success satisfies later dependency checks.
	completed map[string]bool
	// excluded tracks IDs removed as members of a dependency cycle.
	// They are never executed and never retried.
	excluded map[string]*models.Invocation
	// settled counts invocations that reached a terminal status.
	settled int

	mu sync.Mutex
}

// QueueStatus is a point-in-time snapshot of queue occupancy.
type QueueStatus struct {
	// Queued is the number of invocations waiting in the backlog.
	Queued int
	// Executing is the number of in-flight invocations.
	Executing int
	// Completed is the number of terminally settled invocations.
	Completed int
	// CanRun indicates whether another invocation may be promoted.
	CanRun bool
}

// NewExecutionQueue creates a queue bounded by maxConcurrent in-flight
// invocations. A non-positive maxConcurrent is treated as 1.
func NewExecutionQueue(resolver *DependencyResolver, maxConcurrent int) *ExecutionQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ExecutionQueue{
		resolver:      resolver,
		maxConcurrent: maxConcurrent,
		executing:     make(map[string]*models.Invocation),
		completed:     make(map[string]bool),
		excluded:      make(map[string]*models.Invocation),
	}
}

// Enqueue admits one invocation to the backlog and marks it queued.
func (q *ExecutionQueue) Enqueue(inv *models.Invocation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inv.Status = models.InvocationStatusQueued
	q.queued = append(q.queued, inv)
}

// EnqueueBatch admits a batch of invocations in order.
func (q *ExecutionQueue) EnqueueBatch(invs []*models.Invocation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, inv := range invs {
		inv.Status = models.InvocationStatusQueued
		q.queued = append(q.queued, inv)
	}
}

// MarkSatisfied records an externally satisfied dependency ID, such as a
// role marker completed in an earlier batch.
func (q *ExecutionQueue) MarkSatisfied(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = true
}

// Dequeue recomputes the executable set over queued invocations and
// promotes the highest-priority one to executing, removing it from the
// backlog. It returns nil when nothing is ready or the concurrency cap
// is reached. Invocations found to be part of a dependency cycle are
// permanently excluded here and never returned.
func (q *ExecutionQueue) Dequeue() *models.Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.executing) >= q.maxConcurrent {
		return nil
	}

	part := q.resolver.Resolve(q.queued, q.completed)

	if len(part.Circular) > 0 {
		for _, inv := range part.Circular {
			q.excluded[inv.ID] = inv
			debugLog("[queue] excluding %s (%s): circular dependency", inv.ID, inv.Tool)
		}
		q.queued = withoutIDs(q.queued, part.Circular)
	}

	if len(part.Executable) == 0 {
		return nil
	}

	next := q.resolver.SortByPriority(part.Executable)[0]
	q.queued = withoutIDs(q.queued, []*models.Invocation{next})
	next.Status = models.InvocationStatusExecuting
	q.executing[next.ID] = next
	return next
}

// Requeue returns an invocation that could not be run (for example a
// failed resource allocation) to the front of the backlog. The caller
// must not drop such invocations.
func (q *ExecutionQueue) Requeue(inv *models.Invocation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.executing, inv.ID)
	inv.Status = models.InvocationStatusQueued
	q.queued = append([]*models.Invocation{inv}, q.queued...)
}

// MarkRetrying clears the in-flight entry for id without counting a
// settlement; the caller re-enqueues the invocation for another attempt.
func (q *ExecutionQueue) MarkRetrying(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.executing, id)
}

// MarkCompleted clears the in-flight entry for id and counts one
// terminal settlement. On success the ID is added to the completed set
// consulted by later dependency checks; a failed invocation does not
// unblock its dependents.
func (q *ExecutionQueue) MarkCompleted(id string, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.executing[id]; !ok {
		return
	}
	delete(q.executing, id)
	q.settled++
	if success {
		q.completed[id] = true
	}
}

// Status reports queued, executing, and settled counts and whether more
// work can be promoted.
func (q *ExecutionQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Queued:    len(q.queued),
		Executing: len(q.executing),
		Completed: q.settled,
		CanRun:    len(q.executing) < q.maxConcurrent,
	}
}

// HasWork returns true while queued or in-flight invocations remain.
func (q *ExecutionQueue) HasWork() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued) > 0 || len(q.executing) > 0
}

// Stalled returns true when nothing is in flight yet queued invocations
// remain, none of which are currently executable. With no settlements
// outstanding the backlog cannot make progress on its own.
func (q *ExecutionQueue) Stalled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.executing) > 0 || len(q.queued) == 0 {
		return false
	}
	part := q.resolver.Resolve(q.queued, q.completed)
	return len(part.Executable) == 0
}

// Backlog returns a copy of the queued invocations, for introspection.
func (q *ExecutionQueue) Backlog() []*models.Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Invocation(nil), q.queued...)
}

// Excluded returns the invocations permanently excluded as cycle members.
func (q *ExecutionQueue) Excluded() []*models.Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Invocation, 0, len(q.excluded))
	for _, inv := range q.excluded {
		out = append(out, inv)
	}
	return out
}

// withoutIDs removes the given invocations from list, preserving order.
func withoutIDs(list, remove []*models.Invocation) []*models.Invocation {
	drop := make(map[string]bool, len(remove))
	for _, inv := range remove {
		drop[inv.ID] = true
	}
	kept := list[:0]
	for _, inv := range list {
		if !drop[inv.ID] {
			kept = append(kept, inv)
		}
	}
	return kept
}
