package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

// Request is one caller-supplied tool invocation request. Explicit
// priority and dependency declarations always win; the phase-derived
// heuristic only fills the gaps.
type Request struct {
	// Tool is the registered tool name.
	Tool string
	// Args holds the tool arguments.
	Args map[string]any
	// Priority overrides the phase-derived priority when positive.
	Priority int
	// DependsOn overrides the role-derived dependencies when non-empty.
	DependsOn []string
	// Timeout overrides the default per-invocation timeout when positive.
	Timeout time.Duration
	// MaxRetries overrides the default retry budget when positive.
	MaxRetries int
}

// PhaseHinter reports the active workflow phase for a session, if any.
// The workflow state manager implements this; the coordinator uses it
// to derive admission priorities without importing the workflow layer.
type PhaseHinter interface {
	ActivePhase(sessionID string) (models.WorkflowPhase, bool)
}

// ResultListener observes settled execution results. Listeners are
// notified fire-and-forget after the coordinator's own bookkeeping
// completes and must never block the core loop.
type ResultListener func(sessionID string, result models.ExecutionResult)

// WorkflowSink receives every settled result synchronously, in
// settlement order, so phase bookkeeping stays current outside the
// orchestrator's own loop.
type WorkflowSink func(sessionID, tool string, payload any, success bool, errMsg string)

// Config holds coordinator tuning knobs.
type Config struct {
	// MaxConcurrent caps in-flight invocations per session.
	MaxConcurrent int
	// PollInterval is the idle backoff when queued work exists but
	// nothing is currently executable.
	PollInterval time.Duration
	// RetryBaseDelay seeds exponential retry backoff.
	RetryBaseDelay time.Duration
	// DefaultTimeout is the per-invocation budget when a request does
	// not carry one. Zero disables the timeout.
	DefaultTimeout time.Duration
	// DefaultMaxRetries is the retry budget when a request does not
	// carry one.
	DefaultMaxRetries int
}

// DefaultConfig returns the standard coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     4,
		PollInterval:      100 * time.Millisecond,
		RetryBaseDelay:    time.Second,
		DefaultTimeout:    60 * time.Second,
		DefaultMaxRetries: 3,
	}
}

// phasePrimaryRole maps each workflow phase to the tool role that ranks
// highest while the phase is active.
var phasePrimaryRole = map[models.WorkflowPhase]tools.Role{
	models.PhaseSearch: tools.RoleSearch,
	models.PhaseRead:   tools.RoleRead,
	models.PhaseModify: tools.RoleModify,
	models.PhaseVerify: tools.RoleVerify,
}

// phaseSecondaryRoles maps each phase to roles that rank above the
// default but below the primary.
var phaseSecondaryRoles = map[models.WorkflowPhase][]tools.Role{
	models.PhaseSearch: {tools.RoleRead},
	models.PhaseRead:   {tools.RoleSearch},
	models.PhaseModify: {tools.RoleRead},
	models.PhaseVerify: {tools.RoleModify},
}

// Priority bands for phase-derived admission ordering.
const (
	priorityPrimary   = 100
	prioritySecondary = 75
	priorityDefault   = 50
)

// Role markers are synthetic dependency IDs satisfied when any
// invocation of the role succeeds in the session. They encode the
// standing edges modify -> read and verify -> modify across batches.
const (
	markerReadDone   = "role:read"
	markerModifyDone = "role:modify"
)

// sessionState is the per-session backlog and role bookkeeping. Blocked
// invocations persist here across CoordinateExecution calls, so a later
// batch can supply the dependency that unblocks them.
type sessionState struct {
	queue    *ExecutionQueue
	roleDone map[tools.Role]bool
}

// Coordinator composes the resolver, queue, error handler, and resource
// manager into one "submit a batch, get results" API.
type Coordinator struct {
	registry  *tools.Registry
	resolver  *DependencyResolver
	errors    *ErrorHandler
	resources *ResourceManager
	phases    PhaseHinter
	logger    *DebugLogger
	cfg       Config

	sessions map[string]*sessionState
	mu       sync.Mutex

	listeners   []ResultListener
	sink        WorkflowSink
	listenersMu sync.RWMutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPhaseHinter wires the workflow layer's phase lookup.
func WithPhaseHinter(h PhaseHinter) Option {
	return func(c *Coordinator) { c.phases = h }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithResourceManager overrides the default process-wide resource
// manager, mainly for tests.
func WithResourceManager(m *ResourceManager) Option {
	return func(c *Coordinator) { c.resources = m }
}

// New creates a Coordinator over the given tool registry.
func New(registry *tools.Registry, cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = DefaultConfig().DefaultMaxRetries
	}

	resolver := NewDependencyResolver()
	c := &Coordinator{
		registry:  registry,
		resolver:  resolver,
		errors:    NewErrorHandler(registry),
		resources: NewResourceManager(registry, DefaultResourceLimits()),
		logger:    NopLogger(),
		cfg:       cfg,
		sessions:  make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	setPackageLogger(c.logger)
	return c
}

// Resources returns the shared resource manager, for introspection.
func (c *Coordinator) Resources() *ResourceManager {
	return c.resources
}

// AddResultListener registers a listener for settled results.
func (c *Coordinator) AddResultListener(l ResultListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetWorkflowSink wires the synchronous per-settlement forwarder to the
// workflow layer.
func (c *Coordinator) SetWorkflowSink(s WorkflowSink) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.sink = s
}

// session returns the per-session state, creating it on first use.
func (c *Coordinator) session(sessionID string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.sessions[sessionID]
	if !ok {
		ss = &sessionState{
			queue:    NewExecutionQueue(c.resolver, c.cfg.MaxConcurrent),
			roleDone: make(map[tools.Role]bool),
		}
		c.sessions[sessionID] = ss
	}
	return ss
}

// EndSession discards the session's backlog and role bookkeeping.
func (c *Coordinator) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// BacklogSize returns the number of invocations still queued for the
// session, such as blocked modify calls awaiting a read.
func (c *Coordinator) BacklogSize(sessionID string) int {
	c.mu.Lock()
	ss, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return ss.queue.Status().Queued
}

// buildInvocations turns requests into tracked invocations with
// phase-derived priorities and role-derived dependency edges.
func (c *Coordinator) buildInvocations(sessionID string, reqs []Request, ss *sessionState) []*models.Invocation {
	var phase models.WorkflowPhase
	havePhase := false
	if c.phases != nil {
		phase, havePhase = c.phases.ActivePhase(sessionID)
	}

	invs := make([]*models.Invocation, 0, len(reqs))
	readIDs := make([]string, 0, 2)
	modifyIDs := make([]string, 0, 2)

	for _, req := range reqs {
		inv := &models.Invocation{
			ID:         uuid.New().String()[:8],
			SessionID:  sessionID,
			Tool:       req.Tool,
			Args:       req.Args,
			Status:     models.InvocationStatusPending,
			Priority:   req.Priority,
			DependsOn:  append([]string(nil), req.DependsOn...),
			MaxRetries: req.MaxRetries,
			Timeout:    req.Timeout,
			CreatedAt:  time.Now(),
			Metadata:   map[string]string{},
		}
		if inv.MaxRetries <= 0 {
			inv.MaxRetries = c.cfg.DefaultMaxRetries
		}
		if inv.Timeout <= 0 {
			inv.Timeout = c.cfg.DefaultTimeout
		}

		role, _ := c.registry.RoleFor(req.Tool)
		if havePhase {
			inv.Metadata["phase"] = string(phase)
		}

		if inv.Priority <= 0 {
			inv.Priority = priorityDefault
			if havePhase {
				if phasePrimaryRole[phase] == role {
					inv.Priority = priorityPrimary
				} else {
					for _, r := range phaseSecondaryRoles[phase] {
						if r == role {
							inv.Priority = prioritySecondary
							break
						}
					}
				}
			}
		}

		switch role {
		case tools.RoleRead, tools.RoleSearch:
			if role == tools.RoleRead {
				readIDs = append(readIDs, inv.ID)
			}
		case tools.RoleModify:
			modifyIDs = append(modifyIDs, inv.ID)
		}

		invs = append(invs, inv)
	}

	// Standing edges: modify depends on read, verify depends on modify.
	// A read/modify in the same batch satisfies the edge directly; a
	// role already completed in a prior batch satisfies it through the
	// session's role marker, which the queue treats as completed.
	for i, req := range reqs {
		if len(req.DependsOn) > 0 {
			continue
		}
		role, _ := c.registry.RoleFor(req.Tool)
		switch role {
		case tools.RoleModify:
			if len(readIDs) > 0 {
				invs[i].DependsOn = append(invs[i].DependsOn, readIDs...)
			} else {
				invs[i].DependsOn = append(invs[i].DependsOn, markerReadDone)
			}
		case tools.RoleVerify:
			if len(modifyIDs) > 0 {
				invs[i].DependsOn = append(invs[i].DependsOn, modifyIDs...)
			} else {
				invs[i].DependsOn = append(invs[i].DependsOn, markerModifyDone)
			}
		}
	}

	if ss.roleDone[tools.RoleRead] {
		ss.queue.MarkSatisfied(markerReadDone)
	}
	if ss.roleDone[tools.RoleModify] {
		ss.queue.MarkSatisfied(markerModifyDone)
	}

	return invs
}

// settlement carries one attempt outcome from a worker goroutine back
// to the controlling loop.
type settlement struct {
	inv     *models.Invocation
	payload any
	err     error
	timeout bool
	elapsed time.Duration
}

// CoordinateExecution is the sole external entry point: it admits the
// batch into the session's queue and drives dependency-aware, bounded
// concurrent execution until everything admitted either settles or is
// blocked on a dependency no current work can satisfy. Blocked
// invocations stay queued for a later batch. The returned results cover
// invocations settled during this call, in settlement order.
func (c *Coordinator) CoordinateExecution(ctx context.Context, sessionID string, reqs []Request) ([]models.ExecutionResult, error) {
	ss := c.session(sessionID)
	invs := c.buildInvocations(sessionID, reqs, ss)
	ss.queue.EnqueueBatch(invs)

	c.logger.Log("[coordinate] session %s: admitted %d invocations (backlog %d)",
		sessionID, len(invs), ss.queue.Status().Queued)

	var results []models.ExecutionResult

	for {
		// Cancellation is checked before launching a new batch.
		if ctx.Err() != nil {
			c.cancelInFlight(ss, &results, sessionID)
			return results, nil
		}

		batch := c.pullExecutable(ss)

		if len(batch) == 0 {
			if !ss.queue.HasWork() {
				break
			}
			if ss.queue.Stalled() {
				// Pure dependency stall with nothing in flight: the
				// missing edge must come from a later batch. Leave the
				// backlog queued and settle what we have.
				c.logger.Log("[coordinate] session %s: %d blocked invocations left queued",
					sessionID, ss.queue.Status().Queued)
				break
			}
			// Waiting on resources held elsewhere; back off briefly.
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}

		settlements := c.runBatch(ctx, batch)

		for _, s := range settlements {
			// Cancellation is checked before acting on results.
			if ctx.Err() != nil {
				c.finishCancelled(ss, s.inv)
				continue
			}
			res, retried := c.settle(ctx, ss, s)
			if retried {
				continue
			}
			results = append(results, res)
			c.broadcast(sessionID, res)
		}
	}

	return results, nil
}

// pullExecutable dequeues every currently executable invocation bounded
// by concurrency and resource availability. An invocation that fails
// the resource check is re-queued, not dropped, and the pull stops for
// this tick so a lower-priority invocation cannot overtake it.
func (c *Coordinator) pullExecutable(ss *sessionState) []*models.Invocation {
	var batch []*models.Invocation
	for {
		inv := ss.queue.Dequeue()
		if inv == nil {
			break
		}
		if !c.resources.Allocate(inv) {
			c.logger.Log("[coordinate] resource quota exhausted for %s (%s), re-queueing",
				inv.ID, inv.Tool)
			ss.queue.Requeue(inv)
			break
		}
		batch = append(batch, inv)
	}
	return batch
}

// runBatch launches the pulled set concurrently and awaits every
// settlement before returning.
func (c *Coordinator) runBatch(ctx context.Context, batch []*models.Invocation) []settlement {
	settleCh := make(chan settlement, len(batch))
	var wg sync.WaitGroup

	for _, inv := range batch {
		wg.Add(1)
		go func(inv *models.Invocation) {
			defer wg.Done()
			settleCh <- c.execute(ctx, inv)
		}(inv)
	}

	wg.Wait()
	close(settleCh)

	settlements := make([]settlement, 0, len(batch))
	for s := range settleCh {
		settlements = append(settlements, s)
	}
	return settlements
}

// execute runs one invocation attempt, racing it against its own
// timeout. The resource allocation acquired before launch is released
// here on every exit path.
func (c *Coordinator) execute(ctx context.Context, inv *models.Invocation) settlement {
	defer c.resources.Release(inv)

	now := time.Now()
	if inv.StartedAt == nil {
		inv.StartedAt = &now
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	payload, err := c.registry.Execute(runCtx, inv.Tool, inv.Args)
	elapsed := time.Since(now)

	timedOut := err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	return settlement{inv: inv, payload: payload, err: err, timeout: timedOut, elapsed: elapsed}
}

// settle processes one settlement: success records the result and
// unblocks dependents; failure walks retry, then fallback, then
// terminal failure. Returns retried=true when the invocation or its
// fallback re-entered the queue and no result should be emitted yet.
func (c *Coordinator) settle(ctx context.Context, ss *sessionState, s settlement) (models.ExecutionResult, bool) {
	inv := s.inv

	if s.err == nil {
		inv.Status = models.InvocationStatusSuccess
		inv.Result = s.payload
		completed := time.Now()
		inv.CompletedAt = &completed
		ss.queue.MarkCompleted(inv.ID, true)
		c.markRoleDone(ss, inv)

		return models.ExecutionResult{
			InvocationID: inv.ID,
			Tool:         inv.Tool,
			Success:      true,
			Payload:      s.payload,
			Elapsed:      s.elapsed,
			RetryCount:   inv.RetryCount,
		}, false
	}

	errMsg := s.err.Error()
	if s.timeout {
		inv.Status = models.InvocationStatusTimeout
		errMsg = "timeout: " + errMsg
	}
	inv.Error = errMsg

	if c.errors.ShouldRetry(inv, errMsg) {
		ss.queue.MarkRetrying(inv.ID)
		inv.RetryCount++
		inv.Status = models.InvocationStatusRetrying
		delay := c.errors.CalculateRetryDelay(inv.RetryCount, c.cfg.RetryBaseDelay)
		c.logger.Log("[coordinate] %s (%s) failed (%s), retry %d/%d in %s",
			inv.ID, inv.Tool, c.errors.Classify(errMsg), inv.RetryCount, inv.MaxRetries, delay)

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		ss.queue.Enqueue(inv)
		return models.ExecutionResult{}, true
	}

	ss.queue.MarkCompleted(inv.ID, false)

	if fb := c.errors.GenerateFallback(inv); fb != nil {
		inv.Status = models.InvocationStatusFailed
		completed := time.Now()
		inv.CompletedAt = &completed
		c.logger.Log("[coordinate] %s (%s) exhausted retries, substituting fallback %s (%s)",
			inv.ID, inv.Tool, fb.ID, fb.Tool)
		ss.queue.Enqueue(fb)
		return models.ExecutionResult{}, true
	}

	if inv.Status != models.InvocationStatusTimeout {
		inv.Status = models.InvocationStatusFailed
	}
	completed := time.Now()
	inv.CompletedAt = &completed

	return models.ExecutionResult{
		InvocationID: inv.ID,
		Tool:         inv.Tool,
		Success:      false,
		Error:        errMsg,
		Elapsed:      s.elapsed,
		RetryCount:   inv.RetryCount,
	}, false
}

// markRoleDone records role completion for the session and satisfies
// the corresponding standing-edge marker.
func (c *Coordinator) markRoleDone(ss *sessionState, inv *models.Invocation) {
	role, ok := c.registry.RoleFor(inv.Tool)
	if !ok {
		return
	}
	switch role {
	case tools.RoleRead:
		ss.roleDone[tools.RoleRead] = true
		ss.queue.MarkSatisfied(markerReadDone)
	case tools.RoleModify:
		ss.roleDone[tools.RoleModify] = true
		ss.queue.MarkSatisfied(markerModifyDone)
	}
}

// finishCancelled settles an invocation whose result arrived after the
// caller cancelled: resources are already released, the queue entry is
// cleared, and the invocation is marked cancelled.
func (c *Coordinator) finishCancelled(ss *sessionState, inv *models.Invocation) {
	ss.queue.MarkCompleted(inv.ID, false)
	inv.Status = models.InvocationStatusCancelled
	completed := time.Now()
	inv.CompletedAt = &completed
}

// cancelInFlight records cancelled results for anything the caller's
// cancellation cut off before launch. Queued work stays in the backlog.
func (c *Coordinator) cancelInFlight(ss *sessionState, results *[]models.ExecutionResult, sessionID string) {
	c.logger.Log("[coordinate] session %s: cancelled with %d results settled, %d queued",
		sessionID, len(*results), ss.queue.Status().Queued)
}

// broadcast notifies listeners fire-and-forget and forwards the result
// synchronously to the workflow sink so phase bookkeeping observes
// settlements in order.
func (c *Coordinator) broadcast(sessionID string, res models.ExecutionResult) {
	c.listenersMu.RLock()
	listeners := append([]ResultListener(nil), c.listeners...)
	sink := c.sink
	c.listenersMu.RUnlock()

	if sink != nil {
		sink(sessionID, res.Tool, res.Payload, res.Success, res.Error)
	}
	for _, l := range listeners {
		go l(sessionID, res)
	}
}
