// Package sched drives cooperative tasks through namespace-tagged
// submission and completion queues. Each task is an explicit state
// machine; worker loops pull Ready tasks from a shared priority run-queue
// and dispatch their operations to a backend, which pushes completion
// events back asynchronously.
package sched

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/arclight-os/core/internal/capability"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
	"github.com/arclight-os/core/internal/namespace"
	"github.com/arclight-os/core/internal/shared/rights"
	"github.com/arclight-os/core/internal/shared/types"
)

// Capabilities gates admission: every operation is checked before it
// reaches a backend.
type Capabilities interface {
	Check(tok capability.Token, required rights.Mask) error
}

// Namespaces is the slice of the namespace manager the scheduler needs.
type Namespaces interface {
	Exists(ns types.NamespaceID) bool
	IncTasks(ns types.NamespaceID)
	DecTasks(ns types.NamespaceID)
}

// Backend executes one operation descriptor. Execute runs on a dispatch
// goroutine, never on a worker loop, so a slow backend parks only its own
// task.
type Backend interface {
	Execute(ctx context.Context, op Operation) ([]byte, error)
}

// Config sizes the scheduler. Weights are the run-queue drain credits
// for the IO, Normal, and Background classes; zero entries take the
// default.
type Config struct {
	Workers     int
	QueueDepth  int
	AgingRounds uint64
	Weights     [3]int
}

// LatencyStats summarizes submission-to-completion latency in seconds.
type LatencyStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
}

// Stats is a point-in-time scheduler snapshot.
type Stats struct {
	TasksByState       map[string]int    `json:"tasks_by_state"`
	SubmittedByClass   map[string]uint64 `json:"submitted_by_class"`
	ReadyQueueLen      int               `json:"ready_queue_len"`
	AgingPromotions    uint64            `json:"aging_promotions"`
	DroppedCompletions uint64            `json:"dropped_completions"`
	Latency            LatencyStats      `json:"latency"`
}

const latencyWindow = 1024

// Scheduler multiplexes cooperative tasks across worker loops.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	caps       Capabilities
	namespaces Namespaces
	backend    Backend

	run     *runQueue
	queues  map[types.NamespaceID]*nsQueue
	tasks   map[types.TaskID]*task
	nextID  types.TaskID
	counts  [5]int
	byClass map[Class]uint64

	watchers map[types.NamespaceID]map[chan CompletionEvent]struct{}

	latencies []float64
	agingSeen uint64

	cfg     Config
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewScheduler creates a stopped scheduler; call Start to launch workers.
func NewScheduler(caps Capabilities, namespaces Namespaces, backend Backend, cfg Config, logger *logging.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		caps:       caps,
		namespaces: namespaces,
		backend:    backend,
		run:        newRunQueue(cfg.AgingRounds, cfg.Weights),
		queues:     make(map[types.NamespaceID]*nsQueue),
		tasks:      make(map[types.TaskID]*task),
		byClass:    make(map[Class]uint64),
		watchers:   make(map[types.NamespaceID]map[chan CompletionEvent]struct{}),
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// WithMetrics attaches Prometheus collectors.
func (s *Scheduler) WithMetrics(metrics *monitoring.Metrics) *Scheduler {
	s.metrics = metrics
	return s
}

// Start launches the worker loops.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("Scheduler started", zap.Int("workers", s.cfg.Workers))
}

// Stop halts the worker loops. In-flight backend calls run to completion
// but their results are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.cond.Broadcast()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Submit admits one operation for the namespace. The token is checked
// against the operation's required rights before queueing; a full
// submission queue fails synchronously with ErrQueueFull.
func (s *Scheduler) Submit(ns types.NamespaceID, op Operation) (types.TaskID, error) {
	if !s.namespaces.Exists(ns) {
		return 0, namespace.ErrNotFound
	}
	if err := s.caps.Check(op.Token, op.Required); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(ns)
	if !q.admit() {
		if s.metrics != nil {
			s.metrics.QueueRejections.Inc()
		}
		return 0, ErrQueueFull
	}

	s.nextID++
	t := &task{
		id:        s.nextID,
		namespace: ns,
		op:        op,
		state:     StateReady,
		submitted: time.Now(),
		class:     op.Class,
		effective: op.Class,
	}
	s.tasks[t.id] = t
	s.run.push(t)
	s.counts[StateReady]++
	s.byClass[op.Class]++
	s.namespaces.IncTasks(ns)
	s.publishLocked(ns)
	if s.metrics != nil {
		s.metrics.TasksSubmitted.WithLabelValues(op.Class.String()).Inc()
	}
	s.cond.Signal()
	return t.id, nil
}

// PollCompletion drains one event from the namespace's completion queue.
func (s *Scheduler) PollCompletion(ns types.NamespaceID) (CompletionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[ns]
	if !ok {
		return CompletionEvent{}, false
	}
	ev, ok := q.poll()
	if ok && q.empty() {
		delete(s.queues, ns)
	}
	return ev, ok
}

// Cancel marks the task cancelled. Ready tasks are cancelled immediately;
// Waiting and Running tasks observe cancellation at their next suspension
// point and their in-flight result is discarded. An unknown or already
// completed task returns ErrTaskNotFound, which callers treat as a
// reported no-op.
func (s *Scheduler) Cancel(id types.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	switch t.current() {
	case StateReady:
		s.finishLocked(t, StateReady, CompletionEvent{Status: StatusCancelled})
	case StateRunning, StateWaiting:
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
	}
	return nil
}

// CancelNamespace force-cancels every live task in the namespace and
// drops its queues. Used by the forced namespace deletion cascade.
func (s *Scheduler) CancelNamespace(ns types.NamespaceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if t.namespace != ns || t.terminal() {
			continue
		}
		prev := t.current()
		t.mu.Lock()
		t.cancelled = true
		t.waitGen++
		t.mu.Unlock()
		s.counts[prev]--
		s.counts[StateCancelled]++
		t.transition(StateCancelled)
		delete(s.tasks, t.id)
		n++
	}
	delete(s.queues, ns)
	s.syncStateGauges()
	if s.metrics != nil {
		s.metrics.SetQueueDepth(ns.String(), 0)
	}
	return n
}

// Watch streams the namespace's completion events until cancel is called.
// Events are also delivered to the completion queue; a slow watcher drops
// events rather than stalling delivery.
func (s *Scheduler) Watch(ns types.NamespaceID) (<-chan CompletionEvent, func()) {
	ch := make(chan CompletionEvent, 16)
	s.mu.Lock()
	set, ok := s.watchers[ns]
	if !ok {
		set = make(map[chan CompletionEvent]struct{})
		s.watchers[ns] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.watchers[ns]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.watchers, ns)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Stats returns the scheduler snapshot. Latency quantiles cover the most
// recent completion window.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publishAgingLocked()
	st := Stats{
		TasksByState:     make(map[string]int, 5),
		SubmittedByClass: make(map[string]uint64, 3),
		ReadyQueueLen:    s.run.len(),
		AgingPromotions:  s.run.promotions,
	}
	for state := StateReady; state <= StateCancelled; state++ {
		st.TasksByState[state.String()] = s.counts[state]
	}
	for class, n := range s.byClass {
		st.SubmittedByClass[class.String()] = n
	}
	for _, q := range s.queues {
		st.DroppedCompletions += q.dropped
	}
	if len(s.latencies) > 0 {
		sorted := make([]float64, len(s.latencies))
		copy(sorted, s.latencies)
		sort.Float64s(sorted)
		st.Latency = LatencyStats{
			Mean: stat.Mean(sorted, nil),
			P50:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
			P90:  stat.Quantile(0.90, stat.Empirical, sorted, nil),
			P99:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
		}
	}
	return st
}

func (s *Scheduler) queue(ns types.NamespaceID) *nsQueue {
	q, ok := s.queues[ns]
	if !ok {
		q = newNSQueue(ns, s.cfg.QueueDepth)
		s.queues[ns] = q
	}
	return q
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for s.run.len() == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		t := s.run.pop()
		s.publishAgingLocked()
		if t == nil {
			s.mu.Unlock()
			continue
		}

		s.counts[StateReady]--
		s.counts[StateRunning]++
		t.transition(StateRunning)
		s.syncStateGauges()
		s.mu.Unlock()

		s.dispatch(t)
	}
}

// dispatch parks the task at its suspension point and hands the operation
// to the backend on its own goroutine, freeing the worker loop.
func (s *Scheduler) dispatch(t *task) {
	s.mu.Lock()
	t.mu.Lock()
	t.state = StateWaiting
	t.waitGen++
	gen := t.waitGen
	t.mu.Unlock()
	s.counts[StateRunning]--
	s.counts[StateWaiting]++
	s.syncStateGauges()
	s.mu.Unlock()

	if t.op.Timeout > 0 {
		time.AfterFunc(t.op.Timeout, func() {
			s.complete(t.id, gen, CompletionEvent{
				Status: StatusTimeout,
				Error:  "operation deadline exceeded",
			})
		})
	}

	go func() {
		data, err := s.backend.Execute(s.ctx, t.op)
		ev := CompletionEvent{Status: StatusOK, Result: data}
		if err != nil {
			ev = CompletionEvent{Status: StatusError, Error: err.Error()}
		}
		s.complete(t.id, gen, ev)
	}()
}

// complete applies one completion event to a Waiting task. A stale wait
// generation means this event lost the race against a timeout or
// cancellation and is discarded.
func (s *Scheduler) complete(id types.TaskID, gen uint64, ev CompletionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.mu.Lock()
	stale := t.state != StateWaiting || t.waitGen != gen
	t.mu.Unlock()
	if stale {
		return
	}
	s.finishLocked(t, StateWaiting, ev)
}

// finishLocked retires the task and delivers its completion event on the
// namespace queue. Caller holds s.mu.
func (s *Scheduler) finishLocked(t *task, prev State, ev CompletionEvent) {
	t.mu.Lock()
	t.waitGen++
	final := StateCompleted
	if t.cancelled || ev.Status == StatusCancelled {
		final = StateCancelled
		ev.Status = StatusCancelled
		ev.Result = nil
	}
	t.state = final
	t.mu.Unlock()

	latency := time.Since(t.submitted)
	ev.Task = t.id
	ev.Namespace = t.namespace
	ev.Latency = latency

	s.counts[prev]--
	s.counts[final]++
	delete(s.tasks, t.id)

	q := s.queue(t.namespace)
	q.push(ev)
	q.release()
	s.namespaces.DecTasks(t.namespace)
	s.publishLocked(t.namespace)
	s.syncStateGauges()

	s.latencies = append(s.latencies, latency.Seconds())
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
	if s.metrics != nil {
		s.metrics.CompletionLatency.Observe(latency.Seconds())
	}

	for ch := range s.watchers[t.namespace] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Scheduler) publishLocked(ns types.NamespaceID) {
	if s.metrics == nil {
		return
	}
	depth := 0
	if q, ok := s.queues[ns]; ok {
		depth = q.inFlight
	}
	s.metrics.SetQueueDepth(ns.String(), depth)
}

// publishAgingLocked pushes new aging promotions to the counter. Caller
// holds s.mu.
func (s *Scheduler) publishAgingLocked() {
	if s.metrics == nil {
		return
	}
	if p := s.run.promotions; p > s.agingSeen {
		s.metrics.AgingPromotions.Add(float64(p - s.agingSeen))
		s.agingSeen = p
	}
}

func (s *Scheduler) syncStateGauges() {
	if s.metrics == nil {
		return
	}
	for state := StateReady; state <= StateCancelled; state++ {
		s.metrics.SetTaskState(state.String(), s.counts[state])
	}
}
