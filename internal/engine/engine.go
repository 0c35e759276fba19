package engine

import (
	"context"
	"errors"
	"expvar"
	"log"
	"sync"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/store"

	"github.com/google/uuid"
)

var (
	dispatchesTotal = expvar.NewInt("engine_dispatches_total")
	eventsDropped   = expvar.NewInt("engine_events_dropped_total")
)

// Recorder consumes completed/cancelled/issued token events for aggregate
// statistics. Implementations must never block; errors stay on their side.
type Recorder interface {
	OnIssued(token models.Token)
	OnCompleted(token models.Token, waitSeconds, serviceSeconds float64)
	OnCancelled(token models.Token)
}

type noopRecorder struct{}

func (noopRecorder) OnIssued(models.Token) {}

func (noopRecorder) OnCompleted(models.Token, float64, float64) {}

func (noopRecorder) OnCancelled(models.Token) {}

type Options struct {
	// AutoDispatch pulls the next waiting token onto a counter as soon as
	// it completes a service.
	AutoDispatch bool
	// DefaultServiceSeconds seeds wait estimates while a category has no
	// completions yet.
	DefaultServiceSeconds int
	EventBuffer           int
}

// Engine pairs waiting tokens with available counters and is the only
// writer of Token.status/counter timestamps and of Counter.currentToken
// and its running totals. Operations that touch a counter serialize on a
// per-counter lock acquired before any token mutation, so the
// counter↔token cross-reference is never observed half-built.
type Engine struct {
	queue    store.QueueStore
	counters store.CounterRegistry
	journal  Journal
	stats    Recorder
	clock    Clock
	newID    func() string

	autoDispatch          bool
	defaultServiceSeconds int

	lockMu       sync.Mutex
	counterLocks map[string]*sync.Mutex

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func New(queue store.QueueStore, counters store.CounterRegistry, journal Journal, stats Recorder, sink Sink, options Options) *Engine {
	if journal == nil {
		journal = noopJournal{}
	}
	if stats == nil {
		stats = noopRecorder{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	buffer := options.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	defaultService := options.DefaultServiceSeconds
	if defaultService <= 0 {
		defaultService = 300
	}

	e := &Engine{
		queue:                 queue,
		counters:              counters,
		journal:               journal,
		stats:                 stats,
		clock:                 systemClock{},
		newID:                 uuid.NewString,
		autoDispatch:          options.AutoDispatch,
		defaultServiceSeconds: defaultService,
		counterLocks:          make(map[string]*sync.Mutex),
		events:                make(chan Event, buffer),
		done:                  make(chan struct{}),
	}
	go e.forward(sink)
	return e
}

// WithClock replaces the wall clock. Test hook; call before use.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

// Close drains the event channel. Call only after all callers stopped.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.events) })
	<-e.done
}

func (e *Engine) forward(sink Sink) {
	for event := range e.events {
		sink.Deliver(event)
	}
	close(e.done)
}

// emit hands a committed event to the sink goroutine. The single channel
// preserves commit order; a full buffer drops rather than stall a commit.
func (e *Engine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		eventsDropped.Add(1)
		log.Printf("event dropped type=%s category=%s", event.Type, event.Category)
	}
}

func (e *Engine) lockCounter(counterID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.counterLocks[counterID]
	if !ok {
		mu = &sync.Mutex{}
		e.counterLocks[counterID] = mu
	}
	return mu
}

type IssueInput struct {
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	Category      string
	Priority      int
}

// Issue creates a waiting token, stamping it with the wait estimate
// current at enqueue time.
func (e *Engine) Issue(ctx context.Context, input IssueInput) (models.Token, error) {
	if !models.ValidCategory(input.Category) {
		return models.Token{}, store.ErrInvalidCategory
	}
	if input.Priority < 0 {
		input.Priority = 0
	}

	estimate, err := e.EstimateWait(ctx, input.Category)
	if err != nil {
		return models.Token{}, err
	}

	token, err := e.queue.Enqueue(ctx, store.EnqueueInput{
		CustomerID:    input.CustomerID,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		Category:      input.Category,
		Priority:      input.Priority,
		EstimatedWait: estimate,
		CreatedAt:     e.clock.Now(),
	})
	if err != nil {
		return models.Token{}, err
	}

	event := e.newEvent(EventIssued, &token, nil)
	if err := e.journal.Append(ctx, event); err != nil {
		_ = e.queue.Discard(ctx, token.TokenID)
		return models.Token{}, err
	}

	e.stats.OnIssued(token)
	e.emit(event)
	return token, nil
}

// Dispatch assigns the next waiting token of the counter's category to the
// counter. Availability is re-validated at commit under the counter lock;
// a benign race (another dispatch stole the counter between attach and
// claim) is retried once before surfacing.
func (e *Engine) Dispatch(ctx context.Context, counterID string) (models.Token, error) {
	mu := e.lockCounter(counterID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		counter, err := e.counters.Get(ctx, counterID)
		if err != nil {
			return models.Token{}, err
		}
		if counter.Status != models.CounterActive || counter.CurrentToken != nil {
			return models.Token{}, store.ErrCounterUnavailable
		}

		token, err := e.queue.ClaimNext(ctx, counter.Category, counterID, e.clock.Now())
		if err != nil {
			return models.Token{}, err
		}

		attached, err := e.counters.AttachToken(ctx, counterID, token.TokenID)
		if err != nil {
			_ = e.queue.Restore(ctx, unclaimed(token))
			lastErr = err
			continue
		}

		event := e.newEvent(EventDispatched, &token, &attached)
		if err := e.journal.Append(ctx, event); err != nil {
			_, _ = e.counters.DetachToken(ctx, counterID)
			_ = e.queue.Restore(ctx, unclaimed(token))
			return models.Token{}, err
		}

		dispatchesTotal.Add(1)
		e.emit(event)
		return token, nil
	}
	return models.Token{}, lastErr
}

// unclaimed is the compensating snapshot for a claim that could not be
// committed: the token goes back to the waiting queue untouched.
func unclaimed(token models.Token) models.Token {
	token.Status = models.StatusWaiting
	token.CounterID = nil
	token.CalledAt = nil
	return token
}

// Complete finishes the service of a serving token, frees its counter and
// folds the service duration into the counter's running average. When
// auto-dispatch is on, the freed counter immediately pulls its next token.
func (e *Engine) Complete(ctx context.Context, tokenID string, rating *int, feedback string) (models.Token, error) {
	token, counterID, err := e.completeLocked(ctx, tokenID, rating, feedback)
	if err != nil {
		return token, err
	}

	if e.autoDispatch {
		if _, err := e.Dispatch(ctx, counterID); err != nil &&
			!errors.Is(err, store.ErrNoToken) && !errors.Is(err, store.ErrCounterUnavailable) {
			log.Printf("auto dispatch counter=%s error=%v", counterID, err)
		}
	}
	return token, nil
}

func (e *Engine) completeLocked(ctx context.Context, tokenID string, rating *int, feedback string) (models.Token, string, error) {
	serving, err := e.queue.Get(ctx, tokenID)
	if err != nil {
		return models.Token{}, "", err
	}
	if serving.Status != models.StatusServing || serving.CounterID == nil {
		return models.Token{}, "", store.ErrInvalidState
	}
	counterID := *serving.CounterID

	mu := e.lockCounter(counterID)
	mu.Lock()
	defer mu.Unlock()

	before, err := e.counters.Get(ctx, counterID)
	if err != nil {
		return models.Token{}, "", err
	}

	now := e.clock.Now()
	completed, err := e.queue.MarkCompleted(ctx, tokenID, now, rating, feedback)
	if err != nil {
		return models.Token{}, "", err
	}

	serviceSeconds := now.Sub(*completed.CalledAt).Seconds()
	if serviceSeconds < 0 {
		serviceSeconds = 0
	}
	if _, err := e.counters.DetachToken(ctx, counterID); err != nil {
		_ = e.queue.Restore(ctx, serving)
		return models.Token{}, "", err
	}
	after, err := e.counters.RecordCompletion(ctx, counterID, serviceSeconds, now)
	if err != nil {
		_ = e.counters.Restore(ctx, before)
		_ = e.queue.Restore(ctx, serving)
		return models.Token{}, "", err
	}

	event := e.newEvent(EventCompleted, &completed, &after)
	if err := e.journal.Append(ctx, event); err != nil {
		_ = e.counters.Restore(ctx, before)
		_ = e.queue.Restore(ctx, serving)
		return models.Token{}, "", err
	}

	waitSeconds := completed.CalledAt.Sub(completed.CreatedAt).Seconds()
	if waitSeconds < 0 {
		waitSeconds = 0
	}
	e.stats.OnCompleted(completed, waitSeconds, serviceSeconds)
	e.emit(event)
	return completed, counterID, nil
}

// Cancel withdraws a waiting token. A cancel that loses the race against a
// dispatch gets ErrInvalidState from the transition guard; callers treat
// that as already handled.
func (e *Engine) Cancel(ctx context.Context, tokenID string) (models.Token, error) {
	before, err := e.queue.Get(ctx, tokenID)
	if err != nil {
		return models.Token{}, err
	}

	cancelled, err := e.queue.MarkCancelled(ctx, tokenID, e.clock.Now())
	if err != nil {
		return models.Token{}, err
	}

	event := e.newEvent(EventCancelled, &cancelled, nil)
	if err := e.journal.Append(ctx, event); err != nil {
		_ = e.queue.Restore(ctx, before)
		return models.Token{}, err
	}

	e.stats.OnCancelled(cancelled)
	e.emit(event)
	return cancelled, nil
}

// SetOperational toggles a counter between active, break and offline and
// records the staff assignment.
func (e *Engine) SetOperational(ctx context.Context, counterID, status string, staffID *string, staffName string) (models.Counter, error) {
	mu := e.lockCounter(counterID)
	mu.Lock()
	defer mu.Unlock()

	before, err := e.counters.Get(ctx, counterID)
	if err != nil {
		return models.Counter{}, err
	}

	counter, err := e.counters.SetOperational(ctx, counterID, status, staffID, staffName)
	if err != nil {
		return models.Counter{}, err
	}

	event := e.newEvent(EventCounterUpdated, nil, &counter)
	if err := e.journal.Append(ctx, event); err != nil {
		_ = e.counters.Restore(ctx, before)
		return models.Counter{}, err
	}

	e.emit(event)
	return counter, nil
}

// EstimateWait projects the wait for a newly arriving token of the
// category: queue depth times the category's mean service time, falling
// back to the configured default while no completions exist.
func (e *Engine) EstimateWait(ctx context.Context, category string) (int, error) {
	if !models.ValidCategory(category) {
		return 0, store.ErrInvalidCategory
	}
	depth, err := e.queue.QueueDepth(ctx, category)
	if err != nil {
		return 0, err
	}
	avg, samples, err := e.counters.AvgServiceSeconds(ctx, category)
	if err != nil {
		return 0, err
	}
	if samples == 0 {
		avg = float64(e.defaultServiceSeconds)
	}
	estimate := float64(depth) * avg
	if estimate < 0 {
		estimate = 0
	}
	return int(estimate), nil
}
