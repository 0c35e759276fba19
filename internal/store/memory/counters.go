package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/store"
)

// Registry is the in-memory counter registry. The engine's per-counter
// locks serialize dispatch/complete against each counter; the registry's
// own mutex only keeps individual operations atomic.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*models.Counter
	day      map[string]string // counter ID → day its running totals belong to
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*models.Counter),
		day:      make(map[string]string),
	}
}

func (r *Registry) Put(ctx context.Context, counter models.Counter) error {
	if !models.ValidCategory(counter.Category) {
		return store.ErrInvalidCategory
	}
	if counter.Status == "" {
		counter.Status = models.CounterOffline
	}
	if !models.ValidCounterStatus(counter.Status) {
		return store.ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := counter
	r.counters[counter.CounterID] = &copied
	return nil
}

func (r *Registry) Get(ctx context.Context, counterID string) (models.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return *counter, nil
}

func (r *Registry) List(ctx context.Context) ([]models.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := make([]models.Counter, 0, len(r.counters))
	for _, counter := range r.counters {
		counters = append(counters, *counter)
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].CounterID < counters[j].CounterID
	})
	return counters, nil
}

func (r *Registry) SetOperational(ctx context.Context, counterID, status string, staffID *string, staffName string) (models.Counter, error) {
	if !models.ValidCounterStatus(status) {
		return models.Counter{}, store.ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	counter.Status = status
	if staffID != nil {
		id := *staffID
		if id == "" {
			counter.StaffID = nil
			counter.StaffName = ""
		} else {
			counter.StaffID = &id
			counter.StaffName = staffName
		}
	}
	return *counter, nil
}

func (r *Registry) AvailableCounters(ctx context.Context, category string) ([]models.Counter, error) {
	if !models.ValidCategory(category) {
		return nil, store.ErrInvalidCategory
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var counters []models.Counter
	for _, counter := range r.counters {
		if counter.Category != category {
			continue
		}
		if counter.Status != models.CounterActive || counter.CurrentToken != nil {
			continue
		}
		counters = append(counters, *counter)
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].CounterID < counters[j].CounterID
	})
	return counters, nil
}

func (r *Registry) AttachToken(ctx context.Context, counterID, tokenID string) (models.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	if counter.CurrentToken != nil {
		return models.Counter{}, store.ErrCounterOccupied
	}
	id := tokenID
	counter.CurrentToken = &id
	return *counter, nil
}

func (r *Registry) DetachToken(ctx context.Context, counterID string) (models.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	counter.CurrentToken = nil
	return *counter, nil
}

func (r *Registry) RecordCompletion(ctx context.Context, counterID string, serviceSeconds float64, at time.Time) (models.Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}

	day := at.Format("2006-01-02")
	if r.day[counterID] != day {
		r.day[counterID] = day
		counter.TokensServedToday = 0
		counter.AvgServiceSeconds = 0
	}

	counter.TokensServedToday++
	// Cumulative mean over the day.
	counter.AvgServiceSeconds += (serviceSeconds - counter.AvgServiceSeconds) / float64(counter.TokensServedToday)
	return *counter, nil
}

func (r *Registry) AvgServiceSeconds(ctx context.Context, category string) (float64, int, error) {
	if !models.ValidCategory(category) {
		return 0, 0, store.ErrInvalidCategory
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	var samples int
	for _, counter := range r.counters {
		if counter.Category != category || counter.TokensServedToday == 0 {
			continue
		}
		sum += counter.AvgServiceSeconds * float64(counter.TokensServedToday)
		samples += counter.TokensServedToday
	}
	if samples == 0 {
		return 0, 0, nil
	}
	return sum / float64(samples), samples, nil
}

func (r *Registry) Restore(ctx context.Context, counter models.Counter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := counter
	r.counters[counter.CounterID] = &copied
	return nil
}
