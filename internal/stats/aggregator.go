package stats

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/store"
)

var reconciliationPending = expvar.NewInt("stats_reconciliation_pending")

type day struct {
	record models.DailyStatistics
	rated  int         // completions that carried a rating
	hourly map[int]int // hour of day → tokens issued
}

// Aggregator maintains one rolling statistics record per calendar day.
// Updates are incremental and best-effort: a failure marks the aggregator
// reconciliation-pending instead of propagating to the dispatch path.
type Aggregator struct {
	mu      sync.Mutex
	days    map[string]*day
	clock   func() time.Time
	pending bool
}

func New() *Aggregator {
	return &Aggregator{
		days:  make(map[string]*day),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the wall clock. Test hook; call before use.
func (a *Aggregator) WithClock(clock func() time.Time) *Aggregator {
	a.clock = clock
	return a
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// dayFor lazily creates the record at the first event of a new day.
// Caller holds a.mu.
func (a *Aggregator) dayFor(key string) *day {
	d, ok := a.days[key]
	if !ok {
		d = &day{
			record: models.DailyStatistics{Date: key},
			hourly: make(map[int]int),
		}
		a.days[key] = d
	}
	return d
}

func (a *Aggregator) OnIssued(token models.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dayFor(dateKey(token.CreatedAt))
	d.record.TotalTokens++
	d.hourly[token.CreatedAt.UTC().Hour()]++
}

func (a *Aggregator) OnCompleted(token models.Token, waitSeconds, serviceSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token.CompletedAt == nil {
		a.markPending("completed token without completion time", token.TokenID)
		return
	}
	key := dateKey(*token.CompletedAt)
	d, ok := a.days[key]
	if !ok && key != dateKey(token.CreatedAt) {
		// Day rolled over mid-service: the issuance was counted on the
		// previous day's record. Count the completion on its own day.
		d = a.dayFor(key)
	} else if !ok {
		a.markPending("day record missing", token.TokenID)
		return
	}

	d.record.TokensServed++
	count := float64(d.record.TokensServed)
	d.record.AvgWaitSeconds += (waitSeconds - d.record.AvgWaitSeconds) / count
	d.record.AvgServiceSeconds += (serviceSeconds - d.record.AvgServiceSeconds) / count
	if token.Rating != nil {
		d.rated++
		d.record.Satisfaction += (float64(*token.Rating) - d.record.Satisfaction) / float64(d.rated)
	}
}

func (a *Aggregator) OnCancelled(token models.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.days[dateKey(token.CreatedAt)]
	if !ok {
		a.markPending("day record missing", token.TokenID)
		return
	}
	d.record.TokensCancelled++
}

// markPending flags the aggregator for reconciliation. Statistics are
// best-effort; this is logged, never fatal. Caller holds a.mu.
func (a *Aggregator) markPending(reason, tokenID string) {
	if !a.pending {
		reconciliationPending.Set(1)
	}
	a.pending = true
	log.Printf("stats reconciliation pending reason=%q token=%s", reason, tokenID)
}

func (a *Aggregator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Today returns the current day's record with peak hours resolved, lazily
// creating the record so the first read of a fresh day is well-formed.
func (a *Aggregator) Today() models.DailyStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dayFor(dateKey(a.clock()))
	record := d.record
	record.PeakHours = peakHours(d.hourly)
	return record
}

// peakHours labels the busiest issuance hour(s) of the day.
func peakHours(hourly map[int]int) []string {
	max := 0
	for _, count := range hourly {
		if count > max {
			max = count
		}
	}
	if max == 0 {
		return nil
	}
	var hours []int
	for hour, count := range hourly {
		if count == max {
			hours = append(hours, hour)
		}
	}
	sort.Ints(hours)
	labels := make([]string, 0, len(hours))
	for _, hour := range hours {
		labels = append(labels, fmt.Sprintf("%02d:00-%02d:00", hour, (hour+1)%24))
	}
	return labels
}

// Reconcile rebuilds the current day's record by full rescan of the queue
// store. It is the only path allowed to recompute averages from scratch.
func (a *Aggregator) Reconcile(ctx context.Context, queue store.QueueStore) error {
	now := a.clock()
	key := dateKey(now)

	rebuilt := &day{
		record: models.DailyStatistics{Date: key},
		hourly: make(map[int]int),
	}
	for _, status := range []string{models.StatusWaiting, models.StatusServing, models.StatusCompleted, models.StatusCancelled} {
		tokens, err := queue.ListByStatus(ctx, status, "")
		if err != nil {
			return err
		}
		for _, token := range tokens {
			if dateKey(token.CreatedAt) != key {
				continue
			}
			rebuilt.record.TotalTokens++
			rebuilt.hourly[token.CreatedAt.UTC().Hour()]++
			switch token.Status {
			case models.StatusCompleted:
				if token.CalledAt == nil || token.CompletedAt == nil {
					continue
				}
				rebuilt.record.TokensServed++
				count := float64(rebuilt.record.TokensServed)
				wait := token.CalledAt.Sub(token.CreatedAt).Seconds()
				service := token.CompletedAt.Sub(*token.CalledAt).Seconds()
				rebuilt.record.AvgWaitSeconds += (wait - rebuilt.record.AvgWaitSeconds) / count
				rebuilt.record.AvgServiceSeconds += (service - rebuilt.record.AvgServiceSeconds) / count
				if token.Rating != nil {
					rebuilt.rated++
					rebuilt.record.Satisfaction += (float64(*token.Rating) - rebuilt.record.Satisfaction) / float64(rebuilt.rated)
				}
			case models.StatusCancelled:
				rebuilt.record.TokensCancelled++
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.days[key] = rebuilt
	a.pending = false
	reconciliationPending.Set(0)
	return nil
}

// RunReconciler rebuilds the day record whenever the aggregator is flagged
// reconciliation-pending. Blocks until ctx is cancelled; run it in its own
// goroutine.
func (a *Aggregator) RunReconciler(ctx context.Context, queue store.QueueStore, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.Pending() {
				continue
			}
			if err := a.Reconcile(ctx, queue); err != nil {
				log.Printf("stats reconcile error=%v", err)
			}
		}
	}
}
