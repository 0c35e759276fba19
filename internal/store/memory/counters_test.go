package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/store"
)

func newCounter(id, category, status string) models.Counter {
	return models.Counter{CounterID: id, Name: id, Category: category, Status: status}
}

func putCounter(t *testing.T, r *Registry, counter models.Counter) {
	t.Helper()
	if err := r.Put(context.Background(), counter); err != nil {
		t.Fatalf("put %s: %v", counter.CounterID, err)
	}
}

func TestAvailableCountersFiltersAndOrders(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-2", models.CategoryBillPayment, models.CounterActive))
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterActive))
	putCounter(t, r, newCounter("counter-3", models.CategoryBillPayment, models.CounterBreak))
	putCounter(t, r, newCounter("counter-4", models.CategoryDocumentation, models.CounterActive))

	busy := newCounter("counter-0", models.CategoryBillPayment, models.CounterActive)
	putCounter(t, r, busy)
	if _, err := r.AttachToken(context.Background(), "counter-0", "tok-1"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	available, err := r.AvailableCounters(context.Background(), models.CategoryBillPayment)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("len=%d, want 2", len(available))
	}
	if available[0].CounterID != "counter-1" || available[1].CounterID != "counter-2" {
		t.Fatalf("not ordered by counter id: %s, %s", available[0].CounterID, available[1].CounterID)
	}
}

func TestAttachTokenConflict(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterActive))

	if _, err := r.AttachToken(context.Background(), "counter-1", "tok-1"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if _, err := r.AttachToken(context.Background(), "counter-1", "tok-2"); !errors.Is(err, store.ErrCounterOccupied) {
		t.Fatalf("expected ErrCounterOccupied, got %v", err)
	}

	if _, err := r.DetachToken(context.Background(), "counter-1"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := r.AttachToken(context.Background(), "counter-1", "tok-2"); err != nil {
		t.Fatalf("attach after detach: %v", err)
	}
}

func TestRecordCompletionCumulativeMean(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterActive))

	day := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for _, seconds := range []float64{30, 60, 90} {
		if _, err := r.RecordCompletion(context.Background(), "counter-1", seconds, day); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	counter, err := r.Get(context.Background(), "counter-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if counter.TokensServedToday != 3 {
		t.Fatalf("served=%d, want 3", counter.TokensServedToday)
	}
	if math.Abs(counter.AvgServiceSeconds-60) > 1e-9 {
		t.Fatalf("avg=%f, want 60", counter.AvgServiceSeconds)
	}
}

func TestRecordCompletionResetsAtDayRollover(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterActive))

	day := time.Date(2026, 8, 30, 17, 0, 0, 0, time.UTC)
	if _, err := r.RecordCompletion(context.Background(), "counter-1", 120, day); err != nil {
		t.Fatalf("record: %v", err)
	}

	nextDay := day.Add(24 * time.Hour)
	counter, err := r.RecordCompletion(context.Background(), "counter-1", 40, nextDay)
	if err != nil {
		t.Fatalf("record next day: %v", err)
	}
	if counter.TokensServedToday != 1 {
		t.Fatalf("served=%d after rollover, want 1", counter.TokensServedToday)
	}
	if math.Abs(counter.AvgServiceSeconds-40) > 1e-9 {
		t.Fatalf("avg=%f after rollover, want 40", counter.AvgServiceSeconds)
	}
}

func TestAvgServiceSecondsAcrossCategory(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterActive))
	putCounter(t, r, newCounter("counter-2", models.CategoryBillPayment, models.CounterActive))

	day := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if _, err := r.RecordCompletion(context.Background(), "counter-1", 30, day); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := r.RecordCompletion(context.Background(), "counter-2", 60, day); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := r.RecordCompletion(context.Background(), "counter-2", 90, day); err != nil {
		t.Fatalf("record: %v", err)
	}

	avg, samples, err := r.AvgServiceSeconds(context.Background(), models.CategoryBillPayment)
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if samples != 3 {
		t.Fatalf("samples=%d, want 3", samples)
	}
	if math.Abs(avg-60) > 1e-9 {
		t.Fatalf("avg=%f, want 60", avg)
	}
}

func TestSetOperationalValidatesStatus(t *testing.T) {
	r := NewRegistry()
	putCounter(t, r, newCounter("counter-1", models.CategoryBillPayment, models.CounterOffline))

	staff := "EMP001"
	counter, err := r.SetOperational(context.Background(), "counter-1", models.CounterActive, &staff, "Asha")
	if err != nil {
		t.Fatalf("set operational: %v", err)
	}
	if counter.Status != models.CounterActive || counter.StaffID == nil || *counter.StaffID != "EMP001" {
		t.Fatalf("counter not updated: %+v", counter)
	}

	if _, err := r.SetOperational(context.Background(), "counter-1", "lunch", nil, ""); !errors.Is(err, store.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := r.SetOperational(context.Background(), "counter-9", models.CounterActive, nil, ""); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound, got %v", err)
	}
}
