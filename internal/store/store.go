package store

import (
	"context"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
)

type EnqueueInput struct {
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	Category      string
	Priority      int
	EstimatedWait int
	CreatedAt     time.Time
}

// QueueStore holds all tokens. It carries no dispatch policy of its own;
// every mutation is a single atomic status transition requested by the
// engine, guarded by the state machine in transitions.go.
type QueueStore interface {
	Enqueue(ctx context.Context, input EnqueueInput) (models.Token, error)
	Get(ctx context.Context, tokenID string) (models.Token, error)
	// NextCandidate is a pure read of the token ClaimNext would select.
	NextCandidate(ctx context.Context, category string) (models.Token, bool, error)
	// ClaimNext selects the highest-priority, earliest-created waiting
	// token for the category and marks it serving in one critical
	// section, so two concurrent claims can never pick the same token.
	ClaimNext(ctx context.Context, category, counterID string, calledAt time.Time) (models.Token, error)
	MarkServing(ctx context.Context, tokenID, counterID string, calledAt time.Time) (models.Token, error)
	MarkCompleted(ctx context.Context, tokenID string, completedAt time.Time, rating *int, feedback string) (models.Token, error)
	MarkCancelled(ctx context.Context, tokenID string, cancelledAt time.Time) (models.Token, error)
	ListByStatus(ctx context.Context, status, category string) ([]models.Token, error)
	QueueDepth(ctx context.Context, category string) (int, error)
	// Restore overwrites a token with a prior snapshot. It exists only so
	// the engine can roll back the in-memory half of a commit whose
	// journal write failed; it is not part of the state machine.
	Restore(ctx context.Context, token models.Token) error
	// Discard removes a token that was never acknowledged to the caller.
	Discard(ctx context.Context, tokenID string) error
}

// CounterRegistry holds counter records. Like the queue store it is a
// passive holder: currentToken, tokensServedToday, and avgServiceSeconds
// change only on the engine's instruction.
type CounterRegistry interface {
	Put(ctx context.Context, counter models.Counter) error
	Get(ctx context.Context, counterID string) (models.Counter, error)
	List(ctx context.Context) ([]models.Counter, error)
	SetOperational(ctx context.Context, counterID, status string, staffID *string, staffName string) (models.Counter, error)
	// AvailableCounters returns active, unoccupied counters for the
	// category, ordered by counter ID for determinism.
	AvailableCounters(ctx context.Context, category string) ([]models.Counter, error)
	AttachToken(ctx context.Context, counterID, tokenID string) (models.Counter, error)
	DetachToken(ctx context.Context, counterID string) (models.Counter, error)
	// RecordCompletion increments tokensServedToday and folds the service
	// duration into a cumulative mean over the day. Both reset at day
	// rollover.
	RecordCompletion(ctx context.Context, counterID string, serviceSeconds float64, at time.Time) (models.Counter, error)
	// AvgServiceSeconds reports the mean service time across the
	// category's counters and the number of completions behind it.
	AvgServiceSeconds(ctx context.Context, category string) (float64, int, error)
	Restore(ctx context.Context, counter models.Counter) error
}
