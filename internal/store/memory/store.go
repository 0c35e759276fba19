package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/store"

	"github.com/google/uuid"
)

const tokenNumberPad = 3

// Store is the authoritative in-memory queue store. One mutex guards the
// token map and the per-category waiting indexes, so candidate selection
// and the waiting→serving write in ClaimNext form a single critical
// section.
type Store struct {
	mu      sync.Mutex
	tokens  map[string]*models.Token
	waiting map[string][]string // category → token IDs, priority desc then createdAt asc
	seq     map[string]int      // category → daily display sequence
	seqDay  string
	newID   func() string
}

func NewStore() *Store {
	return &Store{
		tokens:  make(map[string]*models.Token),
		waiting: make(map[string][]string),
		seq:     make(map[string]int),
		newID:   uuid.NewString,
	}
}

func (s *Store) Enqueue(ctx context.Context, input store.EnqueueInput) (models.Token, error) {
	if !models.ValidCategory(input.Category) {
		return models.Token{}, store.ErrInvalidCategory
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := &models.Token{
		TokenID:       s.newID(),
		TokenNumber:   s.nextTokenNumber(input.Category, createdAt),
		CustomerID:    input.CustomerID,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		Category:      input.Category,
		Status:        models.StatusWaiting,
		Priority:      input.Priority,
		EstimatedWait: input.EstimatedWait,
		CreatedAt:     createdAt,
	}
	s.tokens[token.TokenID] = token
	s.insertWaiting(token)

	return *token, nil
}

// nextTokenNumber issues the per-category display sequence, reset daily.
// Caller holds s.mu.
func (s *Store) nextTokenNumber(category string, at time.Time) string {
	day := at.Format("2006-01-02")
	if day != s.seqDay {
		s.seqDay = day
		s.seq = make(map[string]int)
	}
	s.seq[category]++
	return fmt.Sprintf("%s-%0*d", models.CategoryCode(category), tokenNumberPad, s.seq[category])
}

// bumpSequence folds a restored token's display number back into the daily
// sequence, so numbers issued after a restart continue where the journal
// left off instead of colliding. Caller holds s.mu.
func (s *Store) bumpSequence(category, tokenNumber string, at time.Time) {
	day := at.Format("2006-01-02")
	if day < s.seqDay {
		return
	}
	if day > s.seqDay {
		s.seqDay = day
		s.seq = make(map[string]int)
	}
	idx := strings.LastIndex(tokenNumber, "-")
	if idx < 0 {
		return
	}
	n, err := strconv.Atoi(tokenNumber[idx+1:])
	if err != nil {
		return
	}
	if n > s.seq[category] {
		s.seq[category] = n
	}
}

// insertWaiting places the token in its category's waiting index keeping
// priority-descending, createdAt-ascending order. Caller holds s.mu.
func (s *Store) insertWaiting(token *models.Token) {
	ids := s.waiting[token.Category]
	pos := sort.Search(len(ids), func(i int) bool {
		other := s.tokens[ids[i]]
		if other.Priority != token.Priority {
			return other.Priority < token.Priority
		}
		return other.CreatedAt.After(token.CreatedAt)
	})
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = token.TokenID
	s.waiting[token.Category] = ids
}

func (s *Store) removeWaiting(token *models.Token) {
	ids := s.waiting[token.Category]
	for i, id := range ids {
		if id == token.TokenID {
			s.waiting[token.Category] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (s *Store) Get(ctx context.Context, tokenID string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return *token, nil
}

func (s *Store) NextCandidate(ctx context.Context, category string) (models.Token, bool, error) {
	if !models.ValidCategory(category) {
		return models.Token{}, false, store.ErrInvalidCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.waiting[category]
	if len(ids) == 0 {
		return models.Token{}, false, nil
	}
	return *s.tokens[ids[0]], true, nil
}

func (s *Store) ClaimNext(ctx context.Context, category, counterID string, calledAt time.Time) (models.Token, error) {
	if !models.ValidCategory(category) {
		return models.Token{}, store.ErrInvalidCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.waiting[category]
	if len(ids) == 0 {
		return models.Token{}, store.ErrNoToken
	}
	token := s.tokens[ids[0]]
	s.waiting[category] = ids[1:]

	token.Status = models.StatusServing
	token.CounterID = &counterID
	at := calledAt
	token.CalledAt = &at
	return *token, nil
}

func (s *Store) MarkServing(ctx context.Context, tokenID, counterID string, calledAt time.Time) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if !store.ValidTransition("dispatch", token.Status) {
		return models.Token{}, store.ErrInvalidState
	}
	s.removeWaiting(token)
	token.Status = models.StatusServing
	token.CounterID = &counterID
	at := calledAt
	token.CalledAt = &at
	return *token, nil
}

func (s *Store) MarkCompleted(ctx context.Context, tokenID string, completedAt time.Time, rating *int, feedback string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if !store.ValidTransition("complete", token.Status) {
		return models.Token{}, store.ErrInvalidState
	}
	token.Status = models.StatusCompleted
	at := completedAt
	token.CompletedAt = &at
	if rating != nil {
		value := *rating
		token.Rating = &value
	}
	if feedback != "" {
		token.Feedback = feedback
	}
	return *token, nil
}

func (s *Store) MarkCancelled(ctx context.Context, tokenID string, cancelledAt time.Time) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if !store.ValidTransition("cancel", token.Status) {
		return models.Token{}, store.ErrInvalidState
	}
	s.removeWaiting(token)
	token.Status = models.StatusCancelled
	return *token, nil
}

func (s *Store) ListByStatus(ctx context.Context, status, category string) ([]models.Token, error) {
	if !models.ValidStatus(status) {
		return nil, store.ErrInvalidStatus
	}
	if category != "" && !models.ValidCategory(category) {
		return nil, store.ErrInvalidCategory
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []models.Token
	for _, token := range s.tokens {
		if token.Status != status {
			continue
		}
		if category != "" && token.Category != category {
			continue
		}
		tokens = append(tokens, *token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) QueueDepth(ctx context.Context, category string) (int, error) {
	if !models.ValidCategory(category) {
		return 0, store.ErrInvalidCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting[category]), nil
}

func (s *Store) Restore(ctx context.Context, token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tokens[token.TokenID]
	if ok {
		s.removeWaiting(existing)
	}
	copied := token
	s.tokens[token.TokenID] = &copied
	if copied.Status == models.StatusWaiting {
		s.insertWaiting(&copied)
	}
	s.bumpSequence(copied.Category, copied.TokenNumber, copied.CreatedAt)
	return nil
}

func (s *Store) Discard(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return store.ErrTokenNotFound
	}
	s.removeWaiting(token)
	delete(s.tokens, tokenID)
	return nil
}
