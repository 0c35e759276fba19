package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/engine"
	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/notify"
	"github.com/mandalnitish/discom-queue-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
)

// Engine is the slice of the dispatch engine the HTTP layer drives.
type Engine interface {
	Issue(ctx context.Context, input engine.IssueInput) (models.Token, error)
	Dispatch(ctx context.Context, counterID string) (models.Token, error)
	Complete(ctx context.Context, tokenID string, rating *int, feedback string) (models.Token, error)
	Cancel(ctx context.Context, tokenID string) (models.Token, error)
	SetOperational(ctx context.Context, counterID, status string, staffID *string, staffName string) (models.Counter, error)
	EstimateWait(ctx context.Context, category string) (int, error)
}

type Stats interface {
	Today() models.DailyStatistics
}

type Options struct {
	DisplayCacheTTL time.Duration
}

type Handler struct {
	engine        Engine
	queue         store.QueueStore
	counters      store.CounterRegistry
	stats         Stats
	subscriptions *notify.Subscriptions
	display       *cache.Cache
	displayTTL    time.Duration
}

func NewHandler(eng Engine, queue store.QueueStore, counters store.CounterRegistry, stats Stats, subscriptions *notify.Subscriptions, options Options) *Handler {
	ttl := options.DisplayCacheTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Handler{
		engine:        eng,
		queue:         queue,
		counters:      counters,
		stats:         stats,
		subscriptions: subscriptions,
		display:       cache.New(ttl, time.Minute),
		displayTTL:    ttl,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleTokens)
	mux.HandleFunc("/api/tokens/", h.handleTokenActions)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterActions)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/estimate", h.handleEstimate)
	mux.HandleFunc("/api/statistics/today", h.handleStatistics)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type issueTokenRequest struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Category      string `json:"category"`
	Priority      int    `json:"priority"`
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Category = strings.TrimSpace(req.Category)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "category is required")
		return
	}
	if req.Priority < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority must not be negative")
		return
	}

	token, err := h.engine.Issue(r.Context(), engine.IssueInput{
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Category:      req.Category,
		Priority:      req.Priority,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

type completeRequest struct {
	Rating   *int   `json:"rating"`
	Feedback string `json:"feedback"`
}

// handleTokenActions serves /api/tokens/{id} and
// /api/tokens/{id}/actions/{complete|cancel} and
// /api/tokens/{id}/subscription.
func (h *Handler) handleTokenActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleGetToken(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "complete":
		h.handleComplete(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "cancel":
		h.handleCancel(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "subscription":
		h.handleSubscription(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, err := h.queue.Get(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		writeError(w, http.StatusBadRequest, "invalid_request", "rating must be between 1 and 5")
		return
	}

	token, err := h.engine.Complete(r.Context(), tokenID, req.Rating, strings.TrimSpace(req.Feedback))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, err := h.engine.Cancel(r.Context(), tokenID)
	if err != nil {
		// A cancel that lost the race to a dispatch is already handled:
		// report the token as it is now instead of an error.
		if errors.Is(err, store.ErrInvalidState) {
			current, getErr := h.queue.Get(r.Context(), tokenID)
			if getErr == nil {
				writeJSON(w, http.StatusOK, current)
				return
			}
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleSubscription(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sub webpush.Subscription
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "endpoint is required")
		return
	}
	if _, err := h.queue.Get(r.Context(), tokenID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	h.subscriptions.Register(tokenID, sub)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.counters.List(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

type counterStatusRequest struct {
	Status    string  `json:"status"`
	StaffID   *string `json:"staff_id"`
	StaffName string  `json:"staff_name"`
}

// handleCounterActions serves /api/counters/{id}/actions/next and
// /api/counters/{id}/status.
func (h *Handler) handleCounterActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "next":
		h.handleNext(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		h.handleCounterStatus(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request, counterID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, err := h.engine.Dispatch(r.Context(), counterID)
	if err != nil {
		if errors.Is(err, store.ErrNoToken) {
			writeError(w, http.StatusConflict, "queue_empty", "no tokens waiting for this counter")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleCounterStatus(w http.ResponseWriter, r *http.Request, counterID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req counterStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if !models.ValidCounterStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be active, break, or offline")
		return
	}

	counter, err := h.engine.SetOperational(r.Context(), counterID, req.Status, req.StaffID, strings.TrimSpace(req.StaffName))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	tokens, err := h.queue.ListByStatus(r.Context(), models.StatusWaiting, category)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if tokens == nil {
		tokens = []models.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	estimate, err := h.engine.EstimateWait(r.Context(), category)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category":               category,
		"estimated_wait_seconds": estimate,
	})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Today())
}

type displayCategory struct {
	Category      string   `json:"category"`
	Code          string   `json:"code"`
	Waiting       int      `json:"waiting"`
	EstimatedWait int      `json:"estimated_wait_seconds"`
	NextTokens    []string `json:"next_tokens"`
}

type displaySnapshot struct {
	Categories  []displayCategory `json:"categories"`
	Counters    []models.Counter  `json:"counters"`
	GeneratedAt time.Time         `json:"generated_at"`
}

const displayCacheKey = "display"

// handleDisplay serves the public waiting-room board. The snapshot is
// cached for a short TTL so display clients polling in lockstep do not
// hammer the stores.
func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if cached, found := h.display.Get(displayCacheKey); found {
		writeJSON(w, http.StatusOK, cached.(displaySnapshot))
		return
	}

	snapshot, err := h.buildDisplay(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	h.display.Set(displayCacheKey, snapshot, h.displayTTL)
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) buildDisplay(ctx context.Context) (displaySnapshot, error) {
	snapshot := displaySnapshot{GeneratedAt: time.Now().UTC()}

	for _, category := range models.Categories {
		waiting, err := h.queue.ListByStatus(ctx, models.StatusWaiting, category)
		if err != nil {
			return displaySnapshot{}, err
		}
		estimate, err := h.engine.EstimateWait(ctx, category)
		if err != nil {
			return displaySnapshot{}, err
		}
		next := make([]string, 0, 5)
		for _, token := range waiting {
			if len(next) == 5 {
				break
			}
			next = append(next, token.TokenNumber)
		}
		snapshot.Categories = append(snapshot.Categories, displayCategory{
			Category:      category,
			Code:          models.CategoryCode(category),
			Waiting:       len(waiting),
			EstimatedWait: estimate,
			NextTokens:    next,
		})
	}

	counters, err := h.counters.List(ctx)
	if err != nil {
		return displaySnapshot{}, err
	}
	snapshot.Counters = counters
	return snapshot, nil
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidCategory):
		return http.StatusBadRequest, "invalid_category", "unknown service category"
	case errors.Is(err, store.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status", "unknown status value"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "token state does not allow this action"
	case errors.Is(err, store.ErrCounterOccupied):
		return http.StatusConflict, "counter_occupied", "counter is already serving a token"
	case errors.Is(err, store.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", "counter is not active or already occupied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
