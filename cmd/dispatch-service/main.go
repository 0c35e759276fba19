package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/config"
	"github.com/mandalnitish/discom-queue-backend/internal/engine"
	"github.com/mandalnitish/discom-queue-backend/internal/httpapi"
	"github.com/mandalnitish/discom-queue-backend/internal/hub"
	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/notify"
	"github.com/mandalnitish/discom-queue-backend/internal/stats"
	"github.com/mandalnitish/discom-queue-backend/internal/store/memory"
	"github.com/mandalnitish/discom-queue-backend/internal/store/postgres"
	"github.com/mandalnitish/discom-queue-backend/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// hubSink pushes engine events to connected display/staff clients.
type hubSink struct {
	hub *hub.Hub
}

func (s hubSink) Deliver(event engine.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	s.hub.Broadcast(payload, event.Category)
}

type fanout []engine.Sink

func (f fanout) Deliver(event engine.Event) {
	for _, sink := range f {
		sink.Deliver(event)
	}
}

func defaultCounters() []models.Counter {
	return []models.Counter{
		{CounterID: "counter-1", Name: "Counter 1", Category: models.CategoryBillPayment, Status: models.CounterOffline},
		{CounterID: "counter-2", Name: "Counter 2", Category: models.CategoryNewConnection, Status: models.CounterOffline},
		{CounterID: "counter-3", Name: "Counter 3", Category: models.CategoryTechnicalIssues, Status: models.CounterOffline},
		{CounterID: "counter-4", Name: "Counter 4", Category: models.CategoryDocumentation, Status: models.CounterOffline},
	}
}

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("dispatch-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	queue := memory.NewStore()
	registry := memory.NewRegistry()

	var journal engine.Journal
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer pool.Close()

		pgJournal := postgres.NewJournal(pool)
		if err := pgJournal.Migrate(context.Background()); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
		if err := pgJournal.SeedCounters(context.Background(), defaultCounters()); err != nil {
			log.Fatalf("seed counters: %v", err)
		}
		if err := hydrate(context.Background(), pgJournal, queue, registry); err != nil {
			log.Fatalf("hydrate: %v", err)
		}
		journal = pgJournal
	} else {
		log.Printf("DB_DSN not set, running without durable journal")
		for _, counter := range defaultCounters() {
			if err := registry.Put(context.Background(), counter); err != nil {
				log.Fatalf("seed counter %s: %v", counter.CounterID, err)
			}
		}
	}

	aggregator := stats.New()
	if err := aggregator.Reconcile(context.Background(), queue); err != nil {
		log.Fatalf("stats reconcile: %v", err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go aggregator.RunReconciler(workerCtx, queue, time.Minute)

	h := hub.New()
	subscriptions := notify.NewSubscriptions()
	pushWorker := notify.NewWorker(subscriptions, notify.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
		Workers:         cfg.PushWorkers,
	})
	pushWorker.Start(workerCtx)

	eng := engine.New(queue, registry, journal, aggregator, fanout{hubSink{hub: h}, pushWorker}, engine.Options{
		AutoDispatch:          cfg.AutoDispatch,
		DefaultServiceSeconds: cfg.DefaultServiceSeconds,
		EventBuffer:           cfg.EventBuffer,
	})

	handler := httpapi.NewHandler(eng, queue, registry, aggregator, subscriptions, httpapi.Options{
		DisplayCacheTTL: cfg.DisplayCacheTTL,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(h))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "dispatch-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("dispatch-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	eng.Close()
}

// hydrate rebuilds the in-memory stores from the journal's snapshots:
// counters, open tokens, and the current day's closed tokens so the display
// sequence and statistics continue where the previous process stopped.
func hydrate(ctx context.Context, journal *postgres.Journal, queue *memory.Store, registry *memory.Registry) error {
	counters, err := journal.LoadCounters(ctx)
	if err != nil {
		return err
	}
	for _, counter := range counters {
		if err := registry.Restore(ctx, counter); err != nil {
			return err
		}
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	tokens, err := journal.LoadTokens(ctx, dayStart)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := queue.Restore(ctx, token); err != nil {
			return err
		}
	}
	if len(tokens) > 0 {
		log.Printf("restored %d tokens and %d counters from journal", len(tokens), len(counters))
	}
	return nil
}

func newRealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			if parsed.Category != "" && !models.ValidCategory(parsed.Category) {
				_ = session.Close(4001, "unknown category")
				return
			}
			h.UpdateSubscription(client, hub.Subscription{Category: parsed.Category})
		}
	})
}
