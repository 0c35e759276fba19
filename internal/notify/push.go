package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/mandalnitish/discom-queue-backend/internal/engine"

	"github.com/SherClockHolmes/webpush-go"
)

// Subscriptions maps token IDs to the web-push subscription the customer
// registered for that token. One subscription per token; re-registering
// replaces it.
type Subscriptions struct {
	mu      sync.Mutex
	byToken map[string]webpush.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{byToken: make(map[string]webpush.Subscription)}
}

func (s *Subscriptions) Register(tokenID string, sub webpush.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[tokenID] = sub
}

func (s *Subscriptions) Remove(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byToken, tokenID)
}

func (s *Subscriptions) get(tokenID string) (webpush.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byToken[tokenID]
	return sub, ok
}

// Sender sends one web-push notification. Split out so tests can swap the
// network call.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webPushSender struct{}

func (webPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	Workers         int
	QueueSize       int
}

type job struct {
	tokenID string
	message string
}

// Worker pushes "your token was called" notifications to subscribed
// customers. It implements engine.Sink; delivery failures are logged,
// never surfaced to the engine.
type Worker struct {
	subs    *Subscriptions
	sender  Sender
	options webpush.Options
	jobs    chan job
	size    int
	enabled bool
}

func NewWorker(subs *Subscriptions, cfg Config) *Worker {
	size := cfg.Workers
	if size <= 0 {
		size = 4
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &Worker{
		subs:   subs,
		sender: webPushSender{},
		options: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             120,
		},
		jobs:    make(chan job, queue),
		size:    size,
		enabled: cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "",
	}
}

// WithSender replaces the network sender. Test hook; call before Start.
func (w *Worker) WithSender(sender Sender) *Worker {
	w.sender = sender
	return w
}

func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.size; i++ {
		go w.worker(ctx, i)
	}
}

func (w *Worker) worker(ctx context.Context, id int) {
	for {
		select {
		case j := <-w.jobs:
			w.push(j)
		case <-ctx.Done():
			log.Printf("push worker %d shutting down", id)
			return
		}
	}
}

// Deliver implements engine.Sink for dispatched tokens.
func (w *Worker) Deliver(event engine.Event) {
	if !w.enabled || event.Type != engine.EventDispatched || event.Token == nil {
		return
	}
	counterName := ""
	if event.Counter != nil {
		counterName = event.Counter.Name
	}
	message := fmt.Sprintf("Token %s: please proceed to %s", event.Token.TokenNumber, counterName)
	select {
	case w.jobs <- job{tokenID: event.Token.TokenID, message: message}:
	default:
		log.Printf("push queue full, dropping notification token=%s", event.Token.TokenID)
	}
}

func (w *Worker) push(j job) {
	sub, ok := w.subs.get(j.tokenID)
	if !ok {
		return
	}
	resp, err := w.sender.Send([]byte(j.message), &sub, &w.options)
	if err != nil {
		log.Printf("push send error token=%s error=%v", j.tokenID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		// Subscription expired at the push service.
		w.subs.Remove(j.tokenID)
	}
}
