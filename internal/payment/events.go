package payment

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names a payment lifecycle event.
type EventType string

const (
	EventInitiated EventType = "payment.initiated"
	EventSucceeded EventType = "payment.succeeded"
	EventFailed    EventType = "payment.failed"
	EventRefunded  EventType = "payment.refunded"
)

// Event is delivered to bus subscribers. Payload holds one of the
// Payment* structs below, matching Type.
type Event struct {
	Type       EventType
	Payload    any
	OccurredAt time.Time
}

type PaymentInitiated struct {
	Payable Payable
	Driver  string
	Result  InitiationResult
}

type PaymentSucceeded struct {
	Payable       Payable
	Driver        string
	TransactionID string
	Meta          map[string]any
}

type PaymentFailed struct {
	Payable Payable
	Driver  string
	Error   string
	Meta    map[string]any
}

type PaymentRefunded struct {
	Driver        string
	TransactionID string
	Amount        *int64
	Result        RefundResult
}

func newEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, OccurredAt: time.Now()}
}

// HandlerFunc consumes an event. Returned errors are logged, never propagated.
type HandlerFunc func(Event) error

// Publisher is the side of the bus the core emits into.
type Publisher interface {
	Publish(evt Event)
}

// Bus fans events out to subscribers, one goroutine per handler, so a slow
// or failing subscriber never holds up the payment flow.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]HandlerFunc
	wildcard []HandlerFunc
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[EventType][]HandlerFunc),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(t EventType, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[t] = append(b.handlers[t], handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = append(b.wildcard, handler)
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.handlers[evt.Type])+len(b.wildcard))
	handlers = append(handlers, b.handlers[evt.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go b.deliver(h, evt)
	}
}

func (b *Bus) deliver(h HandlerFunc, evt Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(evt.Type)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := h(evt); err != nil {
		b.logger.Warn("event handler failed",
			zap.String("event", string(evt.Type)),
			zap.Error(err),
		)
	}
}

// Drain blocks until every delivery started so far has returned.
func (b *Bus) Drain() {
	b.wg.Wait()
}
