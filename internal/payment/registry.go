package payment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultDriver is resolved when an empty driver name is requested.
const DefaultDriver = chipName

// Factory builds a driver on first use.
type Factory func() (Gateway, error)

// Registry resolves drivers by name, caches one instance per name, and emits
// lifecycle events around initiate, verify and refund calls.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	drivers   map[string]Gateway
	def       string
	events    Publisher
	logger    *zap.Logger
}

func NewRegistry(events Publisher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		drivers:   make(map[string]Gateway),
		def:       DefaultDriver,
		events:    events,
		logger:    logger,
	}
}

// SetDefault changes the driver used for empty names.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		r.def = strings.ToLower(name)
	}
}

// Default returns the driver name used for empty names.
func (r *Registry) Default() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.def
}

// Extend registers or replaces the factory for name. A cached instance of a
// replaced driver is dropped so the next lookup uses the new factory.
func (r *Registry) Extend(name string, factory Factory) *Registry {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	delete(r.drivers, name)
	return r
}

// Driver returns the cached driver for name, building it on first use.
func (r *Registry) Driver(name string) (Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = r.def
	}
	if drv, ok := r.drivers[name]; ok {
		return drv, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, unsupportedDriver(name)
	}
	drv, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build driver %s: %w", name, err)
	}
	if drv == nil {
		return nil, fmt.Errorf("%w: factory for %s returned no driver", ErrConfiguration, name)
	}
	r.drivers[name] = drv
	return drv, nil
}

// Available lists registered driver names in sorted order.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) publish(t EventType, payload any) {
	if r.events == nil {
		return
	}
	r.events.Publish(newEvent(t, payload))
}

// Initiate starts a payment and always emits PaymentInitiated.
func (r *Registry) Initiate(ctx context.Context, name string, p *Payable) (InitiationResult, error) {
	drv, err := r.Driver(name)
	if err != nil {
		return InitiationResult{}, err
	}
	result := drv.Initiate(ctx, p)
	if !result.OK() {
		r.logger.Warn("payment initiation failed",
			zap.String("driver", drv.Name()),
			zap.String("reference", p.Reference),
			zap.String("error", result.Message),
		)
	}
	r.publish(EventInitiated, PaymentInitiated{Payable: *p, Driver: drv.Name(), Result: result})
	return result, nil
}

// Verify runs driver verification and emits PaymentSucceeded or PaymentFailed.
// The callback pipeline does not use this: it emits only after persisting.
func (r *Registry) Verify(ctx context.Context, name string, p *Payable, payload map[string]any) (VerificationResult, error) {
	drv, err := r.Driver(name)
	if err != nil {
		return VerificationResult{}, err
	}
	result := drv.Verify(ctx, p, payload)
	r.emitVerification(drv.Name(), p, result)
	return result, nil
}

func (r *Registry) emitVerification(driver string, p *Payable, result VerificationResult) {
	if result.Success {
		r.publish(EventSucceeded, PaymentSucceeded{
			Payable:       *p,
			Driver:        driver,
			TransactionID: result.TransactionID,
			Meta:          result.Meta,
		})
		return
	}
	msg := result.Error
	if msg == "" {
		msg = "Unknown error"
	}
	r.publish(EventFailed, PaymentFailed{Payable: *p, Driver: driver, Error: msg, Meta: result.Meta})
}

// Refund issues a refund. Drivers without refund support are short-circuited
// with a failed result and no event.
func (r *Registry) Refund(ctx context.Context, name, transactionID string, amount *int64) (RefundResult, error) {
	drv, err := r.Driver(name)
	if err != nil {
		return RefundResult{}, err
	}
	if !drv.SupportsRefunds() {
		return RefundResult{Error: fmt.Sprintf("Gateway '%s' does not support refunds", drv.Name())}, nil
	}
	result := drv.Refund(ctx, transactionID, amount)
	if result.Success {
		r.publish(EventRefunded, PaymentRefunded{
			Driver:        drv.Name(),
			TransactionID: transactionID,
			Amount:        amount,
			Result:        result,
		})
	}
	return result, nil
}

// CheckStatus probes the provider for a payable's current state.
func (r *Registry) CheckStatus(ctx context.Context, name string, p *Payable) (StatusCheck, error) {
	drv, err := r.Driver(name)
	if err != nil {
		return StatusCheck{}, err
	}
	return drv.CheckStatus(ctx, p), nil
}
