package payment

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

type memoryStore struct {
	mu       sync.Mutex
	payables map[string]*Payable
	reasons  map[string]string
	failNext error
}

func newMemoryStore(payables ...*Payable) *memoryStore {
	s := &memoryStore{payables: map[string]*Payable{}, reasons: map[string]string{}}
	for _, p := range payables {
		s.payables[p.Reference] = p
	}
	return s
}

func (s *memoryStore) FindByReference(_ context.Context, reference string) (*Payable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payables[reference]
	if !ok {
		return nil, ErrPayableNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*Payable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, ErrPayableNotFound
	}
	for _, p := range s.payables {
		if p.ID == uint(n) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPayableNotFound
}

func (s *memoryStore) TransitionStatus(_ context.Context, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return false, err
	}
	p, ok := s.payables[t.Reference]
	if !ok || !t.Guard.Allows(p.Status) {
		return false, nil
	}
	p.Status = t.To
	if t.TransactionID != "" {
		p.TransactionID = t.TransactionID
	}
	if t.FailureReason != "" {
		s.reasons[t.Reference] = t.FailureReason
	}
	return true, nil
}

func (s *memoryStore) status(reference string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payables[reference].Status
}

// stubGateway is a scriptable driver; nil funcs fall back to simple defaults.
type stubGateway struct {
	name        string
	kind        GatewayType
	refunds     bool
	verifyCalls atomic.Int32
	sigCalls    atomic.Int32

	VerifyFn    func(p *Payable, payload map[string]any) VerificationResult
	SignatureFn func(r *CallbackRequest) bool
	RefundFn    func(txn string, amount *int64) RefundResult
	StatusFn    func(p *Payable) StatusCheck
}

func newStubGateway(name string, kind GatewayType) *stubGateway {
	return &stubGateway{name: name, kind: kind}
}

func (g *stubGateway) Name() string           { return g.name }
func (g *stubGateway) Type() GatewayType      { return g.kind }
func (g *stubGateway) SupportsWebhooks() bool { return g.kind == TypeWebhook }
func (g *stubGateway) SupportsRefunds() bool  { return g.refunds }

func (g *stubGateway) Initiate(_ context.Context, p *Payable) InitiationResult {
	return InitiationResult{Type: InitiationRedirect, URL: "https://pay.test/" + p.Reference, GatewayRef: "gw-" + p.Reference}
}

func (g *stubGateway) Verify(_ context.Context, p *Payable, payload map[string]any) VerificationResult {
	g.verifyCalls.Add(1)
	if g.VerifyFn != nil {
		return g.VerifyFn(p, payload)
	}
	return verified("txn-"+p.Reference, nil)
}

func (g *stubGateway) VerifySignature(r *CallbackRequest) bool {
	g.sigCalls.Add(1)
	if g.SignatureFn != nil {
		return g.SignatureFn(r)
	}
	return true
}

func (g *stubGateway) ExtractReference(_ context.Context, r *CallbackRequest) string {
	return r.Input("reference")
}

func (g *stubGateway) Refund(_ context.Context, txn string, amount *int64) RefundResult {
	if g.RefundFn != nil {
		return g.RefundFn(txn, amount)
	}
	return RefundResult{Success: true, RefundID: "re-" + txn}
}

func (g *stubGateway) CheckStatus(_ context.Context, p *Payable) StatusCheck {
	if g.StatusFn != nil {
		return g.StatusFn(p)
	}
	return StatusCheck{Status: StatusPending, Message: StatusMessage(StatusPending)}
}

// eventRecorder collects published events synchronously.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func samplePayable(ref string) *Payable {
	return &Payable{
		ID:          7,
		Reference:   ref,
		Amount:      5000,
		Currency:    "MYR",
		Description: "Order " + ref,
		Customer:    Customer{Name: "Aina Rahman", Email: "aina@example.com", Phone: "60123456789"},
		Items:       []LineItem{{Name: "Widget", Quantity: 2, Price: 2500}},
		URLs: URLs{
			Return:   "https://shop.test/return",
			Cancel:   "https://shop.test/cancel",
			Callback: "https://shop.test/payment/webhook/chip",
		},
		Status: StatusPending,
	}
}
