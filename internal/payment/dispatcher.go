package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Redirects builds the browser destinations for GET callbacks.
type Redirects struct {
	// StatusURL is the per-payable status page prefix, e.g. "/payment/status/".
	StatusURL string
	// PortalURL is the status lookup page; empty sends failed returns to "/".
	PortalURL string
}

func (r Redirects) status(reference, msg string) string {
	return appendQuery(r.StatusURL+url.PathEscape(reference), "message", url.QueryEscape(msg))
}

func (r Redirects) failure(msg string) string {
	target := r.PortalURL
	if target == "" {
		target = "/"
	}
	return appendQuery(target, "error", url.QueryEscape(msg))
}

// CallbackResponse is the transport-neutral answer to a callback.
// Redirect is set for browser returns; otherwise StatusCode and Message form a JSON reply.
type CallbackResponse struct {
	StatusCode int
	Success    bool
	Message    string
	Reference  string
	Redirect   string
}

// Dispatcher runs the callback reconciliation pipeline.
type Dispatcher struct {
	registry  *Registry
	store     Store
	redirects Redirects
	logger    *zap.Logger
}

func NewDispatcher(registry *Registry, store Store, redirects Redirects, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:  registry,
		store:     store,
		redirects: redirects,
		logger:    logger,
	}
}

// Handle reconciles one callback for driverName. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, driverName string, req *CallbackRequest) (resp CallbackResponse) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("payment callback panicked",
				zap.String("driver", driverName),
				zap.String("panic", fmt.Sprint(r)),
			)
			resp = d.fail(req, callbackError(errors.New("panic"), "Server Error"))
		}
	}()

	if d.store == nil || d.registry == nil {
		return d.fail(req, callbackError(ErrConfiguration, "Server Configuration Error"))
	}
	drv, err := d.registry.Driver(driverName)
	if err != nil {
		d.logger.Error("payment callback for unavailable driver", zap.String("driver", driverName), zap.Error(err))
		return d.fail(req, callbackError(ErrConfiguration, "Server Configuration Error"))
	}
	log := d.logger.With(zap.String("driver", drv.Name()), zap.String("method", req.Method))

	// Manual payables are decided through Reconcile by an administrator.
	if drv.Type() == TypeManual {
		log.Warn("payment callback for manual driver refused")
		return d.fail(req, callbackError(ErrManualApproval, "Payment requires administrator approval"))
	}

	if !req.IsReturn() && !drv.VerifySignature(req) {
		log.Warn("payment callback signature rejected")
		return d.fail(req, callbackError(ErrSignature, "Invalid signature"))
	}

	reference := drv.ExtractReference(ctx, req)
	if reference == "" {
		log.Warn("payment callback without reference")
		return d.fail(req, callbackError(ErrReferenceNotFound, "Payment reference not found in payload"))
	}
	log = log.With(zap.String("reference", reference))

	payable, err := d.find(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrPayableNotFound) {
			log.Warn("payment callback for unknown payable")
			return d.fail(req, callbackError(ErrPayableNotFound, "Payment record not found"))
		}
		log.Error("payable lookup failed", zap.Error(err))
		return d.fail(req, callbackError(err, "Server Error"))
	}

	if IsSettled(payable.Status) {
		log.Info("payment callback for settled payable ignored", zap.String("status", payable.Status))
		return d.succeed(req, payable.Reference, "Payment successful")
	}

	if req.IsReturn() && !drv.Type().VerifiesOnReturn() {
		return d.succeed(req, payable.Reference, StatusMessage(payable.Status))
	}

	result, err := d.Reconcile(ctx, drv, payable, req.Payload())
	if err != nil {
		log.Error("payment status update failed", zap.Error(err))
		return d.fail(req, callbackError(err, "Server Error"))
	}
	if result.Success {
		return d.succeed(req, payable.Reference, "Payment successful")
	}
	msg := result.Error
	if msg == "" {
		msg = "Payment verification failed"
	}
	return d.fail(req, callbackError(ErrVerificationFailed, msg))
}

func (d *Dispatcher) find(ctx context.Context, reference string) (*Payable, error) {
	payable, err := d.store.FindByReference(ctx, reference)
	if err == nil {
		return payable, nil
	}
	if !errors.Is(err, ErrPayableNotFound) {
		return nil, err
	}
	return d.store.FindByID(ctx, reference)
}

// Reconcile verifies payload against drv and persists the outcome with a
// conditional transition. Events are emitted only when the transition applied,
// so concurrent deliveries of one outcome produce a single event. A failure
// that loses the race to a success is reported as success.
func (d *Dispatcher) Reconcile(ctx context.Context, drv Gateway, payable *Payable, payload map[string]any) (VerificationResult, error) {
	log := d.logger.With(zap.String("driver", drv.Name()), zap.String("reference", payable.Reference))

	result := drv.Verify(ctx, payable, payload)
	if te, ok := result.Meta[MetaTransportError]; ok {
		log.Warn("provider unreachable during verification", zap.Any("cause", te))
	}

	if result.Success {
		applied, err := d.store.TransitionStatus(ctx, Transition{
			Reference:     payable.Reference,
			To:            StatusPaid,
			TransactionID: result.TransactionID,
			Guard:         GuardOpen,
		})
		if err != nil {
			return result, err
		}
		if applied {
			payable.Status = StatusPaid
			payable.TransactionID = result.TransactionID
			log.Info("payment succeeded", zap.String("transaction_id", result.TransactionID))
			d.registry.emitVerification(drv.Name(), payable, result)
		}
		return result, nil
	}

	reason := result.Error
	if reason == "" {
		reason = "Unknown error"
	}
	applied, err := d.store.TransitionStatus(ctx, Transition{
		Reference:     payable.Reference,
		To:            StatusFailed,
		FailureReason: reason,
		Guard:         GuardOpen,
	})
	if err != nil {
		return result, err
	}
	if !applied {
		log.Info("failed verification ignored, payable already settled")
		return VerificationResult{Success: true, TransactionID: payable.TransactionID}, nil
	}
	payable.Status = StatusFailed
	log.Info("payment failed", zap.String("reason", reason))
	d.registry.emitVerification(drv.Name(), payable, result)
	return result, nil
}

// ApplyStatus settles a payable from an out-of-band status probe. Only
// definitive outcomes change anything; it reports whether a transition applied.
func (d *Dispatcher) ApplyStatus(ctx context.Context, driver string, payable *Payable, check StatusCheck) (bool, error) {
	var t Transition
	switch Classify(check.Status) {
	case ClassSuccess:
		txn := check.TransactionID
		if txn == "" {
			txn = payable.TransactionID
		}
		t = Transition{Reference: payable.Reference, To: StatusPaid, TransactionID: txn, Guard: GuardOpen}
	case ClassFailed:
		t = Transition{Reference: payable.Reference, To: normalize(check.Status), FailureReason: check.Message, Guard: GuardPending}
	default:
		return false, nil
	}

	applied, err := d.store.TransitionStatus(ctx, t)
	if err != nil || !applied {
		return false, err
	}
	payable.Status = t.To
	meta := map[string]any{"source": "status_check"}
	if t.To == StatusPaid {
		payable.TransactionID = t.TransactionID
		d.registry.emitVerification(driver, payable, VerificationResult{Success: true, TransactionID: t.TransactionID, Meta: meta})
	} else {
		d.registry.emitVerification(driver, payable, VerificationResult{Error: check.Message, Meta: meta})
	}
	return true, nil
}

func (d *Dispatcher) succeed(req *CallbackRequest, reference, msg string) CallbackResponse {
	resp := CallbackResponse{StatusCode: http.StatusOK, Success: true, Message: msg, Reference: reference}
	if req != nil && req.IsReturn() {
		resp.StatusCode = http.StatusFound
		resp.Redirect = d.redirects.status(reference, msg)
	}
	return resp
}

func (d *Dispatcher) fail(req *CallbackRequest, err *CallbackError) CallbackResponse {
	resp := CallbackResponse{StatusCode: StatusCode(err), Message: err.Message}
	if req != nil && req.IsReturn() {
		resp.StatusCode = http.StatusFound
		resp.Redirect = d.redirects.failure(err.Message)
	}
	return resp
}
