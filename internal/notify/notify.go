package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"paybridge/internal/models"
	"paybridge/internal/payment"
	"paybridge/internal/pkg/utils"
)

// KindTelegram is the outbox job kind delivered through the Telegram bot.
const KindTelegram = "telegram"

// Message is the payload stored on a telegram outbox job.
type Message struct {
	Text string `json:"text"`
}

// Outbox queues a notification for later delivery.
type Outbox interface {
	Enqueue(ctx context.Context, kind, externalRef string, payload interface{}, targets []string) (*models.NotifyJob, error)
}

// GatewayRefs records provider-side ids returned at initiation.
type GatewayRefs interface {
	SetGatewayReference(ctx context.Context, reference, driver, gatewayRef string) error
}

// Register wires the built-in subscribers onto bus.
func Register(bus *payment.Bus, logger *zap.Logger, refs GatewayRefs, outbox Outbox, chatIDs []string) {
	bus.SubscribeAll(AuditLogger(logger))
	if refs != nil {
		bus.Subscribe(payment.EventInitiated, GatewayRefRecorder(refs))
	}
	if outbox != nil && len(chatIDs) > 0 {
		reporter := ChannelReporter(outbox, chatIDs)
		bus.Subscribe(payment.EventSucceeded, reporter)
		bus.Subscribe(payment.EventFailed, reporter)
		bus.Subscribe(payment.EventRefunded, reporter)
	}
}

// AuditLogger writes every payment event to the log.
func AuditLogger(logger *zap.Logger) payment.HandlerFunc {
	return func(evt payment.Event) error {
		fields := []zap.Field{zap.String("event", string(evt.Type)), zap.Time("at", evt.OccurredAt)}
		switch p := evt.Payload.(type) {
		case payment.PaymentInitiated:
			fields = append(fields,
				zap.String("driver", p.Driver),
				zap.String("reference", p.Payable.Reference),
				zap.String("result", string(p.Result.Type)),
				zap.String("gateway_ref", p.Result.GatewayRef),
			)
		case payment.PaymentSucceeded:
			fields = append(fields,
				zap.String("driver", p.Driver),
				zap.String("reference", p.Payable.Reference),
				zap.String("transaction_id", p.TransactionID),
				zap.Int64("amount", p.Payable.Amount),
			)
		case payment.PaymentFailed:
			fields = append(fields,
				zap.String("driver", p.Driver),
				zap.String("reference", p.Payable.Reference),
				zap.String("error", p.Error),
			)
		case payment.PaymentRefunded:
			fields = append(fields,
				zap.String("driver", p.Driver),
				zap.String("transaction_id", p.TransactionID),
				zap.String("refund_id", p.Result.RefundID),
			)
		}
		logger.Info("payment event", fields...)
		return nil
	}
}

// GatewayRefRecorder stores the driver and provider id of a successful initiation.
func GatewayRefRecorder(refs GatewayRefs) payment.HandlerFunc {
	return func(evt payment.Event) error {
		p, ok := evt.Payload.(payment.PaymentInitiated)
		if !ok || !p.Result.OK() || p.Payable.Reference == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return refs.SetGatewayReference(ctx, p.Payable.Reference, p.Driver, p.Result.GatewayRef)
	}
}

// ChannelReporter queues a Telegram report of settled payments for chatIDs.
func ChannelReporter(outbox Outbox, chatIDs []string) payment.HandlerFunc {
	return func(evt payment.Event) error {
		text, ref := Report(evt)
		if text == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := outbox.Enqueue(ctx, KindTelegram, ref, Message{Text: text}, chatIDs)
		return err
	}
}

// Report renders the channel message for evt and the dedup key of the job.
func Report(evt payment.Event) (string, string) {
	var b strings.Builder
	switch p := evt.Payload.(type) {
	case payment.PaymentSucceeded:
		fmt.Fprintf(&b, "✅ <b>Payment received</b>\n")
		writePayable(&b, p.Driver, &p.Payable)
		fmt.Fprintf(&b, "Transaction: <code>%s</code>", html.EscapeString(p.TransactionID))
		return b.String(), string(evt.Type) + ":" + p.Payable.Reference
	case payment.PaymentFailed:
		fmt.Fprintf(&b, "❌ <b>Payment failed</b>\n")
		writePayable(&b, p.Driver, &p.Payable)
		fmt.Fprintf(&b, "Reason: %s", html.EscapeString(p.Error))
		return b.String(), ""
	case payment.PaymentRefunded:
		fmt.Fprintf(&b, "↩️ <b>Payment refunded</b>\n")
		fmt.Fprintf(&b, "Gateway: %s\n", html.EscapeString(p.Driver))
		fmt.Fprintf(&b, "Transaction: <code>%s</code>\n", html.EscapeString(p.TransactionID))
		if p.Amount != nil {
			fmt.Fprintf(&b, "Amount: %s\n", utils.FormatAmount(*p.Amount, ""))
		} else {
			b.WriteString("Amount: full\n")
		}
		fmt.Fprintf(&b, "Refund: <code>%s</code>", html.EscapeString(p.Result.RefundID))
		return b.String(), string(evt.Type) + ":" + p.Driver + ":" + p.Result.RefundID
	}
	return "", ""
}

func writePayable(b *strings.Builder, driver string, p *payment.Payable) {
	fmt.Fprintf(b, "Reference: <code>%s</code>\n", html.EscapeString(p.Reference))
	fmt.Fprintf(b, "Amount: %s\n", utils.FormatAmount(p.Amount, p.Currency))
	fmt.Fprintf(b, "Gateway: %s\n", html.EscapeString(driver))
	if p.Customer.Email != "" {
		fmt.Fprintf(b, "Customer: %s\n", html.EscapeString(p.Customer.Email))
	}
}
