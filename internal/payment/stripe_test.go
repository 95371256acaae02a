package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	drv, err := NewStripe(DriverConfig{SecretKey: "sk_test_1", WebhookSecret: "whsec_1", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return drv
}

func TestStripe_InitiateCheckoutSession(t *testing.T) {
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/sessions", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_1", user)
		assert.Empty(t, pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "myr", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "Widget", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "2500", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "2", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "https://shop.test/return?reference=R1&session_id={CHECKOUT_SESSION_ID}", r.PostForm.Get("success_url"))
		assert.Equal(t, "R1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "R1", r.PostForm.Get("metadata[reference]"))
		assert.Equal(t, "R1", r.PostForm.Get("payment_intent_data[metadata][reference]"))
		assert.Equal(t, "aina@example.com", r.PostForm.Get("customer_email"))
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.test/cs_test_1"}`))
	})

	res := drv.Initiate(context.Background(), samplePayable("R1"))

	assert.Equal(t, InitiationRedirect, res.Type)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", res.URL)
	assert.Equal(t, "cs_test_1", res.GatewayRef)
}

func TestStripe_InitiateError(t *testing.T) {
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid currency"}}`))
	})

	res := drv.Initiate(context.Background(), samplePayable("R1"))

	assert.Equal(t, InitiationError, res.Type)
	assert.Equal(t, "Invalid currency", res.Message)
}

func TestStripe_InitiateClientSecret(t *testing.T) {
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment_intents", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret_x"}`))
	})

	p := samplePayable("R1")
	p.Settings = Settings{SettingStripeMode: "elements"}
	res := drv.Initiate(context.Background(), p)

	assert.Equal(t, InitiationClientSecret, res.Type)
	assert.Equal(t, "pi_1_secret_x", res.ClientSecret)
}

func TestStripe_VerifySession(t *testing.T) {
	var status atomic.Value
	status.Store("paid")
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/sessions/cs_1", r.URL.Path)
		fmt.Fprintf(w, `{"id":"cs_1","payment_status":%q,"payment_intent":"pi_9"}`, status.Load().(string))
	})
	ctx := context.Background()

	res := drv.Verify(ctx, samplePayable("R1"), map[string]any{"session_id": "cs_1"})
	assert.True(t, res.Success)
	assert.Equal(t, "pi_9", res.TransactionID)

	status.Store("unpaid")
	res = drv.Verify(ctx, samplePayable("R1"), map[string]any{"session_id": "cs_1"})
	assert.False(t, res.Success)
	assert.Equal(t, "Payment not completed - status: unpaid", res.Error)
}

func TestStripe_VerifySessionTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	drv, err := NewStripe(DriverConfig{SecretKey: "sk", BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)

	res := drv.Verify(context.Background(), samplePayable("R1"), map[string]any{"session_id": "cs_1"})

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Failed to retrieve session from Stripe"))
	assert.Contains(t, res.Meta, MetaTransportError)
}

func TestStripe_VerifyEvents(t *testing.T) {
	drv := newTestStripe(t, nil)
	ctx := context.Background()
	p := samplePayable("R1")

	event := func(body string) map[string]any { return postJSON(t, body).Payload() }

	res := drv.Verify(ctx, p, event(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`))
	assert.True(t, res.Success)
	assert.Equal(t, "pi_1", res.TransactionID)

	res = drv.Verify(ctx, p, event(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid","payment_intent":"pi_2"}}}`))
	assert.True(t, res.Success)
	assert.Equal(t, "pi_2", res.TransactionID)

	res = drv.Verify(ctx, p, event(`{"type":"checkout.session.completed","data":{"object":{"payment_status":"unpaid"}}}`))
	assert.Equal(t, "Payment pending - status: unpaid", res.Error)

	res = drv.Verify(ctx, p, event(`{"type":"payment_intent.payment_failed","data":{"object":{"last_payment_error":{"message":"Your card was declined."}}}}`))
	assert.Equal(t, "Your card was declined.", res.Error)

	res = drv.Verify(ctx, p, event(`{"type":"payment_intent.payment_failed","data":{"object":{}}}`))
	assert.Equal(t, "Payment failed", res.Error)

	res = drv.Verify(ctx, p, event(`{"type":"charge.dispute.created","data":{"object":{}}}`))
	assert.False(t, res.Success)
	assert.Equal(t, "Unhandled event type: charge.dispute.created", res.Error)
}

func TestStripe_ExtractReference(t *testing.T) {
	var calls atomic.Int32
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"cs_1","metadata":{"reference":"R-meta"}}`))
	})
	ctx := context.Background()

	assert.Equal(t, "R1", drv.ExtractReference(ctx, getQuery(t, "reference=R1&session_id=cs_1")))
	assert.Equal(t, int32(0), calls.Load())

	assert.Equal(t, "R-meta", drv.ExtractReference(ctx, getQuery(t, "session_id=cs_1")))
	assert.Equal(t, int32(1), calls.Load())

	req := postJSON(t, `{"type":"checkout.session.completed","data":{"object":{"client_reference_id":"R9"}}}`)
	assert.Equal(t, "R9", drv.ExtractReference(ctx, req))

	req = postJSON(t, `{"type":"payment_intent.succeeded","data":{"object":{"metadata":{"reference":"R8"}}}}`)
	assert.Equal(t, "R8", drv.ExtractReference(ctx, req))
}

func stripeSign(secret string, ts int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripe_VerifySignature(t *testing.T) {
	drv := newTestStripe(t, nil)
	now := time.Unix(1_700_000_000, 0)
	drv.now = func() time.Time { return now }
	body := `{"type":"payment_intent.succeeded"}`

	signed := func(header string) *CallbackRequest {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Stripe-Signature", header)
		req, err := ParseCallbackRequest(r)
		require.NoError(t, err)
		return req
	}

	assert.True(t, drv.VerifySignature(signed(stripeSign("whsec_1", now.Unix(), body))))
	assert.False(t, drv.VerifySignature(signed(stripeSign("wrong", now.Unix(), body))))
	assert.False(t, drv.VerifySignature(signed(stripeSign("whsec_1", now.Add(-10*time.Minute).Unix(), body))))
	assert.False(t, drv.VerifySignature(signed("garbage")))
	assert.False(t, drv.VerifySignature(postJSON(t, body)))
}

func TestStripe_Refund(t *testing.T) {
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_1", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "700", r.PostForm.Get("amount"))
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	})

	amount := int64(700)
	res := drv.Refund(context.Background(), "pi_1", &amount)

	assert.True(t, res.Success)
	assert.Equal(t, "re_1", res.RefundID)
}

func TestStripe_CheckStatus(t *testing.T) {
	drv := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cs_1","status":"expired","payment_status":"unpaid"}`))
	})

	p := samplePayable("R1")
	assert.Equal(t, StatusUnknown, drv.CheckStatus(context.Background(), p).Status)

	p.GatewayRef = "cs_1"
	assert.Equal(t, StatusExpired, drv.CheckStatus(context.Background(), p).Status)
}
