package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

func testOrder(total money.Cents) *order.Order {
	return &order.Order{ID: 42, State: order.StatePending, Total: total}
}

func newTestStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripe(StripeConfig{
		SecretKey:      "sk_test",
		PublishableKey: "pk_test",
		APIBase:        srv.URL,
	}, NewClient(time.Second))
}

func TestStripe_Initiate(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "28348", r.PostForm.Get("amount"))
		assert.Equal(t, "cad", r.PostForm.Get("currency"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[order_id]"))

		_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method"}`))
	})

	init, err := s.Initiate(context.Background(), testOrder(28348), ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "stripe", init.Provider)
	assert.Equal(t, "pi_1_secret", init.ClientFields["client_secret"])
	assert.Equal(t, "pk_test", init.ClientFields["publishable_key"])
}

func TestStripe_Initiate_RejectsNonPositiveTotal(t *testing.T) {
	s := newTestStripe(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no API call expected")
	})

	_, err := s.Initiate(context.Background(), testOrder(0), ReturnURLs{})
	assert.Error(t, err)
}

func TestStripe_Resolve_VerifiesBeforeTrusting(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		// The adapter must re-query the intent, not believe the payload.
		assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		_, _ = w.Write([]byte(`{
			"id": "pi_1", "status": "succeeded", "amount": 28348, "currency": "cad",
			"metadata": {"order_id": "42"},
			"latest_charge": {"payment_method_details": {"card": {"brand": "visa", "last4": "4242"}}}
		}`))
	})

	// The browser claims whatever it wants; only the API answer counts.
	out, err := s.Resolve(context.Background(), testOrder(28348), Payload{
		"intent_id": "pi_1",
		"status":    "totally_succeeded_trust_me",
	})
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.Equal(t, money.Cents(28348), out.Amount)
	assert.Equal(t, "visa ending in 4242", out.Card)
	assert.Equal(t, "succeeded", out.Record["status"])
}

func TestStripe_Resolve_FailedIntent(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "pi_1", "status": "requires_payment_method", "amount": 28348,
			"metadata": {"order_id": "42"},
			"last_payment_error": {"message": "Your card was declined."}
		}`))
	})

	out, err := s.Resolve(context.Background(), testOrder(28348), Payload{"intent_id": "pi_1"})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, "Your card was declined.", out.Record["error"])
}

func TestStripe_Resolve_ForeignIntent(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, _ *http.Request) {
		// A real, succeeded intent, but created for a different order
		// with the same total.
		_, _ = w.Write([]byte(`{
			"id": "pi_other", "status": "succeeded", "amount": 28348, "currency": "cad",
			"metadata": {"order_id": "41"}
		}`))
	})

	_, err := s.Resolve(context.Background(), testOrder(28348), Payload{"intent_id": "pi_other"})
	var foreign *OrderMismatchError
	require.ErrorAs(t, err, &foreign)
	assert.Equal(t, "41", foreign.Got)
	assert.Equal(t, int64(42), foreign.Want)
}

func TestStripe_Resolve_MissingIntentID(t *testing.T) {
	s := newTestStripe(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no API call expected")
	})

	_, err := s.Resolve(context.Background(), testOrder(28348), Payload{})
	assert.Error(t, err)
}
