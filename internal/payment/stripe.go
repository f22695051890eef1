package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeConfig holds Stripe credentials and currency.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	Currency       string
	// APIBase overrides the live endpoint; tests point it at a local server.
	APIBase string
}

// Stripe implements synchronous card capture. Initiate creates a payment
// intent and hands the client secret to the front end; Resolve takes the
// client-submitted intent id and re-queries the Stripe API before trusting
// anything the browser said about it.
type Stripe struct {
	cfg    StripeConfig
	client *Client
}

// NewStripe creates the Stripe adapter.
func NewStripe(cfg StripeConfig, client *Client) *Stripe {
	if cfg.APIBase == "" {
		cfg.APIBase = stripeAPIBase
	}
	if cfg.Currency == "" {
		cfg.Currency = "cad"
	}
	return &Stripe{cfg: cfg, client: client}
}

func (s *Stripe) Name() string   { return "stripe" }
func (s *Stripe) Deferred() bool { return false }

// stripeIntent is the subset of the payment intent object the adapter reads.
type stripeIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
	LatestCharge struct {
		PaymentMethodDetails struct {
			Card struct {
				Brand string `json:"brand"`
				Last4 string `json:"last4"`
			} `json:"card"`
		} `json:"payment_method_details"`
	} `json:"latest_charge"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// Initiate creates a payment intent for the order total. A network or API
// failure surfaces to the caller; the order is untouched and checkout can
// be retried.
func (s *Stripe) Initiate(ctx context.Context, o *order.Order, _ ReturnURLs) (*Initiation, error) {
	if o.Total <= 0 {
		return nil, errors.Errorf("stripe requires a positive total, got %s", o.Total)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(int64(o.Total), 10))
	form.Set("currency", s.cfg.Currency)
	form.Set("metadata[order_id]", strconv.FormatInt(o.ID, 10))

	var intent stripeIntent
	err := s.client.PostForm(ctx, s.cfg.APIBase+"/v1/payment_intents", bearer(s.cfg.SecretKey), form, &intent)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}

	return &Initiation{
		Provider: s.Name(),
		ClientFields: map[string]string{
			"publishable_key": s.cfg.PublishableKey,
			"client_secret":   intent.ClientSecret,
			"intent_id":       intent.ID,
		},
	}, nil
}

// Resolve verifies a client-reported intent. The browser's claim of success
// is never trusted: the intent is re-fetched from Stripe and only its
// authoritative status and amount count. The intent must also carry this
// order's id in its metadata; a real, succeeded intent created for another
// order settles nothing here.
func (s *Stripe) Resolve(ctx context.Context, o *order.Order, payload Payload) (*Outcome, error) {
	intentID, err := payload.Get("intent_id")
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/payment_intents/%s?expand[]=latest_charge", s.cfg.APIBase, url.PathEscape(intentID))
	var intent stripeIntent
	if err := s.client.GetJSON(ctx, endpoint, bearer(s.cfg.SecretKey), &intent); err != nil {
		return nil, errors.Wrap(err, "verify payment intent")
	}

	if got := intent.Metadata["order_id"]; got != strconv.FormatInt(o.ID, 10) {
		return nil, &OrderMismatchError{Provider: s.Name(), Reference: intent.ID, Got: got, Want: o.ID}
	}

	record := order.Record{
		"intent_id": intent.ID,
		"status":    intent.Status,
		"amount":    intent.Amount,
		"currency":  intent.Currency,
	}
	if msg := intent.LastPaymentError.Message; msg != "" {
		record["error"] = msg
	}

	card := "unknown"
	if details := intent.LatestCharge.PaymentMethodDetails.Card; details.Last4 != "" {
		card = fmt.Sprintf("%s ending in %s", details.Brand, details.Last4)
	}

	return &Outcome{
		Approved: intent.Status == "succeeded",
		Provider: s.Name(),
		Card:     card,
		Record:   record,
		Amount:   money.Cents(intent.Amount),
	}, nil
}
