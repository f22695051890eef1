package payment

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

// DelayedConfig holds credentials for the two-phase gateway.
type DelayedConfig struct {
	AccessToken string
	APIBase     string
}

// Delayed implements two-phase capture: checkout vaults a payment token on
// the pending order, and an administrator executes the charge later via
// Capture. The order stays pending, authorization payload attached, until
// then.
type Delayed struct {
	cfg    DelayedConfig
	client *Client
	tokens *TokenSource
}

// NewDelayed creates the delayed-capture adapter.
func NewDelayed(cfg DelayedConfig, client *Client, tokens *TokenSource) *Delayed {
	return &Delayed{cfg: cfg, client: client, tokens: tokens}
}

func (d *Delayed) Name() string   { return "delayed" }
func (d *Delayed) Deferred() bool { return false }

// Initiate hands the front end the vault form context. The token itself is
// produced client-side by the gateway's hosted iframe.
func (d *Delayed) Initiate(_ context.Context, o *order.Order, _ ReturnURLs) (*Initiation, error) {
	if o.Total <= 0 {
		return nil, errors.Errorf("delayed capture requires a positive total, got %s", o.Total)
	}
	return &Initiation{
		Provider: d.Name(),
		ClientFields: map[string]string{
			"order_id": strconv.FormatInt(o.ID, 10),
			"amount":   strconv.FormatInt(int64(o.Total), 10),
		},
	}, nil
}

// Resolve stores the client-submitted vault token as an authorization-only
// outcome. Nothing is charged and nothing is trusted about the money yet;
// the amount is verified at capture time against the gateway's answer.
func (d *Delayed) Resolve(_ context.Context, o *order.Order, payload Payload) (*Outcome, error) {
	token, err := payload.Get("payment_token")
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Approved:       false,
		AuthorizedOnly: true,
		Provider:       d.Name(),
		Card:           payload["card_descriptor"],
		Record: order.Record{
			"status":        "authorized",
			"payment_token": token,
			"amount":        int64(o.Total),
		},
	}, nil
}

// delayedCharge is the gateway's answer to a capture request.
type delayedCharge struct {
	Status   string `json:"status"`
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
	Card     string `json:"card"`
	Message  string `json:"message"`
}

// Capture executes the stored authorization. On an auth failure the cached
// bearer token is invalidated before the client's retry takes another run.
func (d *Delayed) Capture(ctx context.Context, o *order.Order) (*Outcome, error) {
	stored, ok := o.Payment["payment_token"].(string)
	if !ok || stored == "" {
		return nil, order.ErrNotCaptureable
	}

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"payment_token": stored,
		"amount":        int64(o.Total),
		"order_id":      o.ID,
	}

	var charge delayedCharge
	err = d.client.PostJSON(ctx, d.cfg.APIBase+"/payments/charge", bearer(token), body, &charge)
	if err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code == 401 {
			d.tokens.Invalidate()
		}
		return nil, errors.Wrap(err, "capture charge")
	}

	card := charge.Card
	if card == "" {
		card = o.PaymentCard
	}
	if card == "" {
		card = "unknown"
	}

	return &Outcome{
		Approved: charge.Status == "approved",
		Provider: d.Name(),
		Card:     card,
		Record: order.Record{
			"status":        charge.Status,
			"charge_id":     charge.ChargeID,
			"amount":        charge.Amount,
			"payment_token": stored,
			"message":       charge.Message,
		},
		Amount: money.Cents(charge.Amount),
	}, nil
}
