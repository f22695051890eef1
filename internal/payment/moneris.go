package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

// ErrDigestMismatch is returned when a postback's signature does not match
// the store key. Somebody other than the gateway built that postback.
var ErrDigestMismatch = errors.New("postback digest mismatch")

// MonerisConfig holds hosted paypage credentials.
type MonerisConfig struct {
	StoreID   string
	HPPKey    string
	HostedURL string // form target the buyer is redirected to
	VerifyURL string // transaction verification endpoint
}

// Moneris implements the classic hosted-paypage flow: the buyer leaves for
// the gateway's form and comes back with a postback. Postbacks are
// untrusted inbound: the keyed digest is checked first, and the
// transaction key is then re-verified against the gateway before the
// result is believed.
type Moneris struct {
	cfg    MonerisConfig
	client *Client
}

// NewMoneris creates the Moneris adapter.
func NewMoneris(cfg MonerisConfig, client *Client) *Moneris {
	return &Moneris{cfg: cfg, client: client}
}

func (m *Moneris) Name() string   { return "moneris" }
func (m *Moneris) Deferred() bool { return false }

// Initiate builds the hosted form handoff. No gateway call is needed; the
// paypage is keyed by store id.
func (m *Moneris) Initiate(_ context.Context, o *order.Order, ret ReturnURLs) (*Initiation, error) {
	if o.Total <= 0 {
		return nil, errors.Errorf("moneris requires a positive total, got %s", o.Total)
	}

	charge := decimal.NewFromInt(int64(o.Total)).Div(decimal.NewFromInt(100)).StringFixed(2)
	return &Initiation{
		Provider:    m.Name(),
		RedirectURL: m.cfg.HostedURL,
		ClientFields: map[string]string{
			"ps_store_id":       m.cfg.StoreID,
			"hpp_key":           m.cfg.HPPKey,
			"charge_total":      charge,
			"order_no":          strconv.FormatInt(o.ID, 10),
			"rvar_success_url":  ret.Success,
			"rvar_declined_url": ret.Declined,
		},
	}, nil
}

// monerisVerification is the gateway's answer to a transaction verification.
type monerisVerification struct {
	ResponseCode string `json:"response_code"`
	Amount       string `json:"amount"`
	TransID      string `json:"txn_num"`
	OrderNo      string `json:"order_no"`
	CardType     string `json:"card"`
	Message      string `json:"message"`
}

// Resolve validates the postback digest, then re-queries the gateway with
// the transaction key. The postback's own result field is never used, and
// both the postback and the verification answer must reference this order:
// a verified transaction from another equal-amount order settles nothing.
func (m *Moneris) Resolve(ctx context.Context, o *order.Order, payload Payload) (*Outcome, error) {
	transKey, err := payload.Get("transactionKey")
	if err != nil {
		return nil, err
	}
	orderNo, err := payload.Get("order_no")
	if err != nil {
		return nil, err
	}
	digest, err := payload.Get("digest")
	if err != nil {
		return nil, err
	}
	if !m.digestValid(transKey, orderNo, digest) {
		return nil, ErrDigestMismatch
	}

	want := strconv.FormatInt(o.ID, 10)
	if orderNo != want {
		// The digest is valid for some order, just not this one.
		return nil, &OrderMismatchError{Provider: m.Name(), Reference: transKey, Got: orderNo, Want: o.ID}
	}

	form := url.Values{}
	form.Set("ps_store_id", m.cfg.StoreID)
	form.Set("hpp_key", m.cfg.HPPKey)
	form.Set("transactionKey", transKey)

	var v monerisVerification
	if err := m.client.PostForm(ctx, m.cfg.VerifyURL, nil, form, &v); err != nil {
		return nil, errors.Wrap(err, "verify transaction")
	}

	if v.OrderNo != want {
		return nil, &OrderMismatchError{Provider: m.Name(), Reference: v.TransID, Got: v.OrderNo, Want: o.ID}
	}

	code, err := strconv.Atoi(v.ResponseCode)
	if err != nil {
		return nil, errors.Errorf("unparseable response code %q", v.ResponseCode)
	}

	amount, err := parseDollars(v.Amount)
	if err != nil {
		return nil, errors.Wrap(err, "parse verified amount")
	}

	card := v.CardType
	if card == "" {
		card = "unknown"
	}

	return &Outcome{
		// Gateway convention: codes below 50 are approvals.
		Approved: code < 50,
		Provider: m.Name(),
		Card:     card,
		Record: order.Record{
			"transaction_key": transKey,
			"txn_num":         v.TransID,
			"response_code":   v.ResponseCode,
			"amount":          v.Amount,
			"message":         v.Message,
		},
		Amount: amount,
	}, nil
}

// digestValid checks the keyed postback signature.
func (m *Moneris) digestValid(transKey, orderNo, digest string) bool {
	mac := hmac.New(sha256.New, []byte(m.cfg.HPPKey))
	fmt.Fprintf(mac, "%s.%s.%s", m.cfg.StoreID, orderNo, transKey)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(digest))
}

// parseDollars converts a gateway "123.45" amount into cents without
// passing through floats.
func parseDollars(s string) (money.Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return money.Cents(d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()), nil
}
