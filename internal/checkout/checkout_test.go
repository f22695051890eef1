package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
)

// --- Mock implementations ---

type fakePurchasable struct {
	ref   purchasable.Ref
	title string
	price money.Cents
}

func (f *fakePurchasable) PurchasableRef() purchasable.Ref              { return f.ref }
func (f *fakePurchasable) Title() string                                { return f.title }
func (f *fakePurchasable) Price() money.Cents                           { return f.price }
func (f *fakePurchasable) TaxExempt() bool                              { return false }
func (f *fakePurchasable) QuantityEnabled() bool                        { return false }
func (f *fakePurchasable) QuantityRemaining() int                       { return 0 }
func (f *fakePurchasable) SellerID() (int64, bool)                      { return 0, false }
func (f *fakePurchasable) Purchased(context.Context, int64, int64, int) error { return nil }
func (f *fakePurchasable) Declined(context.Context, int64, int64) error  { return nil }

type mapResolver struct {
	byRef map[purchasable.Ref]purchasable.Purchasable
}

func (m *mapResolver) Resolve(_ context.Context, ref purchasable.Ref) (purchasable.Purchasable, error) {
	p, ok := m.byRef[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	return p, nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*order.Order

	// failNextTx makes the next InTx fail, simulating a transient
	// database error during settlement.
	failNextTx error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[int64]*order.Order{}}
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = append([]order.Item(nil), o.Items...)
	return &c
}

func (r *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o.ID = r.nextID
	for i := range o.Items {
		o.Items[i].ID = int64(i + 1)
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *memOrderRepo) Get(_ context.Context, id int64) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Save(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; !ok {
		return order.ErrNotFound
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *memOrderRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNextTx; err != nil {
		r.failNextTx = nil
		return err
	}
	return fn(ctx, &memOrderTx{repo: r})
}

type memOrderTx struct {
	repo *memOrderRepo
}

func (t *memOrderTx) GetForUpdate(_ context.Context, id int64) (*order.Order, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *memOrderTx) Save(_ context.Context, o *order.Order) error {
	t.repo.orders[o.ID] = cloneOrder(o)
	return nil
}

type memCartRepo struct {
	nextCartID int64
	nextItemID int64
	carts      map[int64]*cart.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: map[int64]*cart.Cart{}}
}

func cloneCart(c *cart.Cart) *cart.Cart {
	out := *c
	out.Items = append([]cart.Item(nil), c.Items...)
	return &out
}

func (r *memCartRepo) Get(_ context.Context, id int64) (*cart.Cart, error) {
	c, ok := r.carts[id]
	if !ok {
		return nil, errors.New("cart not found")
	}
	return cloneCart(c), nil
}

func (r *memCartRepo) Find(_ context.Context, owner cart.Owner) (*cart.Cart, error) {
	for _, c := range r.carts {
		if owner.UserID != 0 && c.UserID == owner.UserID {
			return cloneCart(c), nil
		}
		if owner.SessionToken != "" && c.SessionToken == owner.SessionToken {
			return cloneCart(c), nil
		}
	}
	return nil, nil
}

func (r *memCartRepo) FindOrCreate(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	if c, _ := r.Find(ctx, owner); c != nil {
		return c, nil
	}
	r.nextCartID++
	c := &cart.Cart{ID: r.nextCartID, UserID: owner.UserID, SessionToken: owner.SessionToken}
	r.carts[c.ID] = c
	return cloneCart(c), nil
}

func (r *memCartRepo) AddOrIncrementItem(_ context.Context, cartID int64, ref purchasable.Ref, quantity int) error {
	c, ok := r.carts[cartID]
	if !ok {
		return errors.New("cart not found")
	}
	for i := range c.Items {
		if c.Items[i].Ref == ref {
			c.Items[i].Quantity += quantity
			return nil
		}
	}
	r.nextItemID++
	c.Items = append(c.Items, cart.Item{ID: r.nextItemID, Ref: ref, Quantity: quantity})
	return nil
}

func (r *memCartRepo) RemoveItem(_ context.Context, cartID, itemID int64) error {
	c, ok := r.carts[cartID]
	if !ok {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *memCartRepo) ReassignItems(_ context.Context, fromCartID, toCartID int64) error {
	from, ok := r.carts[fromCartID]
	if !ok {
		return nil
	}
	to, ok := r.carts[toCartID]
	if !ok {
		return errors.New("cart not found")
	}
	to.Items = append(to.Items, from.Items...)
	from.Items = nil
	return nil
}

func (r *memCartRepo) Delete(_ context.Context, cartID int64) error {
	delete(r.carts, cartID)
	return nil
}

type noopMailer struct {
	mu              sync.Mutex
	paymentRequests int
}

func (m *noopMailer) ReceiptToBuyer(context.Context, *order.Order) error          { return nil }
func (m *noopMailer) ReceiptToAdmin(context.Context, *order.Order) error          { return nil }
func (m *noopMailer) ReceiptToSeller(context.Context, *order.Order, int64) error  { return nil }

func (m *noopMailer) PaymentRequestToBuyer(context.Context, *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentRequests++
	return nil
}

type memEventStore struct {
	seen map[string]bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{seen: map[string]bool{}}
}

func (s *memEventStore) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

// stubProvider scripts adapter behavior per test.
type stubProvider struct {
	name         string
	deferred     bool
	initiate     func(o *order.Order) (*payment.Initiation, error)
	resolve      func(o *order.Order, payload payment.Payload) (*payment.Outcome, error)
	resolveCalls int
}

func (s *stubProvider) Name() string   { return s.name }
func (s *stubProvider) Deferred() bool { return s.deferred }

func (s *stubProvider) Initiate(_ context.Context, o *order.Order, _ payment.ReturnURLs) (*payment.Initiation, error) {
	if s.initiate != nil {
		return s.initiate(o)
	}
	return &payment.Initiation{Provider: s.name, RedirectURL: "https://gateway.test/pay"}, nil
}

func (s *stubProvider) Resolve(_ context.Context, o *order.Order, payload payment.Payload) (*payment.Outcome, error) {
	s.resolveCalls++
	if s.resolve != nil {
		return s.resolve(o, payload)
	}
	return approvedOutcome(s.name, o), nil
}

type stubCapturer struct {
	stubProvider
	capture func(o *order.Order) (*payment.Outcome, error)
}

func (s *stubCapturer) Capture(_ context.Context, o *order.Order) (*payment.Outcome, error) {
	return s.capture(o)
}

func approvedOutcome(provider string, o *order.Order) *payment.Outcome {
	return &payment.Outcome{
		Approved: true,
		Provider: provider,
		Card:     "visa 4242",
		Record:   order.Record{"id": "ch_1", "status": "succeeded"},
		Amount:   o.Total,
	}
}

// --- Helpers ---

type fixture struct {
	orch      *Orchestrator
	orders    *order.Service
	orderRepo *memOrderRepo
	carts     *cart.Service
	cartRepo  *memCartRepo
	mailer    *noopMailer
	events    *memEventStore
	order     *order.Order
	product   *fakePurchasable
}

// testAuthorize mirrors the production predicate: buyers check out their
// own orders, system actors act freely, administrative actions need Admin.
func testAuthorize(_ context.Context, actor Actor, action string, o *order.Order) bool {
	if actor.Admin || actor.System {
		return true
	}
	if action == "checkout" {
		return o.BuyerID == 0 || o.BuyerID == actor.UserID
	}
	return false
}

func newFixture(t *testing.T, providers ...payment.Provider) *fixture {
	t.Helper()

	product := &fakePurchasable{
		ref:   purchasable.Ref{Kind: "product", ID: 1},
		title: "Course",
		price: 10000,
	}
	resolver := &mapResolver{byRef: map[purchasable.Ref]purchasable.Purchasable{product.ref: product}}

	orderRepo := newMemOrderRepo()
	mailer := &noopMailer{}
	policy := order.Policy{MinimumCharge: 50, RequireBillingAddress: true}
	orders := order.NewService(orderRepo, tax.Canada{}, resolver, mailer, policy)

	cartRepo := newMemCartRepo()
	carts := cart.NewService(cartRepo, resolver, tax.Canada{})

	events := newMemEventStore()
	cfg := Config{DefaultSuccessURL: "/orders/thanks", DefaultDeclinedURL: "/orders/declined"}
	orch := New(cfg, orders, carts, payment.NewRegistry(providers...), testAuthorize, events)

	// The order is built from a staged cart, the way the HTTP layer does
	// it, so settlement can tear the cart down.
	staged, err := carts.Add(context.Background(), cart.Owner{UserID: 7}, product, 1)
	require.NoError(t, err)

	billing := &order.Address{
		Name: "Pat Doe", Line1: "1 Main St", City: "Toronto",
		Province: "ON", Country: "CA", Postal: "M1M 1M1",
	}
	o, err := orders.Create(context.Background(),
		order.Buyer{ID: 7, Email: "pat@example.com", BillingAddress: billing},
		[]order.Line{{Purchasable: product, Quantity: 1}}, staged.ID, false)
	require.NoError(t, err)
	require.Equal(t, money.Cents(11300), o.Total, "10000 at 13% ON rate")

	return &fixture{
		orch:      orch,
		orders:    orders,
		orderRepo: orderRepo,
		carts:     carts,
		cartRepo:  cartRepo,
		mailer:    mailer,
		events:    events,
		order:     o,
		product:   product,
	}
}

func buyerActor() Actor { return Actor{UserID: 7} }

func (f *fixture) reload(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), f.order.ID)
	require.NoError(t, err)
	return o
}

// --- Begin ---

func TestBegin(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	f := newFixture(t, stub)

	init, err := f.orch.Begin(context.Background(), buyerActor(), f.order.ID, "stub", payment.ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.test/pay", init.RedirectURL)
	assert.Zero(t, f.mailer.paymentRequests, "electronic providers never email a payment request")
}

func TestBegin_Unauthorized(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	_, err := f.orch.Begin(context.Background(), Actor{UserID: 99}, f.order.ID, "stub", payment.ReturnURLs{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBegin_UnknownProvider(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	_, err := f.orch.Begin(context.Background(), buyerActor(), f.order.ID, "moneris", payment.ReturnURLs{})
	var unknown *payment.UnknownProviderError
	assert.ErrorAs(t, err, &unknown)
}

func TestBegin_AlreadyPurchased(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	_, err := f.orders.Purchase(context.Background(), f.order.ID,
		order.Settlement{Payment: order.Record{"id": "ch_1"}, Provider: "stub", Card: "visa"},
		order.PurchaseOptions{})
	require.NoError(t, err)

	_, err = f.orch.Begin(context.Background(), buyerActor(), f.order.ID, "stub", payment.ReturnURLs{})
	assert.ErrorIs(t, err, order.ErrAlreadyPurchased)
}

func TestBegin_DeferredRequestsPayment(t *testing.T) {
	f := newFixture(t, payment.Cheque("Mail a cheque to the office."))

	init, err := f.orch.Begin(context.Background(), buyerActor(), f.order.ID, "cheque", payment.ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "Mail a cheque to the office.", init.Instructions)
	assert.Equal(t, 1, f.mailer.paymentRequests)

	assert.Equal(t, order.StatePending, f.reload(t).State, "deferred checkout leaves the order pending")
}

// --- Complete ---

func TestComplete_Purchase(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	f := newFixture(t, stub)

	res, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub",
		payment.Payload{"intent_id": "pi_1"}, payment.ReturnURLs{})
	require.NoError(t, err)

	assert.True(t, res.Purchased)
	assert.Equal(t, "/orders/thanks", res.RedirectURL)
	assert.Equal(t, order.StatePurchased, res.Order.State)
	assert.Equal(t, "stub", res.Order.PaymentProvider)

	gone, err := f.cartRepo.Find(context.Background(), cart.Owner{UserID: 7})
	require.NoError(t, err)
	assert.Nil(t, gone, "the originating cart is destroyed after purchase")
}

func TestComplete_DestroysSessionCart(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	f := newFixture(t, stub)

	// An anonymous buyer: the order carries no user id, only the cart it
	// was built from.
	staged, err := f.carts.Add(context.Background(), cart.Owner{SessionToken: "sess-9"}, f.product, 1)
	require.NoError(t, err)

	billing := &order.Address{
		Name: "Sam Roe", Line1: "2 Side St", City: "Toronto",
		Province: "ON", Country: "CA", Postal: "M2M 2M2",
	}
	o, err := f.orders.Create(context.Background(),
		order.Buyer{Email: "sam@example.com", BillingAddress: billing},
		[]order.Line{{Purchasable: f.product, Quantity: 1}}, staged.ID, false)
	require.NoError(t, err)

	res, err := f.orch.Complete(context.Background(), Actor{}, o.ID, "stub", nil, payment.ReturnURLs{})
	require.NoError(t, err)
	require.True(t, res.Purchased)

	gone, err := f.cartRepo.Find(context.Background(), cart.Owner{SessionToken: "sess-9"})
	require.NoError(t, err)
	assert.Nil(t, gone, "the session cart is destroyed like a signed-in buyer's")
}

func TestComplete_CustomReturnURL(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	res, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub",
		nil, payment.ReturnURLs{Success: "https://app.test/registrations/9"})
	require.NoError(t, err)
	assert.Equal(t, "https://app.test/registrations/9", res.RedirectURL)
}

func TestComplete_Decline(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(o *order.Order, _ payment.Payload) (*payment.Outcome, error) {
		return &payment.Outcome{
			Approved: false,
			Provider: "stub",
			Card:     "visa 4242",
			Record:   order.Record{"status": "card_declined"},
			Amount:   o.Total,
		}, nil
	}}
	f := newFixture(t, stub)

	res, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	require.NoError(t, err)

	assert.False(t, res.Purchased)
	assert.Equal(t, "/orders/declined", res.RedirectURL)
	assert.Equal(t, order.StateDeclined, res.Order.State)
}

func TestComplete_AmountMismatch(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(o *order.Order, _ payment.Payload) (*payment.Outcome, error) {
		out := approvedOutcome("stub", o)
		out.Amount = o.Total - 1
		return out, nil
	}}
	f := newFixture(t, stub)

	_, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	var mismatch *payment.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)

	assert.Equal(t, order.StatePending, f.reload(t).State, "a mismatch never settles the order")
}

func TestComplete_ResolveErrorDeclines(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(*order.Order, payment.Payload) (*payment.Outcome, error) {
		return nil, errors.New("gateway timeout")
	}}
	f := newFixture(t, stub)

	res, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	require.NoError(t, err)

	assert.False(t, res.Purchased)
	assert.Equal(t, order.StateDeclined, res.Order.State)
	assert.Contains(t, res.Order.Payment["error"], "gateway timeout")
}

func TestComplete_MismatchFromResolveIsReRaised(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(o *order.Order, _ payment.Payload) (*payment.Outcome, error) {
		return nil, &payment.AmountMismatchError{Provider: "stub", Got: 1, Want: o.Total}
	}}
	f := newFixture(t, stub)

	_, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	var mismatch *payment.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)

	assert.Equal(t, order.StatePending, f.reload(t).State, "mismatches are raised, never soft-declined")
}

func TestComplete_ForeignTransactionIsReRaised(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(o *order.Order, _ payment.Payload) (*payment.Outcome, error) {
		return nil, &payment.OrderMismatchError{Provider: "stub", Reference: "txn_1", Got: "41", Want: o.ID}
	}}
	f := newFixture(t, stub)

	_, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	var foreign *payment.OrderMismatchError
	require.ErrorAs(t, err, &foreign)

	assert.Equal(t, order.StatePending, f.reload(t).State, "a transaction for another order settles nothing")
}

func TestComplete_StoresAuthorization(t *testing.T) {
	stub := &stubProvider{name: "stub", resolve: func(*order.Order, payment.Payload) (*payment.Outcome, error) {
		return &payment.Outcome{
			AuthorizedOnly: true,
			Provider:       "stub",
			Card:           "visa 4242",
			Record:         order.Record{"status": "authorized", "payment_token": "vault-1"},
		}, nil
	}}
	f := newFixture(t, stub)

	res, err := f.orch.Complete(context.Background(), buyerActor(), f.order.ID, "stub", nil, payment.ReturnURLs{})
	require.NoError(t, err)
	assert.False(t, res.Purchased)

	o := f.reload(t)
	assert.Equal(t, order.StatePending, o.State)
	assert.Equal(t, "vault-1", o.Payment["payment_token"])
	assert.Equal(t, "stub", o.PaymentProvider)
}

// --- Webhooks ---

func TestHandleNotification_ReplayDropped(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	f := newFixture(t, stub)

	res, err := f.orch.HandleNotification(context.Background(), "stub", "evt_1", f.order.ID, payment.Payload{"intent_id": "pi_1"})
	require.NoError(t, err)
	assert.True(t, res.Purchased)

	replay, err := f.orch.HandleNotification(context.Background(), "stub", "evt_1", f.order.ID, payment.Payload{"intent_id": "pi_1"})
	require.NoError(t, err)
	assert.True(t, replay.Purchased)
	assert.Equal(t, "Already processed.", replay.Message)
	assert.Equal(t, 1, stub.resolveCalls, "replays never reach the provider")
}

func TestHandleNotification_RetriesAfterFailedDelivery(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	f := newFixture(t, stub)

	// The first delivery records the event id but settlement dies on a
	// transient database error.
	f.orderRepo.failNextTx = errors.New("connection reset by peer")
	_, err := f.orch.HandleNotification(context.Background(), "stub", "evt_1", f.order.ID, payment.Payload{"intent_id": "pi_1"})
	require.Error(t, err)
	require.Equal(t, order.StatePending, f.reload(t).State, "nothing settled on the failed delivery")

	// The provider redelivers the same event id; the order must still
	// settle rather than being answered as already processed.
	res, err := f.orch.HandleNotification(context.Background(), "stub", "evt_1", f.order.ID, payment.Payload{"intent_id": "pi_1"})
	require.NoError(t, err)
	assert.True(t, res.Purchased)
	assert.Equal(t, order.StatePurchased, f.reload(t).State)
	assert.Equal(t, 2, stub.resolveCalls)

	// Once settled, further replays are dropped.
	replay, err := f.orch.HandleNotification(context.Background(), "stub", "evt_1", f.order.ID, payment.Payload{"intent_id": "pi_1"})
	require.NoError(t, err)
	assert.Equal(t, "Already processed.", replay.Message)
	assert.Equal(t, 2, stub.resolveCalls)
}

// --- Administrative settlement ---

func TestMarkAsPaid(t *testing.T) {
	f := newFixture(t, payment.Cheque("Mail it in."))

	_, err := f.orch.MarkAsPaid(context.Background(), buyerActor(), f.order.ID, "cheque",
		payment.Payload{"note": "cheque #1042"}, order.PurchaseOptions{})
	assert.ErrorIs(t, err, ErrUnauthorized, "buyers cannot mark their own orders paid")

	res, err := f.orch.MarkAsPaid(context.Background(), Actor{Admin: true}, f.order.ID, "cheque",
		payment.Payload{"note": "cheque #1042"}, order.PurchaseOptions{SkipBuyerValidation: true})
	require.NoError(t, err)
	assert.True(t, res.Purchased)
	assert.Equal(t, "cheque #1042", res.Order.Payment["note"])
}

func TestMarkAsPaid_ElectronicProviderRefused(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	_, err := f.orch.MarkAsPaid(context.Background(), Actor{Admin: true}, f.order.ID, "stub", nil, order.PurchaseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settles electronically")
}

// --- Capture ---

func TestCapture(t *testing.T) {
	captor := &stubCapturer{
		stubProvider: stubProvider{name: "delayed"},
		capture: func(o *order.Order) (*payment.Outcome, error) {
			return approvedOutcome("delayed", o), nil
		},
	}
	f := newFixture(t, captor)

	res, err := f.orch.Capture(context.Background(), Actor{Admin: true}, f.order.ID, "delayed")
	require.NoError(t, err)
	assert.True(t, res.Purchased)
	assert.Equal(t, order.StatePurchased, res.Order.State)
}

func TestCapture_ErrorDeclines(t *testing.T) {
	captor := &stubCapturer{
		stubProvider: stubProvider{name: "delayed"},
		capture: func(*order.Order) (*payment.Outcome, error) {
			return nil, errors.New("charge refused")
		},
	}
	f := newFixture(t, captor)

	res, err := f.orch.Capture(context.Background(), Actor{Admin: true}, f.order.ID, "delayed")
	require.NoError(t, err)
	assert.False(t, res.Purchased)
	assert.Equal(t, order.StateDeclined, res.Order.State)
	assert.Contains(t, res.Order.Payment["error"], "charge refused")
}

func TestCapture_ProviderWithoutCapture(t *testing.T) {
	f := newFixture(t, &stubProvider{name: "stub"})

	_, err := f.orch.Capture(context.Background(), Actor{Admin: true}, f.order.ID, "stub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support delayed capture")
}
