package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/code-and-effect/effective-orders-sub000/internal/purchasable"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
)

// Tx is the transactional view of the order store. GetForUpdate takes a
// row-level lock so two concurrent settlements of the same order serialize
// instead of racing between read and write.
type Tx interface {
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	Save(ctx context.Context, o *Order) error
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	Save(ctx context.Context, o *Order) error
	// InTx runs fn inside one database transaction; any error rolls the
	// whole transaction back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Mailer is the receipt collaborator. Dispatch is fire-and-forget after
// commit; failures never unwind a settled order.
type Mailer interface {
	ReceiptToBuyer(ctx context.Context, o *Order) error
	ReceiptToAdmin(ctx context.Context, o *Order) error
	ReceiptToSeller(ctx context.Context, o *Order, sellerID int64) error
	PaymentRequestToBuyer(ctx context.Context, o *Order) error
}

// Settlement is the normalized payment context stored with a purchase or
// decline: the opaque provider record, provider name and card descriptor.
type Settlement struct {
	Payment  Record
	Provider string
	Card     string
}

// PurchaseOptions tune a single Purchase call. The zero value is the
// buyer-facing default: full validation, receipts sent.
type PurchaseOptions struct {
	// SkipValidation persists without the validation gate. Totals already
	// present are kept as-is.
	SkipValidation bool
	// SkipBuyerValidation relaxes buyer-facing rules for admin flows.
	SkipBuyerValidation bool
	// SkipEmail suppresses receipt dispatch.
	SkipEmail bool
}

// Line pairs a live purchasable with a requested quantity when building an
// order.
type Line struct {
	Purchasable purchasable.Purchasable
	Quantity    int
}

// Service owns the order lifecycle: pending creation, the transactional
// purchase/decline/void operations, and post-commit receipt fan-out.
type Service struct {
	repo     Repository
	rates    tax.Calculator
	resolver purchasable.Resolver
	mailer   Mailer
	policy   Policy
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(repo Repository, rates tax.Calculator, resolver purchasable.Resolver, mailer Mailer, policy Policy) *Service {
	return &Service{
		repo:     repo,
		rates:    rates,
		resolver: resolver,
		mailer:   mailer,
		policy:   policy,
		now:      time.Now,
	}
}

// Policy exposes the installation rules the service validates against.
func (s *Service) Policy() Policy { return s.policy }

// Create builds a pending order for the buyer from purchasable lines,
// snapshotting each line and resolving the tax rate from the billing
// address, then persists it. cartID names the cart the lines came from; a
// successful purchase later destroys that cart. Zero means no cart.
func (s *Service) Create(ctx context.Context, buyer Buyer, lines []Line, cartID int64, skipBuyer bool) (*Order, error) {
	o := New(buyer)
	o.CartID = cartID
	for _, l := range lines {
		if err := o.AddPurchasable(l.Purchasable, l.Quantity); err != nil {
			return nil, err
		}
	}

	if err := s.savePending(ctx, o, skipBuyer, s.repo.Create); err != nil {
		return nil, err
	}
	return o, nil
}

// Update re-persists a pending order after pre-purchase edits (address
// change, added items), re-resolving the tax rate and revalidating.
func (s *Service) Update(ctx context.Context, o *Order, skipBuyer bool) error {
	if o.Purchased() {
		return ErrItemsFrozen
	}
	return s.savePending(ctx, o, skipBuyer, s.repo.Save)
}

func (s *Service) savePending(ctx context.Context, o *Order, skipBuyer bool, persist func(context.Context, *Order) error) error {
	if o.BillingAddress != nil {
		o.ResolveTaxRate(s.rates.Rate(ctx, o.BillingAddress.Jurisdiction()))
	} else {
		o.ResolveTaxRate(s.rates.Rate(ctx, tax.Jurisdiction{}))
	}

	if err := o.Validate(s.policy, skipBuyer); err != nil {
		return err
	}

	if o.State == StateAbandoned {
		o.State = StatePending
	}
	if err := persist(ctx, o); err != nil {
		return errors.Wrap(err, "save order")
	}
	return nil
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// Purchase settles the order as purchased, exactly once. A replayed call
// against an already-purchased order commits nothing and returns false; a
// first successful call stores the settlement and, after commit, notifies
// each item's purchasable best-effort and dispatches receipts.
//
// Only the state mutation happens inside the row-locked transaction;
// provider network I/O must complete before calling this, and item hooks
// run after it.
func (s *Service) Purchase(ctx context.Context, id int64, st Settlement, opts PurchaseOptions) (bool, error) {
	var settled *Order
	changed := false

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		// Totals missing on a skip-validation path are computed once,
		// while the order is still mutable.
		if opts.SkipValidation && o.Total == 0 && o.Subtotal == 0 {
			if err := o.Recalculate(); err != nil {
				return err
			}
		}

		changed, err = o.markPurchased(st.Payment, st.Provider, st.Card, s.now())
		if err != nil || !changed {
			return err
		}

		if !opts.SkipValidation {
			if err := o.Validate(s.policy, opts.SkipBuyerValidation); err != nil {
				return err
			}
		}

		if err := tx.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save purchased order")
		}

		settled = o
		return nil
	})
	if err != nil || !changed {
		return false, err
	}

	// Item hooks and receipts are best-effort and run after commit; a slow
	// catalog callback never stretches the row lock.
	s.notifyItems(ctx, settled, true)
	if !opts.SkipEmail {
		s.sendReceipts(ctx, settled)
	}
	return true, nil
}

// Decline settles the order as declined. Declining a purchased order is a
// conflict; re-declining is an idempotent no-op returning false.
func (s *Service) Decline(ctx context.Context, id int64, st Settlement, skipValidation bool) (bool, error) {
	changed := false

	var declined *Order
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		changed, err = o.markDeclined(st.Payment, st.Provider, st.Card)
		if err != nil || !changed {
			return err
		}

		if !skipValidation {
			if err := o.Validate(s.policy, true); err != nil {
				return err
			}
		}

		if err := tx.Save(ctx, o); err != nil {
			return errors.Wrap(err, "save declined order")
		}

		declined = o
		return nil
	})
	if err != nil || !changed {
		return false, err
	}

	s.notifyItems(ctx, declined, false)
	return true, nil
}

// Void administratively reverses a pending or purchased order.
func (s *Service) Void(ctx context.Context, id int64) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := o.markVoided(); err != nil {
			return err
		}
		return tx.Save(ctx, o)
	})
}

// Unvoid restores a voided order to its prior state.
func (s *Service) Unvoid(ctx context.Context, id int64) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := o.markUnvoided(); err != nil {
			return err
		}
		return tx.Save(ctx, o)
	})
}

// RequestPayment dispatches a pay-this-order email for deferred providers.
func (s *Service) RequestPayment(ctx context.Context, o *Order) {
	if err := s.mailer.PaymentRequestToBuyer(ctx, o); err != nil {
		zctx.From(ctx).Warn("payment request email failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

// notifyItems invokes the purchased/declined hook on each item's live
// purchasable. Failures are collected in the log and never propagate: one
// misbehaving catalog item cannot block the financial outcome.
func (s *Service) notifyItems(ctx context.Context, o *Order, purchased bool) {
	lg := zctx.From(ctx)
	for _, it := range o.Items {
		p, err := s.resolver.Resolve(ctx, it.Ref)
		if err != nil {
			lg.Warn("purchasable resolve failed during notification",
				zap.String("kind", it.Ref.Kind), zap.Int64("id", it.Ref.ID), zap.Error(err))
			continue
		}

		if purchased {
			err = p.Purchased(ctx, o.ID, it.ID, it.Quantity)
		} else {
			err = p.Declined(ctx, o.ID, it.ID)
		}
		if err != nil {
			lg.Warn("purchasable notification failed",
				zap.String("kind", it.Ref.Kind), zap.Int64("id", it.Ref.ID),
				zap.Bool("purchased", purchased), zap.Error(err))
		}
	}
}

// sendReceipts fans out buyer, admin and per-seller receipts concurrently.
// Mail runs after the purchase committed; an undeliverable receipt is
// logged, never re-raised.
func (s *Service) sendReceipts(ctx context.Context, o *Order) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.mailer.ReceiptToBuyer(gctx, o) })
	g.Go(func() error { return s.mailer.ReceiptToAdmin(gctx, o) })

	sellers := map[int64]struct{}{}
	for _, it := range o.Items {
		if it.SellerID == 0 {
			continue
		}
		if _, ok := sellers[it.SellerID]; ok {
			continue
		}
		sellers[it.SellerID] = struct{}{}
		seller := it.SellerID
		g.Go(func() error { return s.mailer.ReceiptToSeller(gctx, o, seller) })
	}

	if err := g.Wait(); err != nil {
		zctx.From(ctx).Warn("receipt dispatch failed",
			zap.Int64("order_id", o.ID), zap.Error(err))
	}
}
