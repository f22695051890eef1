package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(buyer_id, cart_id, email, purchase_state, purchased_at, payment, payment_provider, payment_card,
		 tax_rate, subtotal, tax, total, billing_address, shipping_address,
		 note, note_to_buyer, note_internal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	updateOrderSQL = `UPDATE orders SET
		buyer_id = $2, cart_id = $3, email = $4, purchase_state = $5, purchased_at = $6, payment = $7,
		payment_provider = $8, payment_card = $9, tax_rate = $10, subtotal = $11,
		tax = $12, total = $13, billing_address = $14, shipping_address = $15,
		note = $16, note_to_buyer = $17, note_internal = $18, updated_at = now()
		WHERE id = $1`

	selectOrderSQL = `SELECT id, buyer_id, cart_id, email, purchase_state, purchased_at, payment,
		payment_provider, payment_card, tax_rate, subtotal, tax, total,
		billing_address, shipping_address, note, note_to_buyer, note_internal,
		created_at, updated_at
		FROM orders WHERE id = $1`

	insertItemSQL = `INSERT INTO order_items
		(order_id, purchasable_kind, purchasable_id, title, price, quantity, tax_exempt, seller_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0))
		RETURNING id`

	selectItemsSQL = `SELECT id, purchasable_kind, purchasable_id, title, price,
		quantity, tax_exempt, COALESCE(seller_id, 0)
		FROM order_items WHERE order_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// aggregate spans the orders row and its order_items rows.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return createOrder(ctx, tx, o)
	})
}

// Get loads one order aggregate.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return getOrder(ctx, r.pool, id, selectOrderSQL)
}

// Save updates the order row and inserts any newly appended items.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return saveOrder(ctx, tx, o)
	})
}

// InTx runs fn inside one database transaction. Any error rolls everything
// back, leaving the stored order exactly as it was before the call.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

// orderTx is the transactional view handed to order.Service.
type orderTx struct {
	tx pgx.Tx
}

// GetForUpdate loads the aggregate with a row-level lock on the orders
// row, serializing concurrent settlements of the same order.
func (t *orderTx) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return getOrder(ctx, t.tx, id, selectOrderSQL+" FOR UPDATE")
}

func (t *orderTx) Save(ctx context.Context, o *order.Order) error {
	return saveOrder(ctx, t.tx, o)
}

func createOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	payment, billing, shipping, err := encodeJSONFields(o)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		nullableID(o.BuyerID), nullableID(o.CartID), o.Email, string(o.State), o.PurchasedAt, payment,
		nullableText(o.PaymentProvider), nullableText(o.PaymentCard),
		o.TaxRate, int64(o.Subtotal), int64(o.Tax), int64(o.Total),
		billing, shipping, o.Note, o.NoteToBuyer, o.NoteInternal,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	return insertNewItems(ctx, tx, o)
}

func saveOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	payment, billing, shipping, err := encodeJSONFields(o)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, updateOrderSQL,
		o.ID, nullableID(o.BuyerID), nullableID(o.CartID), o.Email, string(o.State), o.PurchasedAt, payment,
		nullableText(o.PaymentProvider), nullableText(o.PaymentCard),
		o.TaxRate, int64(o.Subtotal), int64(o.Tax), int64(o.Total),
		billing, shipping, o.Note, o.NoteToBuyer, o.NoteInternal,
	)
	if err != nil {
		return fmt.Errorf("updating order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	return insertNewItems(ctx, tx, o)
}

// insertNewItems persists appended items, the ones without an id yet.
// Existing items are immutable and never rewritten.
func insertNewItems(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for i := range o.Items {
		it := &o.Items[i]
		if it.ID != 0 {
			continue
		}
		err := tx.QueryRow(ctx, insertItemSQL,
			o.ID, it.Ref.Kind, it.Ref.ID, it.Title, int64(it.Price),
			it.Quantity, it.TaxExempt, it.SellerID,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("creating order item: %w", err)
		}
	}
	return nil
}

// querier is the subset of pgx shared by a pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, q querier, id int64, sql string) (*order.Order, error) {
	var (
		o        order.Order
		buyerID  *int64
		cartID   *int64
		state    string
		payment  []byte
		provider *string
		card     *string
		taxRate  *decimal.Decimal
		subtotal int64
		taxCents int64
		total    int64
		billing  []byte
		shipping []byte
	)

	err := q.QueryRow(ctx, sql, id).Scan(
		&o.ID, &buyerID, &cartID, &o.Email, &state, &o.PurchasedAt, &payment, &provider, &card,
		&taxRate, &subtotal, &taxCents, &total, &billing, &shipping,
		&o.Note, &o.NoteToBuyer, &o.NoteInternal, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("loading order %d: %w", id, err)
	}

	o.State = order.State(state)
	o.TaxRate = taxRate
	o.Subtotal = money.Cents(subtotal)
	o.Tax = money.Cents(taxCents)
	o.Total = money.Cents(total)
	if buyerID != nil {
		o.BuyerID = *buyerID
	}
	if cartID != nil {
		o.CartID = *cartID
	}
	if provider != nil {
		o.PaymentProvider = *provider
	}
	if card != nil {
		o.PaymentCard = *card
	}
	if err := decodeRecord(payment, &o.Payment); err != nil {
		return nil, fmt.Errorf("decoding payment record: %w", err)
	}
	if err := decodeAddress(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decoding billing address: %w", err)
	}
	if err := decodeAddress(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decoding shipping address: %w", err)
	}

	rows, err := q.Query(ctx, selectItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading items for order %d: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("loading items for order %d: %w", id, err)
	}

	return &o, nil
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it    order.Item
		price int64
	)
	err := row.Scan(&it.ID, &it.Ref.Kind, &it.Ref.ID, &it.Title, &price,
		&it.Quantity, &it.TaxExempt, &it.SellerID)
	if err != nil {
		return order.Item{}, err
	}
	it.Price = money.Cents(price)
	return it, nil
}

func encodeJSONFields(o *order.Order) (payment, billing, shipping []byte, err error) {
	if o.Payment != nil {
		if payment, err = json.Marshal(o.Payment); err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling payment record: %w", err)
		}
	}
	if o.BillingAddress != nil {
		if billing, err = json.Marshal(o.BillingAddress); err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling billing address: %w", err)
		}
	}
	if o.ShippingAddress != nil {
		if shipping, err = json.Marshal(o.ShippingAddress); err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling shipping address: %w", err)
		}
	}
	return payment, billing, shipping, nil
}

func decodeRecord(raw []byte, dst *order.Record) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func decodeAddress(raw []byte, dst **order.Address) error {
	if len(raw) == 0 {
		return nil
	}
	var addr order.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return err
	}
	*dst = &addr
	return nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
