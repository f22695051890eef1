// Package mailer implements the receipt collaborator. The shipped
// implementation writes structured log lines; installations swap in a real
// delivery backend behind the same interface.
package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/code-and-effect/effective-orders-sub000/internal/order"
)

// Log is an order.Mailer that records every dispatch to the logger.
type Log struct {
	lg         *zap.Logger
	adminEmail string
}

var _ order.Mailer = (*Log)(nil)

// NewLog creates a logging mailer addressed to the given admin mailbox.
func NewLog(lg *zap.Logger, adminEmail string) *Log {
	return &Log{lg: lg.Named("mailer"), adminEmail: adminEmail}
}

func (m *Log) ReceiptToBuyer(_ context.Context, o *order.Order) error {
	m.lg.Info("receipt to buyer",
		zap.Int64("order_id", o.ID),
		zap.String("to", o.Email),
		zap.String("total", o.Total.String()))
	return nil
}

func (m *Log) ReceiptToAdmin(_ context.Context, o *order.Order) error {
	m.lg.Info("receipt to admin",
		zap.Int64("order_id", o.ID),
		zap.String("to", m.adminEmail),
		zap.String("total", o.Total.String()))
	return nil
}

func (m *Log) ReceiptToSeller(_ context.Context, o *order.Order, sellerID int64) error {
	m.lg.Info("receipt to seller",
		zap.Int64("order_id", o.ID),
		zap.Int64("seller_id", sellerID))
	return nil
}

func (m *Log) PaymentRequestToBuyer(_ context.Context, o *order.Order) error {
	m.lg.Info("payment request to buyer",
		zap.Int64("order_id", o.ID),
		zap.String("to", o.Email),
		zap.String("total", o.Total.String()))
	return nil
}
