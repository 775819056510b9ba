package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentInput is a client's record of money sent against one of their invoices.
type PaymentInput struct {
	InvoiceID InvoiceID
	Amount    Money
	Date      Date
	// ClientID, when set, must own the invoice's booking.
	ClientID UserID
	// IdempotencyKey identifies the submission; generated when empty.
	IdempotencyKey string
}

// PaymentService persists payments and the refunds they trigger.
type PaymentService struct {
	Store  TxStore
	Clock  func() Date
	Logger *zap.Logger
}

func (s *PaymentService) today() Date {
	if s.Clock == nil {
		return Today()
	}
	return s.Clock()
}

// RecordPayment appends the payment and, when it overpays the invoice, the
// refund for the excess, in one transaction. Net paid is replayed from the
// stored history inside that transaction.
func (s *PaymentService) RecordPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var result PaymentResult
	err := s.Store.WithTx(ctx, func(tx Store) error {
		exists, err := tx.TransferExists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}

		invoice, err := tx.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if in.ClientID != 0 {
			booking, err := tx.GetBooking(ctx, invoice.BookingID)
			if err != nil {
				return err
			}
			if booking.ClientID != in.ClientID {
				return ErrInvoiceNotFound
			}
		}

		history, err := tx.Transfers(ctx, invoice.ID)
		if err != nil {
			return fmt.Errorf("failed to load transfers: %w", err)
		}
		// Clients pay in the currency they were invoiced in.
		amount := in.Amount.In(invoice.Amount.Currency)
		result, err = RecordPayment(invoice, history, amount, in.Date, s.today())
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result.Payment.IdempotencyKey = key
		result.Payment.CreatedAt = now
		if err := tx.AppendTransfer(ctx, &result.Payment); err != nil {
			return err
		}
		if result.Refund != nil {
			result.Refund.IdempotencyKey = key + ":refund"
			result.Refund.CreatedAt = now
			if err := tx.AppendTransfer(ctx, result.Refund); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	logger(s.Logger).Info("payment recorded",
		zap.Int64("invoice_id", int64(in.InvoiceID)),
		zap.Stringer("amount", in.Amount),
		zap.String("outcome", string(result.Outcome)),
		zap.Stringer("net_paid", result.NetPaid),
		zap.Bool("refunded", result.Refund != nil))
	return result, nil
}

// InvoiceStatement is an invoice with its replayed ledger position.
type InvoiceStatement struct {
	Invoice     Invoice
	Transfers   []Transfer
	NetPaid     Money
	Outstanding Money
	Status      PaymentStatus
}

// Statement loads an invoice and derives its position from the full history.
func (s *PaymentService) Statement(ctx context.Context, id InvoiceID) (InvoiceStatement, error) {
	invoice, err := s.Store.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceStatement{}, err
	}
	history, err := s.Store.Transfers(ctx, id)
	if err != nil {
		return InvoiceStatement{}, err
	}
	return InvoiceStatement{
		Invoice:     invoice,
		Transfers:   history,
		NetPaid:     NetPaid(invoice, history),
		Outstanding: Outstanding(invoice, history),
		Status:      StatusOf(invoice, history),
	}, nil
}
