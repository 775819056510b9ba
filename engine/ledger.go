/*
ledger.go - Invoice ledger and payment reconciliation

PURPOSE:
  Every payment from a client and every refund back to them is a Transfer
  against an Invoice. The amount a client has paid is never stored: it is
  replayed from the full transfer history each time it's needed.

CRITICAL INVARIANTS:
  1. DERIVED: NetPaid = sum(payments) - sum(refunds), from the history only
  2. POSITIVE: No transfer with a zero or negative amount is ever emitted
  3. SETTLED: After an overpayment is recorded, NetPaid == Invoice.Amount
  4. SINGLE REFUND: Each RecordPayment / Reprice call emits at most one refund

PAYMENT STATUS:
  Unpaid ──▶ PartiallyPaid ──▶ FullyPaid

  Payments only move status forward. The only way back from FullyPaid is a
  reprice that raises the amount due; a reprice down refunds the surplus,
  which leaves the invoice FullyPaid.

OVERPAYMENT:
  A payment taking NetPaid above the amount due is recorded in full and
  followed immediately by a refund transfer for the excess. This is not a
  choice offered to the client.

SEE ALSO:
  - payment.go: Persists RecordPayment results in one unit of work
  - booking.go: Calls Reprice when a booking is edited
  - account.go: Client-wide totals
*/
package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// INVOICE & TRANSFER
// =============================================================================

type Invoice struct {
	ID        InvoiceID
	BookingID BookingID
	Reference string
	IssueDate Date
	DueDate   Date
	Amount    Money
	Refund    bool
}

// InvoiceReference is the stable, displayed reference "{client}-{booking}".
func InvoiceReference(clientID UserID, bookingID BookingID) string {
	return fmt.Sprintf("%d-%d", clientID, bookingID)
}

type Transfer struct {
	ID        TransferID
	InvoiceID InvoiceID
	Amount    Money
	Date      Date
	// Refund marks money returned to the client; otherwise money received.
	Refund bool
	// IdempotencyKey rejects a replayed submission of the same transfer.
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// NET PAID
// =============================================================================

// NetPaid sums the non-refund transfers for inv and subtracts the refunds.
// Transfers belonging to other invoices are ignored.
func NetPaid(inv Invoice, transfers []Transfer) Money {
	paid := ZeroMoney(inv.Amount.Currency)
	for _, t := range transfers {
		if t.InvoiceID != inv.ID {
			continue
		}
		if t.Refund {
			paid = paid.Sub(t.Amount)
		} else {
			paid = paid.Add(t.Amount)
		}
	}
	return paid
}

func IsPaid(inv Invoice, transfers []Transfer) bool {
	return NetPaid(inv, transfers).GreaterOrEqual(inv.Amount)
}

type PaymentStatus string

const (
	StatusUnpaid        PaymentStatus = "unpaid"
	StatusPartiallyPaid PaymentStatus = "partially_paid"
	StatusFullyPaid     PaymentStatus = "fully_paid"
)

func StatusOf(inv Invoice, transfers []Transfer) PaymentStatus {
	net := NetPaid(inv, transfers)
	switch {
	case net.GreaterOrEqual(inv.Amount):
		return StatusFullyPaid
	case net.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

// Outstanding is what the client still owes; never negative.
func Outstanding(inv Invoice, transfers []Transfer) Money {
	owed := inv.Amount.Sub(NetPaid(inv, transfers))
	if owed.IsNegative() {
		return owed.Zero()
	}
	return owed
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

type PaymentOutcome string

const (
	OutcomeUnderpaid   PaymentOutcome = "underpaid"
	OutcomeExactlyPaid PaymentOutcome = "exactly_paid"
	OutcomeOverpaid    PaymentOutcome = "overpaid"
)

type PaymentResult struct {
	Payment Transfer
	Outcome PaymentOutcome
	// Remaining is set when Outcome is underpaid.
	Remaining Money
	// Excess is set when Outcome is overpaid; Refund then carries it back.
	Excess Money
	Refund *Transfer
	// NetPaid after the payment and any refund.
	NetPaid Money
}

// Transfers lists the transfers to persist, payment first.
func (r PaymentResult) Transfers() []Transfer {
	if r.Refund == nil {
		return []Transfer{r.Payment}
	}
	return []Transfer{r.Payment, *r.Refund}
}

// RecordPayment classifies a new payment of amount against inv, given the
// invoice's full transfer history. It does not persist anything.
func RecordPayment(inv Invoice, history []Transfer, amount Money, paidOn, today Date) (PaymentResult, error) {
	if !amount.IsPositive() {
		return PaymentResult{}, ErrNonPositiveAmount
	}

	payment := Transfer{InvoiceID: inv.ID, Amount: amount, Date: paidOn}
	after := append(append(make([]Transfer, 0, len(history)+1), history...), payment)
	net := NetPaid(inv, after)

	result := PaymentResult{
		Payment:   payment,
		Remaining: inv.Amount.Zero(),
		Excess:    inv.Amount.Zero(),
		NetPaid:   net,
	}

	switch {
	case net.LessThan(inv.Amount):
		result.Outcome = OutcomeUnderpaid
		result.Remaining = inv.Amount.Sub(net)
	case net.Equal(inv.Amount):
		result.Outcome = OutcomeExactlyPaid
	default:
		excess := net.Sub(inv.Amount)
		refund, err := newRefund(inv.ID, excess, today)
		if err != nil {
			return PaymentResult{}, err
		}
		result.Outcome = OutcomeOverpaid
		result.Excess = excess
		result.Refund = &refund
		result.NetPaid = inv.Amount
	}
	return result, nil
}

// =============================================================================
// REPRICE
// =============================================================================

type PriceChange string

const (
	PriceUnchanged PriceChange = "unchanged"
	PriceIncreased PriceChange = "increased"
	PriceDecreased PriceChange = "decreased"
)

type RepriceResult struct {
	OldAmount Money
	NewAmount Money
	Change    PriceChange
	// Delta is |NewAmount - OldAmount|.
	Delta   Money
	NetPaid Money
	// Refund is set when a decrease leaves the client overpaid.
	Refund *Transfer
}

// Reprice compares the old and new invoice amounts after a booking edit.
// An increase is only reported; the client pays it through the normal
// payment flow. A decrease below what the client has paid refunds the
// surplus.
func Reprice(invoiceID InvoiceID, oldAmount, newAmount, netPaid Money, today Date) (RepriceResult, error) {
	result := RepriceResult{
		OldAmount: oldAmount,
		NewAmount: newAmount,
		Delta:     newAmount.Zero(),
		NetPaid:   netPaid,
	}

	switch {
	case newAmount.Equal(oldAmount):
		result.Change = PriceUnchanged
	case newAmount.GreaterThan(oldAmount):
		result.Change = PriceIncreased
		result.Delta = newAmount.Sub(oldAmount)
	default:
		result.Change = PriceDecreased
		result.Delta = oldAmount.Sub(newAmount)
		if netPaid.GreaterThan(newAmount) {
			refund, err := newRefund(invoiceID, netPaid.Sub(newAmount), today)
			if err != nil {
				return RepriceResult{}, err
			}
			result.Refund = &refund
			result.NetPaid = newAmount
		}
	}
	return result, nil
}

func newRefund(invoiceID InvoiceID, amount Money, on Date) (Transfer, error) {
	if !amount.IsPositive() {
		return Transfer{}, ErrNonPositiveAmount
	}
	return Transfer{InvoiceID: invoiceID, Amount: amount, Date: on, Refund: true}, nil
}
