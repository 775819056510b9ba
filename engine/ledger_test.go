package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impala/lesson-engine/engine"
)

func gbp(s string) engine.Money { return engine.MustMoney(s) }

func invoice100() engine.Invoice {
	return engine.Invoice{ID: 7, BookingID: 3, Reference: "2-3", Amount: gbp("100")}
}

func payment(inv engine.Invoice, amount string) engine.Transfer {
	return engine.Transfer{InvoiceID: inv.ID, Amount: gbp(amount), Date: engine.NewDate(2022, time.September, 1)}
}

func refund(inv engine.Invoice, amount string) engine.Transfer {
	t := payment(inv, amount)
	t.Refund = true
	return t
}

var paymentDay = engine.NewDate(2022, time.September, 10)
var today = engine.NewDate(2022, time.September, 12)

// =============================================================================
// NET PAID
// =============================================================================

func TestNetPaid_PaymentsMinusRefunds(t *testing.T) {
	inv := invoice100()
	history := []engine.Transfer{payment(inv, "20"), payment(inv, "30"), refund(inv, "5.50")}

	assert.Equal(t, "44.50", engine.NetPaid(inv, history).String())
}

func TestNetPaid_IgnoresOtherInvoices(t *testing.T) {
	inv := invoice100()
	other := engine.Invoice{ID: 8, Amount: gbp("50")}
	history := []engine.Transfer{payment(inv, "20"), payment(other, "50"), refund(other, "10")}

	assert.Equal(t, "20.00", engine.NetPaid(inv, history).String())
}

func TestNetPaid_Idempotent(t *testing.T) {
	inv := invoice100()
	history := []engine.Transfer{payment(inv, "20"), payment(inv, "30")}
	snapshot := append([]engine.Transfer{}, history...)

	first := engine.NetPaid(inv, history)
	second := engine.NetPaid(inv, history)

	assert.True(t, first.Equal(second))
	assert.Equal(t, snapshot, history)
}

func TestNetPaid_ExactCents(t *testing.T) {
	inv := invoice100()
	var history []engine.Transfer
	for i := 0; i < 10; i++ {
		history = append(history, payment(inv, "0.10"))
	}
	assert.True(t, engine.NetPaid(inv, history).Equal(gbp("1.00")))
}

func TestStatusOf(t *testing.T) {
	inv := invoice100()

	assert.Equal(t, engine.StatusUnpaid, engine.StatusOf(inv, nil))
	assert.Equal(t, engine.StatusPartiallyPaid, engine.StatusOf(inv, []engine.Transfer{payment(inv, "0.01")}))
	assert.Equal(t, engine.StatusFullyPaid, engine.StatusOf(inv, []engine.Transfer{payment(inv, "100")}))
	assert.False(t, engine.IsPaid(inv, []engine.Transfer{payment(inv, "99.99")}))
	assert.True(t, engine.IsPaid(inv, []engine.Transfer{payment(inv, "100")}))
}

func TestOutstanding_NeverNegative(t *testing.T) {
	inv := invoice100()
	assert.Equal(t, "60.00", engine.Outstanding(inv, []engine.Transfer{payment(inv, "40")}).String())
	assert.True(t, engine.Outstanding(inv, []engine.Transfer{payment(inv, "140")}).IsZero())
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

func TestRecordPayment_Overpaid_RefundsExcess(t *testing.T) {
	// GIVEN: invoice of 100 with 20 + 30 already paid
	inv := invoice100()
	history := []engine.Transfer{payment(inv, "20"), payment(inv, "30")}
	require.Equal(t, "50.00", engine.NetPaid(inv, history).String())

	// WHEN: the client pays another 60
	result, err := engine.RecordPayment(inv, history, gbp("60"), paymentDay, today)
	require.NoError(t, err)

	// THEN: the 60 is recorded, 10 is refunded today, invoice is settled
	assert.Equal(t, engine.OutcomeOverpaid, result.Outcome)
	assert.Equal(t, "10.00", result.Excess.String())
	assert.Equal(t, "60.00", result.Payment.Amount.String())
	assert.Equal(t, paymentDay, result.Payment.Date)
	assert.False(t, result.Payment.Refund)

	require.NotNil(t, result.Refund)
	assert.True(t, result.Refund.Refund)
	assert.Equal(t, "10.00", result.Refund.Amount.String())
	assert.Equal(t, today, result.Refund.Date)
	assert.Equal(t, inv.ID, result.Refund.InvoiceID)

	after := append(history, result.Transfers()...)
	assert.True(t, engine.NetPaid(inv, after).Equal(inv.Amount))
	assert.True(t, result.NetPaid.Equal(inv.Amount))
	assert.True(t, engine.IsPaid(inv, after))
}

func TestRecordPayment_Underpaid_ReportsRemaining(t *testing.T) {
	inv := invoice100()
	result, err := engine.RecordPayment(inv, []engine.Transfer{payment(inv, "20")}, gbp("30"), paymentDay, today)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeUnderpaid, result.Outcome)
	assert.Equal(t, "50.00", result.Remaining.String())
	assert.Nil(t, result.Refund)
	assert.Len(t, result.Transfers(), 1)
}

func TestRecordPayment_ExactlyPaid(t *testing.T) {
	inv := invoice100()
	result, err := engine.RecordPayment(inv, []engine.Transfer{payment(inv, "20"), payment(inv, "30")}, gbp("50"), paymentDay, today)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeExactlyPaid, result.Outcome)
	assert.True(t, result.Remaining.IsZero())
	assert.Nil(t, result.Refund)
}

func TestRecordPayment_AlreadyPaid_WholePaymentRefunded(t *testing.T) {
	inv := invoice100()
	result, err := engine.RecordPayment(inv, []engine.Transfer{payment(inv, "100")}, gbp("25"), paymentDay, today)
	require.NoError(t, err)

	assert.Equal(t, engine.OutcomeOverpaid, result.Outcome)
	require.NotNil(t, result.Refund)
	assert.Equal(t, "25.00", result.Refund.Amount.String())
}

func TestRecordPayment_RejectsNonPositive(t *testing.T) {
	inv := invoice100()
	for _, amount := range []string{"0", "-5"} {
		_, err := engine.RecordPayment(inv, nil, gbp(amount), paymentDay, today)
		assert.ErrorIs(t, err, engine.ErrNonPositiveAmount, amount)
	}
}

func TestRecordPayment_DoesNotMutateHistory(t *testing.T) {
	inv := invoice100()
	history := make([]engine.Transfer, 1, 4)
	history[0] = payment(inv, "20")

	_, err := engine.RecordPayment(inv, history, gbp("90"), paymentDay, today)
	require.NoError(t, err)

	assert.Len(t, history, 1)
	assert.Zero(t, history[:2][1].InvoiceID, "backing array must not be written")
}

// =============================================================================
// REPRICE
// =============================================================================

func TestReprice_Decreased_RefundsOverpayment(t *testing.T) {
	result, err := engine.Reprice(7, gbp("100"), gbp("60"), gbp("100"), today)
	require.NoError(t, err)

	assert.Equal(t, engine.PriceDecreased, result.Change)
	assert.Equal(t, "40.00", result.Delta.String())
	require.NotNil(t, result.Refund)
	assert.Equal(t, "40.00", result.Refund.Amount.String())
	assert.True(t, result.Refund.Refund)
	assert.Equal(t, engine.InvoiceID(7), result.Refund.InvoiceID)
	assert.Equal(t, today, result.Refund.Date)
	assert.Equal(t, "60.00", result.NetPaid.String())
}

func TestReprice_Decreased_NotOverpaid_NoRefund(t *testing.T) {
	result, err := engine.Reprice(7, gbp("100"), gbp("60"), gbp("50"), today)
	require.NoError(t, err)

	assert.Equal(t, engine.PriceDecreased, result.Change)
	assert.Equal(t, "40.00", result.Delta.String())
	assert.Nil(t, result.Refund)
	assert.Equal(t, "50.00", result.NetPaid.String())
}

func TestReprice_Decreased_PaidExactlyNewAmount_NoRefund(t *testing.T) {
	result, err := engine.Reprice(7, gbp("100"), gbp("60"), gbp("60"), today)
	require.NoError(t, err)
	assert.Nil(t, result.Refund)
}

func TestReprice_Increased_NoCharge(t *testing.T) {
	result, err := engine.Reprice(7, gbp("60"), gbp("100"), gbp("60"), today)
	require.NoError(t, err)

	assert.Equal(t, engine.PriceIncreased, result.Change)
	assert.Equal(t, "40.00", result.Delta.String())
	assert.Nil(t, result.Refund)
}

func TestReprice_Unchanged(t *testing.T) {
	result, err := engine.Reprice(7, gbp("60"), gbp("60.00"), gbp("10"), today)
	require.NoError(t, err)

	assert.Equal(t, engine.PriceUnchanged, result.Change)
	assert.True(t, result.Delta.IsZero())
	assert.Nil(t, result.Refund)
}

func TestInvoiceReference(t *testing.T) {
	assert.Equal(t, "12-345", engine.InvoiceReference(12, 345))
}
