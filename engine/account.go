package engine

// AccountSummary is a client's position across all of their invoices.
type AccountSummary struct {
	Invoiced Money
	Paid     Money
	Refunded Money
	// NetPaid is Paid - Refunded.
	NetPaid Money
	// Owed is Invoiced - NetPaid. Negative means the client is in credit.
	Owed Money
}

// Summarize totals invoices and the transfers against them. Transfers for
// invoices not in the list are ignored.
func Summarize(invoices []Invoice, transfers []Transfer, currency string) AccountSummary {
	zero := ZeroMoney(currency)
	sum := AccountSummary{Invoiced: zero, Paid: zero, Refunded: zero}

	known := make(map[InvoiceID]bool, len(invoices))
	for _, inv := range invoices {
		known[inv.ID] = true
		sum.Invoiced = sum.Invoiced.Add(inv.Amount)
	}
	for _, t := range transfers {
		if !known[t.InvoiceID] {
			continue
		}
		if t.Refund {
			sum.Refunded = sum.Refunded.Add(t.Amount)
		} else {
			sum.Paid = sum.Paid.Add(t.Amount)
		}
	}

	sum.NetPaid = sum.Paid.Sub(sum.Refunded)
	sum.Owed = sum.Invoiced.Sub(sum.NetPaid)
	return sum
}
