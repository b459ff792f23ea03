package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQuoteSplit(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		balance int
		credits int
		cash    string
	}{
		{"no balance", "32.99", 0, 0, "32.99"},
		{"balance caps credits", "59.99", 2, 2, "39.99"},
		{"amount caps credits", "36.99", 50, 3, "6.99"},
		{"exact multiple", "30.00", 5, 3, "0.00"},
		{"below one credit", "9.99", 4, 0, "9.99"},
		{"negative balance", "20.00", -3, 0, "20.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tc.amount)
			split := QuoteSplit(amount, tc.balance)
			assert.Equal(t, tc.credits, split.CreditsUsed)
			assert.Equal(t, tc.cash, split.CashAmount.StringFixed(2))
			assert.True(t, split.CreditAmount.Add(split.CashAmount).Equal(amount))
			assert.True(t, split.CreditAmount.Equal(CreditAmountFor(split.CreditsUsed)))
			assert.False(t, split.CashAmount.IsNegative())
		})
	}
}
