package settlement

import "github.com/shopspring/decimal"

const (
	// CreditValue is the currency value of one credit.
	CreditValue = 10
	// ReferralCredits is awarded to both sides of a converted referral.
	ReferralCredits = 2
)

var creditValue = decimal.NewFromInt(CreditValue)

// Split is a credit/cash breakdown of an amount.
type Split struct {
	Amount       decimal.Decimal `json:"amount"`
	CreditsUsed  int             `json:"credits_used"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	CashAmount   decimal.Decimal `json:"cash_amount"`
}

// QuoteSplit spends as many whole credits as fit inside amount without
// exceeding balance; the remainder is cash. It never produces negative cash.
func QuoteSplit(amount decimal.Decimal, balance int) Split {
	amount = amount.Round(2)
	credits := 0
	if amount.IsPositive() && balance > 0 {
		fit := amount.Div(creditValue).Floor().IntPart()
		if fit > int64(balance) {
			fit = int64(balance)
		}
		credits = int(fit)
	}
	creditAmount := CreditAmountFor(credits)
	return Split{
		Amount:       amount,
		CreditsUsed:  credits,
		CreditAmount: creditAmount,
		CashAmount:   amount.Sub(creditAmount),
	}
}

// CreditAmountFor is the currency value of n credits.
func CreditAmountFor(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n)).Mul(creditValue)
}
