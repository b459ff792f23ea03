package purchases

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creditshare-backend/pkg/db/models"
	"github.com/angelmondragon/creditshare-backend/pkg/pagination"
)

// PurchaseDTO is a purchase as returned to its owner.
type PurchaseDTO struct {
	ID                    uuid.UUID       `json:"id"`
	ProductID             uuid.UUID       `json:"product_id"`
	ProductName           string          `json:"product_name"`
	Amount                decimal.Decimal `json:"amount"`
	CreditsUsed           int             `json:"credits_used"`
	CreditAmount          decimal.Decimal `json:"credit_amount"`
	CashAmount            decimal.Decimal `json:"cash_amount"`
	IsFirstPurchase       bool            `json:"is_first_purchase"`
	ReferralCreditAwarded bool            `json:"referral_credit_awarded"`
	CreatedAt             time.Time       `json:"created_at"`
}

func FromModel(p *models.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:                    p.ID,
		ProductID:             p.ProductID,
		ProductName:           p.ProductName,
		Amount:                p.Amount.Round(2),
		CreditsUsed:           p.CreditsUsed,
		CreditAmount:          p.CreditAmount.Round(2),
		CashAmount:            p.CashAmount.Round(2),
		IsFirstPurchase:       p.IsFirstPurchase,
		ReferralCreditAwarded: p.ReferralCreditAwarded,
		CreatedAt:             p.CreatedAt,
	}
}

func purchaseCursor(p *models.Purchase) pagination.Cursor {
	return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
}
