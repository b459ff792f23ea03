package enums

// ReferralStatus only ever moves pending -> converted.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralConverted ReferralStatus = "converted"
)

func (s ReferralStatus) IsValid() bool {
	return s == ReferralPending || s == ReferralConverted
}

func ParseReferralStatus(value string) (ReferralStatus, error) {
	return parse("referral status", []ReferralStatus{ReferralPending, ReferralConverted}, value)
}
