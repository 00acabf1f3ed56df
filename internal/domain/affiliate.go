package domain

import "time"

// AffiliateStatus is the approval state of an affiliate account.
type AffiliateStatus string

const (
	AffiliateStatusPending   AffiliateStatus = "pending"
	AffiliateStatusApproved  AffiliateStatus = "approved"
	AffiliateStatusSuspended AffiliateStatus = "suspended"
)

// Affiliate is a referral partner. Aggregates are only ever changed through increments.
type Affiliate struct {
	ID                string
	ReferralCode      string
	Status            AffiliateStatus
	CommissionRate    float64
	TotalClicks       int64
	TotalOrders       int64
	TotalSales        int64
	TotalCommission   int64
	PendingCommission int64
	PaidCommission    int64
}

// ReferralAttribution is the first-touch record held by the browsing client.
type ReferralAttribution struct {
	Code        string    `json:"code"`
	AffiliateID string    `json:"affiliateId"`
	CapturedAt  time.Time `json:"capturedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ActiveAt reports whether the attribution is populated and not yet expired at t.
func (a *ReferralAttribution) ActiveAt(t time.Time) bool {
	if a == nil || a.Code == "" || a.AffiliateID == "" {
		return false
	}
	return t.Before(a.ExpiresAt)
}

// CommissionStatus is the payout state of a commission.
type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
)

// Commission is created at most once per attributed order.
type Commission struct {
	ID               string
	AffiliateID      string
	ReferralCode     string
	OrderID          string
	OrderTotal       int64
	CommissionRate   float64
	CommissionAmount int64
	Status           CommissionStatus
	CreatedAt        time.Time
}

// AffiliateTotals is the increment set applied to an affiliate when an order is attributed.
type AffiliateTotals struct {
	Orders     int64
	Sales      int64
	Commission int64
}

// ReferralVisit logs one captured referral navigation.
type ReferralVisit struct {
	ID               string
	Code             string
	AffiliateID      string
	LandingPath      string
	Referrer         string
	IPHash           string
	UserAgent        string
	CapturedAt       time.Time
	Converted        bool
	OrderID          string
	OrderTotal       int64
	CommissionAmount int64
	ConvertedAt      *time.Time
}

// VisitConversion carries the fields written when a visit converts to an order.
type VisitConversion struct {
	OrderID          string
	OrderTotal       int64
	CommissionAmount int64
	ConvertedAt      time.Time
}
