package firestore

import (
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

const (
	productsCollection      = "products"
	ordersCollection        = "orders"
	affiliatesCollection    = "affiliates"
	commissionsCollection   = "commissions"
	visitsCollection        = "referralVisits"
	paymentAlertsCollection = "paymentAlerts"
)

type productDocument struct {
	Name      string   `firestore:"name"`
	Price     int64    `firestore:"price"`
	Inventory int64    `firestore:"inventory"`
	Images    []string `firestore:"images"`
	Active    bool     `firestore:"active"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		Price:     d.Price,
		Inventory: d.Inventory,
		Images:    append([]string(nil), d.Images...),
		Active:    d.Active,
	}
}

type customerDocument struct {
	UID   string `firestore:"uid,omitempty"`
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Size      string `firestore:"size,omitempty"`
	Name      string `firestore:"name"`
	Image     string `firestore:"image,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int64  `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

type pricingDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Shipping int64  `firestore:"shipping"`
	Tax      int64  `firestore:"tax"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type paymentDocument struct {
	GatewayOrderID   string     `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	Demo             bool       `firestore:"demo"`
	SettledAt        *time.Time `firestore:"settledAt,omitempty"`
}

type orderDocument struct {
	Customer        customerDocument    `firestore:"customer"`
	Items           []orderItemDocument `firestore:"items"`
	Pricing         pricingDocument     `firestore:"pricing"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Status          string              `firestore:"status"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	Payment         paymentDocument     `firestore:"payment"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument(item))
	}
	return orderDocument{
		Customer:        customerDocument(order.Customer),
		Items:           items,
		Pricing:         pricingDocument(order.Pricing),
		ShippingAddress: addressDocument(order.ShippingAddress),
		BillingAddress:  addressDocument(order.BillingAddress),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Payment:         paymentDocument(order.Payment),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem(item))
	}
	return domain.Order{
		ID:              id,
		Customer:        domain.Customer(d.Customer),
		Items:           items,
		Pricing:         domain.Pricing(d.Pricing),
		ShippingAddress: domain.Address(d.ShippingAddress),
		BillingAddress:  domain.Address(d.BillingAddress),
		Status:          domain.OrderStatus(d.Status),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		Payment:         domain.PaymentRef(d.Payment),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

type affiliateDocument struct {
	ReferralCode      string  `firestore:"referralCode"`
	Status            string  `firestore:"status"`
	CommissionRate    float64 `firestore:"commissionRate"`
	TotalClicks       int64   `firestore:"totalClicks"`
	TotalOrders       int64   `firestore:"totalOrders"`
	TotalSales        int64   `firestore:"totalSales"`
	TotalCommission   int64   `firestore:"totalCommission"`
	PendingCommission int64   `firestore:"pendingCommission"`
	PaidCommission    int64   `firestore:"paidCommission"`
}

func (d affiliateDocument) toDomain(id string) domain.Affiliate {
	return domain.Affiliate{
		ID:                id,
		ReferralCode:      d.ReferralCode,
		Status:            domain.AffiliateStatus(d.Status),
		CommissionRate:    d.CommissionRate,
		TotalClicks:       d.TotalClicks,
		TotalOrders:       d.TotalOrders,
		TotalSales:        d.TotalSales,
		TotalCommission:   d.TotalCommission,
		PendingCommission: d.PendingCommission,
		PaidCommission:    d.PaidCommission,
	}
}

type commissionDocument struct {
	AffiliateID      string    `firestore:"affiliateId"`
	ReferralCode     string    `firestore:"referralCode"`
	OrderID          string    `firestore:"orderId"`
	OrderTotal       int64     `firestore:"orderTotal"`
	CommissionRate   float64   `firestore:"commissionRate"`
	CommissionAmount int64     `firestore:"commissionAmount"`
	Status           string    `firestore:"status"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

type visitDocument struct {
	Code             string     `firestore:"code"`
	AffiliateID      string     `firestore:"affiliateId"`
	LandingPath      string     `firestore:"landingPath"`
	Referrer         string     `firestore:"referrer,omitempty"`
	IPHash           string     `firestore:"ipHash,omitempty"`
	UserAgent        string     `firestore:"userAgent,omitempty"`
	CapturedAt       time.Time  `firestore:"capturedAt"`
	Converted        bool       `firestore:"converted"`
	OrderID          string     `firestore:"orderId,omitempty"`
	OrderTotal       int64      `firestore:"orderTotal,omitempty"`
	CommissionAmount int64      `firestore:"commissionAmount,omitempty"`
	ConvertedAt      *time.Time `firestore:"convertedAt,omitempty"`
}

type paymentAlertDocument struct {
	Kind             string    `firestore:"kind"`
	GatewayOrderID   string    `firestore:"gatewayOrderId"`
	GatewayPaymentID string    `firestore:"gatewayPaymentId"`
	LocalOrderID     string    `firestore:"localOrderId,omitempty"`
	Detail           string    `firestore:"detail,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

func (d paymentAlertDocument) toDomain(id string) domain.PaymentAlert {
	return domain.PaymentAlert{
		ID:               id,
		Kind:             domain.PaymentAlertKind(d.Kind),
		GatewayOrderID:   d.GatewayOrderID,
		GatewayPaymentID: d.GatewayPaymentID,
		LocalOrderID:     d.LocalOrderID,
		Detail:           d.Detail,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}
