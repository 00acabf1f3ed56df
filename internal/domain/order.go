package domain

import "time"

// OrderStatus tracks the fulfilment lifecycle of an order.
type OrderStatus string

// PaymentStatus tracks whether the gateway has captured funds for an order.
type PaymentStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOnHold marks a paid order whose stock could not be committed.
	OrderStatusOnHold OrderStatus = "on_hold"

	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Product is the catalog view consumed by checkout. Prices are whole units of the store currency.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Inventory int64
	Images    []string
	Active    bool
}

// PrimaryImage returns the first catalog image, if any.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Customer captures the contact details supplied at checkout.
type Customer struct {
	UID   string
	Name  string
	Email string
	Phone string
}

// Address is a postal address attached to an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// IsZero reports whether no address fields are populated.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OrderItem is a frozen quote of a catalog product at order time.
type OrderItem struct {
	ProductID string
	Size      string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int64
	LineTotal int64
}

// Pricing holds the server-computed money block of an order.
type Pricing struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
	Currency string
}

// Balanced reports whether total equals subtotal + shipping + tax.
func (p Pricing) Balanced() bool {
	return p.Total == p.Subtotal+p.Shipping+p.Tax
}

// PaymentRef records the gateway identifiers associated with an order.
type PaymentRef struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Demo             bool
	SettledAt        *time.Time
}

// Order is the persisted checkout record.
type Order struct {
	ID              string
	Customer        Customer
	Items           []OrderItem
	Pricing         Pricing
	ShippingAddress Address
	BillingAddress  Address
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Payment         PaymentRef
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsPaid reports whether the order has been settled.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// StockLine is one relative inventory change applied during settlement.
type StockLine struct {
	ProductID string
	Quantity  int64
}

// StockLines aggregates order items per product.
func (o Order) StockLines() []StockLine {
	index := make(map[string]int, len(o.Items))
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if pos, ok := index[item.ProductID]; ok {
			lines[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// PaymentAlertKind classifies settlement events that need operator attention.
type PaymentAlertKind string

const (
	PaymentAlertUnattributable PaymentAlertKind = "unattributable_payment"
	PaymentAlertStockShortfall PaymentAlertKind = "stock_shortfall"
	PaymentAlertDuplicate      PaymentAlertKind = "duplicate_payment"
)

// PaymentAlert is an operational record of a verified payment that could not be settled cleanly.
type PaymentAlert struct {
	ID               string
	Kind             PaymentAlertKind
	GatewayOrderID   string
	GatewayPaymentID string
	LocalOrderID     string
	Detail           string
	CreatedAt        time.Time
}
