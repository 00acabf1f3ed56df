package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

const receiptContentType = "application/json"

// ReceiptArchiver stores a JSON receipt per settled order. Receipts are written once; a
// repeated archive for the same order is a no-op.
type ReceiptArchiver struct {
	writer ObjectWriter
	bucket string
	now    func() time.Time
}

// ArchiverOption customises the ReceiptArchiver.
type ArchiverOption func(*ReceiptArchiver)

// WithArchiverClock overrides the issue timestamp source.
func WithArchiverClock(clock func() time.Time) ArchiverOption {
	return func(a *ReceiptArchiver) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewReceiptArchiver constructs a ReceiptArchiver writing to bucket.
func NewReceiptArchiver(writer ObjectWriter, bucket string, opts ...ArchiverOption) (*ReceiptArchiver, error) {
	if writer == nil {
		return nil, errors.New("receipt archiver: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipt archiver: bucket is required")
	}
	a := &ReceiptArchiver{writer: writer, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Bucket returns the receipts bucket.
func (a *ReceiptArchiver) Bucket() string { return a.bucket }

// ArchiveReceipt writes the receipt for order and returns its gs:// location.
func (a *ReceiptArchiver) ArchiveReceipt(ctx context.Context, order domain.Order) (string, error) {
	object, err := BuildObjectPath(KindReceipt, PathParams{OrderID: order.ID})
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(newReceipt(order, a.now().UTC()))
	if err != nil {
		return "", fmt.Errorf("receipt archiver: marshal: %w", err)
	}

	err = a.writer.CreateObject(ctx, a.bucket, object, data, ObjectMeta{
		ContentType:  receiptContentType,
		CacheControl: "private, max-age=0",
		Metadata: map[string]string{
			"orderId":          order.ID,
			"gatewayPaymentId": order.Payment.GatewayPaymentID,
		},
	})
	if err != nil && !errors.Is(err, ErrObjectExists) {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// ReceiptNumber is the receipt reference shared with the payment gateway.
func ReceiptNumber(orderID string) string {
	return "rcpt_" + orderID
}

type receipt struct {
	ReceiptNumber    string         `json:"receiptNumber"`
	OrderID          string         `json:"orderId"`
	IssuedAt         time.Time      `json:"issuedAt"`
	SettledAt        *time.Time     `json:"settledAt,omitempty"`
	Status           string         `json:"status"`
	CustomerName     string         `json:"customerName"`
	CustomerEmail    string         `json:"customerEmail"`
	ShippingAddress  receiptAddress `json:"shippingAddress"`
	Items            []receiptLine  `json:"items"`
	Pricing          receiptPricing `json:"pricing"`
	GatewayOrderID   string         `json:"gatewayOrderId"`
	GatewayPaymentID string         `json:"gatewayPaymentId"`
	Demo             bool           `json:"demo,omitempty"`
}

type receiptPricing struct {
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type receiptAddress struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type receiptLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Size      string `json:"size,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

func newReceipt(order domain.Order, issuedAt time.Time) receipt {
	lines := make([]receiptLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, receiptLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Size,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	addr := order.ShippingAddress
	return receipt{
		ReceiptNumber: ReceiptNumber(order.ID),
		OrderID:       order.ID,
		IssuedAt:      issuedAt,
		SettledAt:     order.Payment.SettledAt,
		Status:        string(order.Status),
		CustomerName:  order.Customer.Name,
		CustomerEmail: order.Customer.Email,
		ShippingAddress: receiptAddress{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		Items:            lines,
		Pricing:          receiptPricing(order.Pricing),
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: order.Payment.GatewayPaymentID,
		Demo:             order.Payment.Demo,
	}
}
