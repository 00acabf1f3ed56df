package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

type fakeWriter struct {
	objects map[string][]byte
	meta    map[string]ObjectMeta
	err     error
}

func (f *fakeWriter) CreateObject(_ context.Context, bucket, object string, data []byte, meta ObjectMeta) error {
	if f.err != nil {
		return f.err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
		f.meta = make(map[string]ObjectMeta)
	}
	key := bucket + "/" + object
	if _, exists := f.objects[key]; exists {
		return ErrObjectExists
	}
	f.objects[key] = append([]byte(nil), data...)
	f.meta[key] = meta
	return nil
}

func settledOrder() domain.Order {
	settledAt := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:       "ord_1",
		Status:   domain.OrderStatusProcessing,
		Customer: domain.Customer{Name: "Asha Rao", Email: "asha@example.com"},
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Silk Scarf", UnitPrice: 1000, Quantity: 2, LineTotal: 2000},
		},
		Pricing: domain.Pricing{Subtotal: 2000, Shipping: 500, Tax: 360, Total: 2860, Currency: "INR"},
		Payment: domain.PaymentRef{GatewayOrderID: "pi_123", GatewayPaymentID: "pay_456", SettledAt: &settledAt},
	}
}

func TestReceiptArchiverWritesOnce(t *testing.T) {
	writer := &fakeWriter{}
	issued := time.Date(2025, 3, 14, 12, 0, 5, 0, time.UTC)
	archiver, err := NewReceiptArchiver(writer, "receipts-bucket", WithArchiverClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}

	location, err := archiver.ArchiveReceipt(context.Background(), settledOrder())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if location != "gs://receipts-bucket/receipts/orders/ord_1/receipt.json" {
		t.Fatalf("unexpected location %q", location)
	}

	key := "receipts-bucket/receipts/orders/ord_1/receipt.json"
	var doc map[string]any
	if err := json.Unmarshal(writer.objects[key], &doc); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if doc["receiptNumber"] != "rcpt_ord_1" || doc["gatewayPaymentId"] != "pay_456" {
		t.Fatalf("unexpected receipt %v", doc)
	}
	pricing, _ := doc["pricing"].(map[string]any)
	if pricing["total"] != float64(2860) {
		t.Fatalf("unexpected pricing %v", pricing)
	}
	if writer.meta[key].ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", writer.meta[key].ContentType)
	}

	again, err := archiver.ArchiveReceipt(context.Background(), settledOrder())
	if err != nil || again != location {
		t.Fatalf("expected repeated archive to succeed, got %q %v", again, err)
	}
}

func TestReceiptArchiverSurfacesWriteFailure(t *testing.T) {
	archiver, err := NewReceiptArchiver(&fakeWriter{err: errors.New("forbidden")}, "bucket")
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	if _, err := archiver.ArchiveReceipt(context.Background(), settledOrder()); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNewReceiptArchiverValidates(t *testing.T) {
	if _, err := NewReceiptArchiver(nil, "bucket"); err == nil {
		t.Fatalf("expected error for nil writer")
	}
	if _, err := NewReceiptArchiver(&fakeWriter{}, " "); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}

func testSigningKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestReceiptLinkerSignsDownloadURL(t *testing.T) {
	// V4 signing measures expiry against the wall clock.
	now := time.Now().UTC()
	linker, err := NewReceiptLinker(nil, "receipts-bucket",
		WithSigningKey("signer@example.iam.gserviceaccount.com", testSigningKey(t)),
		WithLinkClock(func() time.Time { return now }),
		WithLinkExpiry(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new linker: %v", err)
	}

	link, err := linker.ReceiptURL(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("receipt url: %v", err)
	}
	if !link.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", link.ExpiresAt)
	}
	parsed, err := url.Parse(link.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(parsed.Path, "receipts/orders/ord_1/receipt.json") {
		t.Fatalf("unexpected path %s", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("X-Goog-Signature") == "" || query.Get("X-Goog-Expires") == "" {
		t.Fatalf("unexpected query %v", query)
	}
	if query.Get("response-content-type") != "application/json" {
		t.Fatalf("expected response content type, got %v", query)
	}
}

func TestReceiptLinkerRejectsLongExpiry(t *testing.T) {
	_, err := NewReceiptLinker(nil, "bucket",
		WithSigningKey("signer@example.iam.gserviceaccount.com", []byte("unused")),
		WithLinkExpiry(time.Hour),
	)
	if !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}
}

func TestReceiptLinkerRequiresSigner(t *testing.T) {
	if _, err := NewReceiptLinker(nil, "bucket"); err == nil {
		t.Fatalf("expected error without client or key")
	}
}
