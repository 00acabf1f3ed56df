package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultLinkExpiry = 5 * time.Minute
	maxLinkExpiry     = 15 * time.Minute
)

var errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")

// SignedLink is a time-limited retrieval URL.
type SignedLink struct {
	URL       string
	ExpiresAt time.Time
}

type signFunc func(object string, opts *gcs.SignedURLOptions) (string, error)

// ReceiptLinker issues V4 signed download URLs for archived receipts.
type ReceiptLinker struct {
	bucket string
	expiry time.Duration
	sign   signFunc
	now    func() time.Time
}

// LinkerOption customises the ReceiptLinker.
type LinkerOption func(*ReceiptLinker) error

// WithLinkExpiry sets the lifetime of issued URLs. It may not exceed fifteen minutes.
func WithLinkExpiry(expiry time.Duration) LinkerOption {
	return func(l *ReceiptLinker) error {
		if expiry > maxLinkExpiry {
			return errExpiryTooLong
		}
		if expiry > 0 {
			l.expiry = expiry
		}
		return nil
	}
}

// WithLinkClock overrides the time source.
func WithLinkClock(clock func() time.Time) LinkerOption {
	return func(l *ReceiptLinker) error {
		if clock != nil {
			l.now = clock
		}
		return nil
	}
}

// WithSigningKey signs with an explicit service account key instead of the client credentials.
func WithSigningKey(accessID string, privateKeyPEM []byte) LinkerOption {
	return func(l *ReceiptLinker) error {
		accessID = strings.TrimSpace(accessID)
		if accessID == "" || len(privateKeyPEM) == 0 {
			return errors.New("storage: access id and private key are required")
		}
		bucket := l.bucket
		l.sign = func(object string, opts *gcs.SignedURLOptions) (string, error) {
			opts.GoogleAccessID = accessID
			opts.PrivateKey = privateKeyPEM
			return gcs.SignedURL(bucket, object, opts)
		}
		return nil
	}
}

// NewReceiptLinker constructs a ReceiptLinker. With a non-nil client, signing uses the
// client's credentials (including IAM signBlob on Cloud Run).
func NewReceiptLinker(client *gcs.Client, bucket string, opts ...LinkerOption) (*ReceiptLinker, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipt linker: bucket is required")
	}
	l := &ReceiptLinker{bucket: bucket, expiry: defaultLinkExpiry, now: time.Now}
	if client != nil {
		handle := client.Bucket(bucket)
		l.sign = handle.SignedURL
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.sign == nil {
		return nil, errors.New("receipt linker: client or signing key is required")
	}
	return l, nil
}

// ReceiptURL signs a GET URL for the receipt of orderID.
func (l *ReceiptLinker) ReceiptURL(ctx context.Context, orderID string) (SignedLink, error) {
	if err := ctx.Err(); err != nil {
		return SignedLink{}, err
	}
	object, err := BuildObjectPath(KindReceipt, PathParams{OrderID: orderID})
	if err != nil {
		return SignedLink{}, err
	}
	expiresAt := l.now().UTC().Add(l.expiry)
	url, err := l.sign(object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expiresAt,
		QueryParameters: map[string][]string{
			"response-content-type": {receiptContentType},
		},
	})
	if err != nil {
		return SignedLink{}, fmt.Errorf("storage: sign receipt url: %w", err)
	}
	return SignedLink{URL: url, ExpiresAt: expiresAt}, nil
}
