package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned when a create-only write finds the object already present.
var ErrObjectExists = errors.New("storage: object already exists")

// ObjectMeta describes the stored object.
type ObjectMeta struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectWriter stores an object only if it does not exist yet.
type ObjectWriter interface {
	CreateObject(ctx context.Context, bucket, object string, data []byte, meta ObjectMeta) error
}

// GCSWriter writes objects to Cloud Storage.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter constructs a GCSWriter.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// CreateObject uploads data with a DoesNotExist precondition.
func (w *GCSWriter) CreateObject(ctx context.Context, bucket, object string, data []byte, meta ObjectMeta) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := handle.NewWriter(ctx)
	writer.ContentType = meta.ContentType
	writer.CacheControl = meta.CacheControl
	writer.Metadata = meta.Metadata

	if _, err := writer.Write(data); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
