package idempotency

import (
	"context"
	"slices"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps records in a Firestore collection so every instance shares them.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore constructs a FirestoreStore on the shared provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, *firestore.Client, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), client, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, client, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if err == nil {
			var stored storedRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			record := stored.record()
			if !record.expired(now) {
				switch {
				case record.Fingerprint != fingerprint:
					return ErrFingerprintMismatch
				case record.Status == StatusCompleted:
					result = Reservation{State: ReservationStateCompleted, Record: record}
				default:
					result = Reservation{State: ReservationStatePending, Record: record}
				}
				return nil
			}
		}
		record := pendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, toStored(record))
	})
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, client, err := s.doc(ctx, key)
	if err != nil {
		return err
	}

	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		record := pendingRecord(key, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var stored storedRecord
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = stored.CreatedAt
		case !pfirestore.IsNotFoundStatus(err):
			return err
		}
		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = storableHeaders(resp.Headers)
		record.ResponseBody = slices.Clone(resp.Body)
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, toStored(record))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	ref, _, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFoundStatus(err) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Delete(doc.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err == nil {
			removed++
		}
	}
	return removed, nil
}

type storedRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func toStored(r Record) storedRecord {
	return storedRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r storedRecord) record() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
