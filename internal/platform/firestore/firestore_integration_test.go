//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/platform/firestore/firestoretest"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderAndCollectionIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	samples := pfirestore.NewCollection[sampleEntity](provider, "samples", nil)
	if err := samples.Create(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := samples.Create(ctx, "sample-1", sampleEntity{Name: "again"})
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := samples.Update(ctx, "sample-1", []firestore.Update{{Path: "count", Value: firestore.Increment(2)}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := samples.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "alpha" || got.Count != 3 {
		t.Fatalf("unexpected entity %#v", got)
	}

	items, err := samples.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", "alpha")
	})
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one queried entity, got %d (%v)", len(items), err)
	}
	if items[0].ID != "sample-1" || items[0].Data.Name != "alpha" {
		t.Fatalf("unexpected queried document %#v", items[0])
	}

	_, err = samples.Get(ctx, "missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	sentinel := errors.New("abort")
	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := samples.Doc(ctx, "sample-1")
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{{Path: "count", Value: 100}}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel from aborted transaction, got %v", err)
	}
	if got, _ := samples.Get(ctx, "sample-1"); got.Count != 3 {
		t.Fatalf("aborted transaction must not commit, count=%d", got.Count)
	}

	cancelled, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
