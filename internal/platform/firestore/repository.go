package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decoder hydrates a typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder narrows a collection query before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Document pairs a decoded entity with its document id.
type Document[T any] struct {
	ID   string
	Data T
}

// Collection binds a typed decoder to one Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection constructs a Collection. A nil decoder uses DataTo.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) *Collection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name), decode: decode}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the collection reference on the shared client.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: document id is required"))
	}
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Doc(id), nil
}

// Get loads and decodes the document with id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// Create writes payload under id, failing with a conflict if it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, payload any) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, payload); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Update applies field updates to an existing document.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Update(ctx, updates); err != nil {
		return WrapError(c.op("update"), err)
	}
	return nil
}

// Query runs build against the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	ref, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := ref.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		item, err := c.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, Document[T]{ID: snap.Ref.ID, Data: item})
	}
}

// Decode applies the collection decoder to snap.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (T, error) {
	item, err := c.decode(snap)
	if err != nil {
		return item, fmt.Errorf("%s: decode %s: %w", c.op("decode"), snap.Ref.ID, err)
	}
	return item, nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}

// StructDecoder decodes with Firestore's native struct mapping.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
