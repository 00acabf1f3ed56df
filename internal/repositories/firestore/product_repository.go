package firestore

import (
	"context"
	"errors"

	domain "github.com/atelier-noir/api/internal/domain"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/repositories"
)

// ProductRepository reads the catalog products collection.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil)}, nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}
