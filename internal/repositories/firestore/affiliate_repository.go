package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/atelier-noir/api/internal/domain"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/repositories"
)

// AffiliateRepository resolves approved affiliates by referral code.
type AffiliateRepository struct {
	affiliates *pfirestore.Collection[affiliateDocument]
	now        func() time.Time
}

var _ repositories.AffiliateRepository = (*AffiliateRepository)(nil)

func NewAffiliateRepository(provider *pfirestore.Provider) (*AffiliateRepository, error) {
	if provider == nil {
		return nil, errors.New("affiliate repository requires firestore provider")
	}
	return &AffiliateRepository{
		affiliates: pfirestore.NewCollection[affiliateDocument](provider, affiliatesCollection, nil),
		now:        time.Now,
	}, nil
}

// FindApprovedByCode matches the upper-cased code against approved affiliates only.
func (r *AffiliateRepository) FindApprovedByCode(ctx context.Context, code string) (domain.Affiliate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Affiliate{}, pfirestore.WrapError("affiliates.find", status.Error(codes.NotFound, "referral code is empty"))
	}

	docs, err := r.affiliates.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("referralCode", "==", code).
			Where("status", "==", string(domain.AffiliateStatusApproved)).
			Limit(1)
	})
	if err != nil {
		return domain.Affiliate{}, err
	}
	if len(docs) == 0 {
		return domain.Affiliate{}, pfirestore.WrapError("affiliates.find", status.Errorf(codes.NotFound, "no approved affiliate for code %s", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *AffiliateRepository) IncrementClicks(ctx context.Context, affiliateID string) error {
	return r.affiliates.Update(ctx, affiliateID, []firestore.Update{
		{Path: "totalClicks", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: r.now().UTC()},
	})
}
