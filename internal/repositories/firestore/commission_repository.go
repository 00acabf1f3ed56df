package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/atelier-noir/api/internal/domain"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/repositories"
)

// commissionTxAttempts allows for contention on a popular affiliate's aggregate document.
const commissionTxAttempts = 8

// CommissionRepository writes commissions together with their affiliate aggregates.
type CommissionRepository struct {
	provider    *pfirestore.Provider
	commissions *pfirestore.Collection[commissionDocument]
	affiliates  *pfirestore.Collection[affiliateDocument]
}

var _ repositories.CommissionRepository = (*CommissionRepository)(nil)

func NewCommissionRepository(provider *pfirestore.Provider) (*CommissionRepository, error) {
	if provider == nil {
		return nil, errors.New("commission repository requires firestore provider")
	}
	return &CommissionRepository{
		provider:    provider,
		commissions: pfirestore.NewCollection[commissionDocument](provider, commissionsCollection, nil),
		affiliates:  pfirestore.NewCollection[affiliateDocument](provider, affiliatesCollection, nil),
	}, nil
}

func (r *CommissionRepository) Record(ctx context.Context, commission domain.Commission, totals domain.AffiliateTotals) error {
	if strings.TrimSpace(commission.ID) == "" || strings.TrimSpace(commission.AffiliateID) == "" {
		return errors.New("commission record: id and affiliate id are required")
	}
	doc := commissionDocument{
		AffiliateID:      commission.AffiliateID,
		ReferralCode:     commission.ReferralCode,
		OrderID:          commission.OrderID,
		OrderTotal:       commission.OrderTotal,
		CommissionRate:   commission.CommissionRate,
		CommissionAmount: commission.CommissionAmount,
		Status:           string(commission.Status),
		CreatedAt:        commission.CreatedAt.UTC(),
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		comRef, err := r.commissions.Doc(ctx, commission.ID)
		if err != nil {
			return err
		}
		affRef, err := r.affiliates.Doc(ctx, commission.AffiliateID)
		if err != nil {
			return err
		}

		if _, err := tx.Get(comRef); err == nil {
			return repositories.ErrCommissionExists
		} else if !pfirestore.IsNotFoundStatus(err) {
			return err
		}

		if err := tx.Create(comRef, doc); err != nil {
			return err
		}
		return tx.Update(affRef, []firestore.Update{
			{Path: "totalOrders", Value: firestore.Increment(totals.Orders)},
			{Path: "totalSales", Value: firestore.Increment(totals.Sales)},
			{Path: "totalCommission", Value: firestore.Increment(totals.Commission)},
			{Path: "pendingCommission", Value: firestore.Increment(totals.Commission)},
		})
	}, pfirestore.WithTxAttempts(commissionTxAttempts))
	if errors.Is(err, repositories.ErrCommissionExists) || pfirestore.IsAlreadyExistsStatus(err) {
		return repositories.ErrCommissionExists
	}
	return pfirestore.WrapError("commissions.record", err)
}
