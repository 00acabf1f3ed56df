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

// VisitRepository appends referral visits and marks conversions.
type VisitRepository struct {
	provider *pfirestore.Provider
	visits   *pfirestore.Collection[visitDocument]
}

var _ repositories.VisitRepository = (*VisitRepository)(nil)

func NewVisitRepository(provider *pfirestore.Provider) (*VisitRepository, error) {
	if provider == nil {
		return nil, errors.New("visit repository requires firestore provider")
	}
	return &VisitRepository{
		provider: provider,
		visits:   pfirestore.NewCollection[visitDocument](provider, visitsCollection, nil),
	}, nil
}

func (r *VisitRepository) Append(ctx context.Context, visit domain.ReferralVisit) error {
	return r.visits.Create(ctx, visit.ID, visitDocument{
		Code:        visit.Code,
		AffiliateID: visit.AffiliateID,
		LandingPath: visit.LandingPath,
		Referrer:    visit.Referrer,
		IPHash:      visit.IPHash,
		UserAgent:   visit.UserAgent,
		CapturedAt:  visit.CapturedAt.UTC(),
	})
}

// MarkLatestConverted needs the composite index (code ASC, converted ASC, capturedAt DESC).
func (r *VisitRepository) MarkLatestConverted(ctx context.Context, code string, conversion domain.VisitConversion) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}
	ref, err := r.visits.Ref(ctx)
	if err != nil {
		return false, err
	}
	query := ref.Where("code", "==", code).
		Where("converted", "==", false).
		OrderBy("capturedAt", firestore.Desc).
		Limit(1)

	var marked bool
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		marked = false
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		convertedAt := conversion.ConvertedAt.UTC()
		if err := tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "converted", Value: true},
			{Path: "orderId", Value: conversion.OrderID},
			{Path: "orderTotal", Value: conversion.OrderTotal},
			{Path: "commissionAmount", Value: conversion.CommissionAmount},
			{Path: "convertedAt", Value: convertedAt},
		}); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("referralVisits.mark_converted", err)
	}
	return marked, nil
}
