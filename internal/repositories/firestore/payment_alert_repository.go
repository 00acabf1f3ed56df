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

const defaultAlertListLimit = 50

// PaymentAlertRepository stores settlement alerts for operator review.
type PaymentAlertRepository struct {
	alerts *pfirestore.Collection[paymentAlertDocument]
}

var _ repositories.PaymentAlertRepository = (*PaymentAlertRepository)(nil)

func NewPaymentAlertRepository(provider *pfirestore.Provider) (*PaymentAlertRepository, error) {
	if provider == nil {
		return nil, errors.New("payment alert repository requires firestore provider")
	}
	return &PaymentAlertRepository{alerts: pfirestore.NewCollection[paymentAlertDocument](provider, paymentAlertsCollection, nil)}, nil
}

func (r *PaymentAlertRepository) Record(ctx context.Context, alert domain.PaymentAlert) (domain.PaymentAlert, error) {
	if strings.TrimSpace(alert.ID) == "" {
		return domain.PaymentAlert{}, errors.New("payment alert record: id is required")
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	err := r.alerts.Create(ctx, alert.ID, paymentAlertDocument{
		Kind:             string(alert.Kind),
		GatewayOrderID:   alert.GatewayOrderID,
		GatewayPaymentID: alert.GatewayPaymentID,
		LocalOrderID:     alert.LocalOrderID,
		Detail:           alert.Detail,
		CreatedAt:        alert.CreatedAt,
	})
	if err != nil {
		return domain.PaymentAlert{}, err
	}
	return alert, nil
}

func (r *PaymentAlertRepository) ListRecent(ctx context.Context, limit int) ([]domain.PaymentAlert, error) {
	if limit <= 0 {
		limit = defaultAlertListLimit
	}
	docs, err := r.alerts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	alerts := make([]domain.PaymentAlert, 0, len(docs))
	for _, doc := range docs {
		alerts = append(alerts, doc.Data.toDomain(doc.ID))
	}
	return alerts, nil
}
