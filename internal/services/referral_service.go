package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/repositories"
)

const (
	defaultAttributionWindow = 30 * 24 * time.Hour
	maxReferralCodeLength    = 64

	// Effect names reported to the EffectObserver.
	EffectClickCounter = "click_counter"
	EffectVisitLog     = "visit_log"
)

// ReferralServiceDeps wires the dependencies required by the referral service.
type ReferralServiceDeps struct {
	Affiliates repositories.AffiliateRepository
	Visits     repositories.VisitRepository
	Window     time.Duration
	Clock      func() time.Time
	IDGen      func() string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type referralService struct {
	affiliates repositories.AffiliateRepository
	visits     repositories.VisitRepository
	window     time.Duration
	now        func() time.Time
	newID      func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewReferralService constructs a ReferralService validating required dependencies.
func NewReferralService(deps ReferralServiceDeps) (ReferralService, error) {
	if deps.Affiliates == nil {
		return nil, errors.New("referral service: affiliate repository is required")
	}
	if deps.Visits == nil {
		return nil, errors.New("referral service: visit repository is required")
	}

	window := deps.Window
	if window <= 0 {
		window = defaultAttributionWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &referralService{
		affiliates: deps.Affiliates,
		visits:     deps.Visits,
		window:     window,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Capture never returns an error for unusable codes; it decides CaptureIgnored instead.
func (s *referralService) Capture(ctx context.Context, req CaptureRequest) (CaptureDecision, error) {
	now := s.now()
	if req.Existing.ActiveAt(now) {
		s.logger(ctx, "referral.capture_kept_existing", map[string]any{
			"existingCode": req.Existing.Code,
			"newCode":      req.Code,
		})
		return CaptureDecision{Action: CaptureKeepExisting, Attribution: req.Existing}, nil
	}

	code := normaliseReferralCode(req.Code)
	if code == "" {
		s.logger(ctx, "referral.capture_ignored", map[string]any{"reason": "malformed_code"})
		return CaptureDecision{Action: CaptureIgnored}, nil
	}

	affiliate, err := s.affiliates.FindApprovedByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			s.logger(ctx, "referral.capture_ignored", map[string]any{"code": code, "reason": "unknown_code"})
		} else {
			s.logger(ctx, "referral.capture_lookup_warning", map[string]any{"code": code, "error": err.Error()})
		}
		return CaptureDecision{Action: CaptureIgnored}, nil
	}

	attribution := &domain.ReferralAttribution{
		Code:        code,
		AffiliateID: affiliate.ID,
		CapturedAt:  now,
		ExpiresAt:   now.Add(s.window),
	}
	s.logger(ctx, "referral.captured", map[string]any{"code": code, "affiliateId": affiliate.ID})

	return CaptureDecision{
		Action:      CaptureStore,
		Attribution: attribution,
		Visit: &VisitRecord{
			Code:        code,
			AffiliateID: affiliate.ID,
			LandingPath: req.LandingPath,
			Referrer:    req.Referrer,
			ClientIP:    req.ClientIP,
			UserAgent:   req.UserAgent,
			CapturedAt:  now,
		},
	}, nil
}

func (s *referralService) RecordClick(ctx context.Context, affiliateID string) error {
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return errors.New("referral: affiliate id is required")
	}
	return s.affiliates.IncrementClicks(ctx, affiliateID)
}

func (s *referralService) RecordVisit(ctx context.Context, visit VisitRecord) error {
	code := normaliseReferralCode(visit.Code)
	if code == "" {
		return errors.New("referral: visit code is required")
	}
	capturedAt := visit.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}
	return s.visits.Append(ctx, domain.ReferralVisit{
		ID:          s.newID(),
		Code:        code,
		AffiliateID: visit.AffiliateID,
		LandingPath: visit.LandingPath,
		Referrer:    visit.Referrer,
		IPHash:      hashClientIP(visit.ClientIP),
		UserAgent:   visit.UserAgent,
		CapturedAt:  capturedAt.UTC(),
	})
}

// ReferralEffects builds the click and visit effects for a stored capture.
func ReferralEffects(svc ReferralService, decision CaptureDecision) []Effect {
	if svc == nil || decision.Action != CaptureStore || decision.Attribution == nil {
		return nil
	}
	affiliateID := decision.Attribution.AffiliateID
	effects := []Effect{{
		Name: EffectClickCounter,
		Run: func(ctx context.Context) error {
			return svc.RecordClick(ctx, affiliateID)
		},
	}}
	if decision.Visit != nil {
		visit := *decision.Visit
		effects = append(effects, Effect{
			Name: EffectVisitLog,
			Run: func(ctx context.Context) error {
				return svc.RecordVisit(ctx, visit)
			},
		})
	}
	return effects
}

func normaliseReferralCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxReferralCodeLength {
		return ""
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ""
		}
	}
	return code
}

func hashClientIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
