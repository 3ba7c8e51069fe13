package referrals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type fakeReferralRepo struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*models.Referral
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{referrals: map[uuid.UUID]*models.Referral{}}
}

func (f *fakeReferralRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeReferralRepo) Create(_ context.Context, referral *models.Referral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *referral
	copied.CreatedAt = time.Now()
	f.referrals[referral.ID] = &copied
	return nil
}

func (f *fakeReferralRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	referral, ok := f.referrals[id]
	if !ok {
		return nil, nil
	}
	copied := *referral
	return &copied, nil
}

func (f *fakeReferralRepo) FindOpenForReferred(_ context.Context, referredID uuid.UUID) (*models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, referral := range f.referrals {
		if referral.ReferredID == referredID &&
			(referral.Status == enums.ReferralStatusPending || referral.Status == enums.ReferralStatusActive) {
			copied := *referral
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeReferralRepo) FindActiveForReferred(_ context.Context, referredID uuid.UUID, now time.Time) (*models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, referral := range f.referrals {
		if referral.ReferredID == referredID &&
			referral.Status == enums.ReferralStatusActive &&
			referral.ExpiresAt.After(now) {
			copied := *referral
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeReferralRepo) ListByReferrer(_ context.Context, referrerID uuid.UUID) ([]models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Referral
	for _, referral := range f.referrals {
		if referral.ReferrerID == referrerID {
			out = append(out, *referral)
		}
	}
	return out, nil
}

func (f *fakeReferralRepo) UpdateStatus(_ context.Context, id uuid.UUID, expected, next enums.ReferralStatus, revokedAt *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	referral, ok := f.referrals[id]
	if !ok || referral.Status != expected {
		return false, nil
	}
	referral.Status = next
	if revokedAt != nil {
		referral.RevokedAt = revokedAt
	}
	return true, nil
}

func (f *fakeReferralRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired int64
	for _, referral := range f.referrals {
		if (referral.Status == enums.ReferralStatusPending || referral.Status == enums.ReferralStatusActive) &&
			!referral.ExpiresAt.After(now) {
			referral.Status = enums.ReferralStatusExpired
			expired++
		}
	}
	return expired, nil
}

type fakeReferralRunner struct{}

func (fakeReferralRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func referralConfig() config.ReferralConfig {
	return config.ReferralConfig{
		DefaultRate: "0.05",
		MaxRate:     "0.15",
		TTL:         90 * 24 * time.Hour,
	}
}

func newReferralService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo, fakeReferralRunner{}, referralConfig(), logger.New(logger.Options{ServiceName: "referrals-test"}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateUsesDefaultRate(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())

	referral, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !referral.CommissionRate.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected default rate 0.05, got %s", referral.CommissionRate)
	}
	if referral.Status != enums.ReferralStatusPending {
		t.Fatalf("expected pending status, got %s", referral.Status)
	}
	if !referral.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %s", referral.ExpiresAt)
	}
}

func TestCreateRejectsSelfReferral(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())
	userID := uuid.New()

	if _, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: userID,
		ReferredID: userID,
	}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateRejectsRateAboveMax(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())

	if _, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: uuid.New(),
		Rate:       decimal.RequireFromString("0.2"),
	}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateRejectsSecondOpenReferral(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())
	referredID := uuid.New()

	if _, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: referredID,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: referredID,
	}); !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestActivateAndRevokeTransitions(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())
	referredID := uuid.New()

	referral, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: referredID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pending referrals do not earn commissions yet.
	active, err := svc.ActiveForReferred(context.Background(), referredID)
	if err != nil {
		t.Fatalf("ActiveForReferred: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active referral while pending")
	}

	activated, err := svc.Activate(context.Background(), referral.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.Status != enums.ReferralStatusActive {
		t.Fatalf("expected active, got %s", activated.Status)
	}

	// Activating twice conflicts.
	if _, err := svc.Activate(context.Background(), referral.ID); !errors.IsCode(err, errors.CodeConflict) {
		t.Fatalf("expected CONFLICT on double activate, got %v", err)
	}

	active, err = svc.ActiveForReferred(context.Background(), referredID)
	if err != nil {
		t.Fatalf("ActiveForReferred: %v", err)
	}
	if active == nil || active.ID != referral.ID {
		t.Fatalf("expected the activated referral, got %+v", active)
	}

	revoked, err := svc.Revoke(context.Background(), referral.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.Status != enums.ReferralStatusRevoked || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked with timestamp, got %+v", revoked)
	}

	active, err = svc.ActiveForReferred(context.Background(), referredID)
	if err != nil {
		t.Fatalf("ActiveForReferred: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active referral after revoke")
	}
}

func TestRevokePendingReferral(t *testing.T) {
	svc := newReferralService(t, newFakeReferralRepo())

	referral, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	revoked, err := svc.Revoke(context.Background(), referral.ID)
	if err != nil {
		t.Fatalf("Revoke pending: %v", err)
	}
	if revoked.Status != enums.ReferralStatusRevoked {
		t.Fatalf("expected revoked, got %s", revoked.Status)
	}
}

func TestExpireDueSweep(t *testing.T) {
	repo := newFakeReferralRepo()
	svc := newReferralService(t, repo)

	referral, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: uuid.New(),
		ReferredID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Activate(context.Background(), referral.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Force the expiry into the past.
	repo.mu.Lock()
	repo.referrals[referral.ID].ExpiresAt = time.Now().Add(-time.Hour)
	repo.mu.Unlock()

	expired, err := svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired referral, got %d", expired)
	}

	expired, err = svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("second ExpireDue: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected sweep replay to expire nothing, got %d", expired)
	}
}
