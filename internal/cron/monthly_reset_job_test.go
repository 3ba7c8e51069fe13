package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type fakeAccountSweep struct {
	accounts []models.Account
	cutoff   time.Time
	limit    int
	err      error
}

func (f *fakeAccountSweep) ListAccountsDueReset(_ context.Context, cutoff time.Time, limit int) ([]models.Account, error) {
	f.cutoff = cutoff
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts, nil
}

type fakeResetter struct {
	calls  []uuid.UUID
	period time.Time
	fail   map[uuid.UUID]error
}

func (f *fakeResetter) ApplyMonthlyReset(_ context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error) {
	f.calls = append(f.calls, userID)
	f.period = periodStart
	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	return &models.Transaction{ID: uuid.New(), UserID: userID}, nil
}

func newMonthlyResetJob(t *testing.T, sweep *fakeAccountSweep, resetter *fakeResetter, now time.Time) Job {
	t.Helper()
	job, err := NewMonthlyResetJob(MonthlyResetJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Accounts: sweep,
		Ledger:   resetter,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewMonthlyResetJob: %v", err)
	}
	return job
}

func TestMonthlyResetJobResetsDueAccounts(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	first := uuid.New()
	second := uuid.New()
	sweep := &fakeAccountSweep{accounts: []models.Account{
		{UserID: first},
		{UserID: second},
	}}
	resetter := &fakeResetter{}
	job := newMonthlyResetJob(t, sweep, resetter, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sweep.cutoff.Equal(now) {
		t.Fatalf("expected cutoff %s, got %s", now, sweep.cutoff)
	}
	if sweep.limit != defaultResetBatchLimit {
		t.Fatalf("expected default batch limit, got %d", sweep.limit)
	}
	if len(resetter.calls) != 2 {
		t.Fatalf("expected 2 resets, got %d", len(resetter.calls))
	}
	wantPeriod := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !resetter.period.Equal(wantPeriod) {
		t.Fatalf("expected period start %s, got %s", wantPeriod, resetter.period)
	}
}

func TestMonthlyResetJobContinuesPastAccountFailures(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	broken := uuid.New()
	healthy := uuid.New()
	sweep := &fakeAccountSweep{accounts: []models.Account{
		{UserID: broken},
		{UserID: healthy},
	}}
	resetter := &fakeResetter{fail: map[uuid.UUID]error{broken: errors.New("frozen")}}
	job := newMonthlyResetJob(t, sweep, resetter, now)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error from failed reset")
	}
	if len(resetter.calls) != 2 {
		t.Fatalf("expected the healthy account to still reset, got %d calls", len(resetter.calls))
	}
}

func TestMonthlyResetJobPropagatesListError(t *testing.T) {
	sweep := &fakeAccountSweep{err: errors.New("db down")}
	job := newMonthlyResetJob(t, sweep, &fakeResetter{}, time.Now())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
