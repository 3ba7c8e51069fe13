package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(&models.Account{}, &models.Transaction{}))
	return conn
}

func seedAccount(t *testing.T, conn *gorm.DB, balance int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	periodStart := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&models.Account{
		UserID:           userID,
		Balance:          balance,
		Tier:             enums.AccountTierFree,
		MonthlyAllowance: 100,
		PeriodStart:      periodStart,
		PeriodEnd:        periodStart.AddDate(0, 1, 0),
	}).Error)
	return userID
}

func TestRepoDebitBalanceConditional(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 50)

	balance, applied, err := repo.DebitBalance(ctx, userID, 20)
	require.NoError(t, err)
	require.True(t, applied)
	require.EqualValues(t, 30, balance)

	// A debit larger than the balance must not match any row.
	_, applied, err = repo.DebitBalance(ctx, userID, 31)
	require.NoError(t, err)
	require.False(t, applied)

	balance, applied, err = repo.DebitBalance(ctx, userID, 30)
	require.NoError(t, err)
	require.True(t, applied)
	require.EqualValues(t, 0, balance)
}

func TestRepoDebitBalanceSkipsFrozenAccount(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 50)

	require.NoError(t, repo.Freeze(ctx, userID, time.Now().UTC()))

	_, applied, err := repo.DebitBalance(ctx, userID, 10)
	require.NoError(t, err)
	require.False(t, applied)

	_, applied, err = repo.CreditBalance(ctx, userID, 10)
	require.NoError(t, err)
	require.False(t, applied)
}

func TestRepoGrantUniquePerPeriod(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 100)
	periodStart := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)

	grant := &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       100,
		Kind:         enums.TransactionKindSubscriptionGrant,
		BalanceAfter: 100,
		PeriodStart:  &periodStart,
	}
	require.NoError(t, repo.CreateTransaction(ctx, grant))

	duplicate := &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       100,
		Kind:         enums.TransactionKindSubscriptionGrant,
		BalanceAfter: 100,
		PeriodStart:  &periodStart,
	}
	err := repo.CreateTransaction(ctx, duplicate)
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err, ""))

	// Grants for other periods and plain transactions are unaffected.
	nextPeriod := periodStart.AddDate(0, 1, 0)
	require.NoError(t, repo.CreateTransaction(ctx, &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       100,
		Kind:         enums.TransactionKindSubscriptionGrant,
		BalanceAfter: 100,
		PeriodStart:  &nextPeriod,
	}))
	require.NoError(t, repo.CreateTransaction(ctx, &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       -10,
		Kind:         enums.TransactionKindUsage,
		BalanceAfter: 90,
	}))
	require.NoError(t, repo.CreateTransaction(ctx, &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       -10,
		Kind:         enums.TransactionKindUsage,
		BalanceAfter: 80,
	}))

	found, err := repo.FindGrantTransaction(ctx, userID, periodStart)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, grant.ID, found.ID)
}

func TestRepoResetBalanceGuardedByPeriod(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 40)

	currentPeriod := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	nextPeriod := currentPeriod.AddDate(0, 1, 0)

	applied, err := repo.ResetBalance(ctx, userID, 100, 100, currentPeriod, nextPeriod, nextPeriod.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.True(t, applied)

	// The guard period no longer matches, so a replayed reset is a no-op.
	applied, err = repo.ResetBalance(ctx, userID, 100, 100, currentPeriod, nextPeriod, nextPeriod.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.False(t, applied)

	account, err := repo.FindAccount(ctx, userID)
	require.NoError(t, err)
	require.EqualValues(t, 100, account.Balance)
	require.True(t, account.PeriodStart.Equal(nextPeriod))
}

func TestRepoListTransactionsPaginates(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 100)

	base := time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Create(&models.Transaction{
			ID:           uuid.New(),
			UserID:       userID,
			Amount:       -1,
			Kind:         enums.TransactionKindUsage,
			BalanceAfter: int64(100 - i - 1),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	first, cursor, err := repo.ListTransactions(ctx, listTransactionsParams{UserID: userID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)

	rest, cursor, err := repo.ListTransactions(ctx, listTransactionsParams{UserID: userID, Limit: 3, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Nil(t, cursor)

	// Newest first across the two pages, with no overlap.
	seen := map[uuid.UUID]bool{}
	var all []models.Transaction
	all = append(all, first...)
	all = append(all, rest...)
	for i := range all {
		require.False(t, seen[all[i].ID])
		seen[all[i].ID] = true
		if i > 0 {
			require.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
		}
	}
}

func TestRepoListAllTransactionsOrdersAscending(t *testing.T) {
	conn := setupLedgerDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := seedAccount(t, conn, 100)

	base := time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Create(&models.Transaction{
			ID:           uuid.New(),
			UserID:       userID,
			Amount:       -1,
			Kind:         enums.TransactionKindUsage,
			BalanceAfter: int64(100 - i - 1),
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	all, err := repo.ListAllTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		require.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}
}
