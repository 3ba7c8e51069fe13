package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/pagination"
)

// Repository manages persistence for accounts and their transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	// FindAccountForUpdate loads the account under a row lock. Callers must
	// hold an open transaction; the lock is released on commit or rollback.
	FindAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	// DebitBalance applies a conditional atomic decrement. It reports the
	// post-update balance and whether the update matched a row; two
	// concurrent debits against a low balance are serialized by the store.
	DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, bool, error)
	// CreditBalance applies an unconditional atomic increment on an
	// unfrozen account.
	CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, bool, error)
	// ResetBalance sets the balance and billing period, guarded by the
	// account's current period start so concurrent resets cannot both win.
	ResetBalance(ctx context.Context, userID uuid.UUID, balance, allowance int64, expectedPeriodStart, periodStart, periodEnd time.Time) (bool, error)
	Freeze(ctx context.Context, userID uuid.UUID, now time.Time) error
	UpdateTier(ctx context.Context, userID uuid.UUID, tier string, allowance int64) (bool, error)
	// ListAccountsDueReset returns live accounts whose billing period ended
	// at or before the cutoff, oldest period first.
	ListAccountsDueReset(ctx context.Context, cutoff time.Time, limit int) ([]models.Account, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindGrantTransaction(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error)
	// ListPurchasesWithoutCommission returns purchase transactions created at
	// or before the cutoff that have no commission row, oldest first.
	ListPurchasesWithoutCommission(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.Transaction, *pagination.Cursor, error)
	ListAllTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listTransactionsParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Kind   string
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND balance >= ? AND frozen_at IS NULL AND archived_at IS NULL", userID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return 0, false, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}
	return r.readBalance(ctx, userID)
}

func (r *repository) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) (int64, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND frozen_at IS NULL AND archived_at IS NULL", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return 0, false, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, false, nil
	}
	return r.readBalance(ctx, userID)
}

func (r *repository) readBalance(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Select("balance").
		First(&account, "user_id = ?", userID).Error; err != nil {
		return 0, false, err
	}
	return account.Balance, true, nil
}

func (r *repository) ResetBalance(ctx context.Context, userID uuid.UUID, balance, allowance int64, expectedPeriodStart, periodStart, periodEnd time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND period_start = ? AND frozen_at IS NULL AND archived_at IS NULL", userID, expectedPeriodStart).
		UpdateColumns(map[string]any{
			"balance":           balance,
			"monthly_allowance": allowance,
			"period_start":      periodStart,
			"period_end":        periodEnd,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Freeze(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND frozen_at IS NULL", userID).
		UpdateColumn("frozen_at", now).Error
}

func (r *repository) UpdateTier(ctx context.Context, userID uuid.UUID, tier string, allowance int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND frozen_at IS NULL AND archived_at IS NULL", userID).
		UpdateColumns(map[string]any{
			"tier":              tier,
			"monthly_allowance": allowance,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListAccountsDueReset(ctx context.Context, cutoff time.Time, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("period_end <= ? AND frozen_at IS NULL AND archived_at IS NULL", cutoff).
		Order("period_end ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindGrantTransaction(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		First(&txn, "user_id = ? AND period_start = ?", userID, periodStart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListPurchasesWithoutCommission(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Joins("LEFT JOIN commission_transactions ON commission_transactions.source_transaction_id = transactions.id").
		Where("transactions.kind = ? AND transactions.created_at <= ? AND commission_transactions.id IS NULL",
			enums.TransactionKindPurchase, cutoff).
		Order("transactions.created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repository) ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("user_id = ?", params.UserID)
	if params.Kind != "" {
		query = query.Where("kind = ?", params.Kind)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var transactions []models.Transaction
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&transactions).Error; err != nil {
		return nil, nil, err
	}

	if len(transactions) > normalized {
		next := transactions[normalized]
		transactions = transactions[:normalized]
		return transactions, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return transactions, nil, nil
}

func (r *repository) ListAllTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}
