package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/pagination"
)

// Sink receives committed ledger transactions for asynchronous fan-out.
// Implementations must not block; the ledger write path never waits on
// downstream consumers.
type Sink interface {
	LedgerCommitted(txn *models.Transaction)
}

// Service owns every balance mutation. Balances change only through the
// operations here, each of which appends an immutable transaction in the same
// database transaction as the balance update.
type Service interface {
	Debit(ctx context.Context, input DebitInput) (*models.Transaction, error)
	Credit(ctx context.Context, input CreditInput) (*models.Transaction, error)
	// CreditInTx applies a credit inside a caller-owned database transaction.
	// Nothing is published; the returned committed slice (bootstrap grant plus
	// the credit) is the caller's to fan out after its commit.
	CreditInTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.Transaction, []*models.Transaction, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, input ListTransactionsInput) (*TransactionPage, error)
	ApplyMonthlyReset(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error)
	ChangeTier(ctx context.Context, userID uuid.UUID, tier enums.AccountTier) (*models.Account, error)
	VerifyReplay(ctx context.Context, userID uuid.UUID) (*ReplayReport, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo   Repository
	runner txRunner
	cfg    config.CreditsConfig
	sink   Sink
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the ledger service. The sink is optional; a nil sink
// disables fan-out.
func NewService(repo Repository, runner txRunner, cfg config.CreditsConfig, sink Sink, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		sink:   sink,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// DebitInput describes a spend against a user's balance.
type DebitInput struct {
	UserID   uuid.UUID
	Amount   int64
	Kind     enums.TransactionKind
	Metadata map[string]any
}

// CreditInput describes a top-up of a user's balance.
type CreditInput struct {
	UserID   uuid.UUID
	Amount   int64
	Kind     enums.TransactionKind
	Metadata map[string]any
}

// ListTransactionsInput filters the transaction history page.
type ListTransactionsInput struct {
	UserID uuid.UUID
	Kind   string
	Page   pagination.Params
}

// TransactionPage is one page of history plus the cursor for the next.
type TransactionPage struct {
	Transactions []models.Transaction
	NextCursor   string
}

// ReplayReport summarizes a full replay of an account's transaction log.
type ReplayReport struct {
	UserID           uuid.UUID
	TransactionCount int
	FinalBalance     int64
	AccountBalance   int64
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*models.Transaction, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, errors.New(errors.CodeValidation, "debit amount must be positive")
	}
	if !input.Kind.IsValid() || !input.Kind.IsDebitKind() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("kind %q cannot debit", input.Kind))
	}

	metadata, err := marshalMetadata(input.Metadata)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid metadata")
	}

	var committed []*models.Transaction
	var txn *models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, _, err := s.ensureAccount(ctx, repo, input.UserID, &committed)
		if err != nil {
			return err
		}
		if account.Frozen() {
			return errors.New(errors.CodeAccountFrozen, "account is frozen")
		}

		balance, applied, err := repo.DebitBalance(ctx, input.UserID, input.Amount)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "debiting balance")
		}
		if !applied {
			// The conditional update did not match: either funds ran out
			// between the read and the write, or a concurrent freeze landed.
			current, err := repo.FindAccount(ctx, input.UserID)
			if err != nil {
				return errors.Wrap(errors.CodeInternal, err, "reloading account")
			}
			if current.Frozen() {
				return errors.New(errors.CodeAccountFrozen, "account is frozen")
			}
			return errors.New(errors.CodeInsufficientBalance, "insufficient balance").
				WithDetails(map[string]any{
					"balance":   current.Balance,
					"requested": input.Amount,
				})
		}

		txn = &models.Transaction{
			ID:           uuid.New(),
			UserID:       input.UserID,
			Amount:       -input.Amount,
			Kind:         input.Kind,
			BalanceAfter: balance,
			Metadata:     metadata,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording debit transaction")
		}
		committed = append(committed, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(committed)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":       input.UserID.String(),
		"kind":          string(input.Kind),
		"amount":        input.Amount,
		"balance_after": txn.BalanceAfter,
	})
	s.logg.Info(logCtx, "ledger debit applied")
	return txn, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.Transaction, error) {
	if err := s.validateCredit(input); err != nil {
		return nil, err
	}

	var committed []*models.Transaction
	var txn *models.Transaction
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.applyCredit(ctx, s.repo.WithTx(tx), input, &committed)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(committed)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":       input.UserID.String(),
		"kind":          string(input.Kind),
		"amount":        input.Amount,
		"balance_after": txn.BalanceAfter,
	})
	s.logg.Info(logCtx, "ledger credit applied")
	return txn, nil
}

func (s *service) CreditInTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.Transaction, []*models.Transaction, error) {
	if tx == nil {
		return nil, nil, errors.New(errors.CodeInternal, "transaction handle is required")
	}
	if err := s.validateCredit(input); err != nil {
		return nil, nil, err
	}

	var committed []*models.Transaction
	txn, err := s.applyCredit(ctx, s.repo.WithTx(tx), input, &committed)
	if err != nil {
		return nil, nil, err
	}
	return txn, committed, nil
}

func (s *service) validateCredit(input CreditInput) error {
	if input.UserID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return errors.New(errors.CodeValidation, "credit amount must be positive")
	}
	if s.cfg.MaxCreditAmount > 0 && input.Amount > s.cfg.MaxCreditAmount {
		return errors.New(errors.CodeValidation, "credit amount exceeds maximum").
			WithDetails(map[string]any{
				"amount": input.Amount,
				"max":    s.cfg.MaxCreditAmount,
			})
	}
	if !input.Kind.IsValid() || input.Kind.IsDebitKind() {
		return errors.New(errors.CodeValidation, fmt.Sprintf("kind %q cannot credit", input.Kind))
	}
	return nil
}

func (s *service) applyCredit(ctx context.Context, repo Repository, input CreditInput, committed *[]*models.Transaction) (*models.Transaction, error) {
	metadata, err := marshalMetadata(input.Metadata)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid metadata")
	}

	account, _, err := s.ensureAccount(ctx, repo, input.UserID, committed)
	if err != nil {
		return nil, err
	}
	if account.Frozen() {
		return nil, errors.New(errors.CodeAccountFrozen, "account is frozen")
	}

	balance, applied, err := repo.CreditBalance(ctx, input.UserID, input.Amount)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "crediting balance")
	}
	if !applied {
		return nil, errors.New(errors.CodeAccountFrozen, "account is frozen")
	}

	txn := &models.Transaction{
		ID:           uuid.New(),
		UserID:       input.UserID,
		Amount:       input.Amount,
		Kind:         input.Kind,
		BalanceAfter: balance,
		Metadata:     metadata,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "recording credit transaction")
	}
	*committed = append(*committed, txn)
	return txn, nil
}

func (s *service) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, errors.New(errors.CodeNotFound, "account not found")
	}
	return account, nil
}

// GetBalance reports the current balance. Accounts are created lazily on the
// first ledger write, so a user with no account reads as zero.
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, errors.New(errors.CodeValidation, "user id is required")
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return 0, nil
	}
	return account.Balance, nil
}

func (s *service) ListTransactions(ctx context.Context, input ListTransactionsInput) (*TransactionPage, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Kind != "" && !enums.TransactionKind(input.Kind).IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown transaction kind %q", input.Kind))
	}
	cursor, err := pagination.ParseCursor(input.Page.Cursor)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "invalid cursor")
	}

	transactions, next, err := s.repo.ListTransactions(ctx, listTransactionsParams{
		UserID: input.UserID,
		Limit:  input.Page.Limit,
		Cursor: cursor,
		Kind:   input.Kind,
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing transactions")
	}

	page := &TransactionPage{Transactions: transactions}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// ApplyMonthlyReset sets the balance to the account's tier allowance via a
// subscription-grant transaction. The grant carries the period start, and a
// unique index on (user_id, period_start) makes replays and concurrent
// resets collapse to one grant per period.
func (s *service) ApplyMonthlyReset(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if periodStart.IsZero() {
		return nil, errors.New(errors.CodeValidation, "period start is required")
	}
	periodStart = periodStart.UTC().Truncate(24 * time.Hour)
	periodEnd := periodStart.AddDate(0, 1, 0)

	existing, err := s.repo.FindGrantTransaction(ctx, userID, periodStart)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "checking existing grant")
	}
	if existing != nil {
		return existing, nil
	}

	var committed []*models.Transaction
	var grant *models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, created, err := s.ensureAccount(ctx, repo, userID, &committed)
		if err != nil {
			return err
		}
		if created && account.PeriodStart.Equal(periodStart) {
			// The bootstrap grant already covers this period.
			grant = committed[len(committed)-1]
			return nil
		}

		// Re-read under a row lock so the grant amount is derived from the
		// same balance the reset overwrites. A debit committing between an
		// unlocked read and the update would leave a grant the transaction
		// log cannot replay.
		account, err = repo.FindAccountForUpdate(ctx, userID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "locking account")
		}
		if account == nil {
			return errors.New(errors.CodeNotFound, "account not found")
		}
		if account.Frozen() {
			return errors.New(errors.CodeAccountFrozen, "account is frozen")
		}

		allowance := s.cfg.AllowanceFor(string(account.Tier))
		applied, err := repo.ResetBalance(ctx, userID, allowance, allowance, account.PeriodStart, periodStart, periodEnd)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "resetting balance")
		}
		if !applied {
			return errors.New(errors.CodeConflict, "account period changed concurrently")
		}

		grant = &models.Transaction{
			ID:           uuid.New(),
			UserID:       userID,
			Amount:       allowance - account.Balance,
			Kind:         enums.TransactionKindSubscriptionGrant,
			BalanceAfter: allowance,
			PeriodStart:  &periodStart,
		}
		if err := repo.CreateTransaction(ctx, grant); err != nil {
			if db.IsUniqueViolation(err, "idx_transactions_grant_period") {
				return errGrantExists
			}
			return errors.Wrap(errors.CodeInternal, err, "recording grant transaction")
		}
		committed = append(committed, grant)
		return nil
	})
	if err == errGrantExists {
		// A concurrent reset won the race; return its grant.
		existing, ferr := s.repo.FindGrantTransaction(ctx, userID, periodStart)
		if ferr != nil {
			return nil, errors.Wrap(errors.CodeInternal, ferr, "loading concurrent grant")
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.publish(committed)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":       userID.String(),
		"period_start":  periodStart.Format(time.RFC3339),
		"balance_after": grant.BalanceAfter,
	})
	s.logg.Info(logCtx, "monthly allowance reset applied")
	return grant, nil
}

func (s *service) ChangeTier(ctx context.Context, userID uuid.UUID, tier enums.AccountTier) (*models.Account, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if !tier.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown tier %q", tier))
	}

	var account *models.Account
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var committed []*models.Transaction
		current, _, err := s.ensureAccount(ctx, repo, userID, &committed)
		if err != nil {
			return err
		}
		if current.Frozen() {
			return errors.New(errors.CodeAccountFrozen, "account is frozen")
		}

		allowance := s.cfg.AllowanceFor(string(tier))
		applied, err := repo.UpdateTier(ctx, userID, string(tier), allowance)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "updating tier")
		}
		if !applied {
			return errors.New(errors.CodeAccountFrozen, "account is frozen")
		}

		account, err = repo.FindAccount(ctx, userID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "reloading account")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// VerifyReplay re-derives every balance snapshot from the transaction log.
// The first mismatch freezes the account and reports an integrity failure;
// a frozen account rejects all writes until reconciled out of band.
func (s *service) VerifyReplay(ctx context.Context, userID uuid.UUID) (*ReplayReport, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}

	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading account")
	}
	if account == nil {
		return nil, errors.New(errors.CodeNotFound, "account not found")
	}

	transactions, err := s.repo.ListAllTransactions(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading transaction log")
	}

	var running int64
	for i := range transactions {
		running += transactions[i].Amount
		if running != transactions[i].BalanceAfter {
			return nil, s.failIntegrity(ctx, userID, map[string]any{
				"transaction_id":  transactions[i].ID.String(),
				"expected":        transactions[i].BalanceAfter,
				"replayed":        running,
				"transaction_idx": i,
			})
		}
	}
	if running != account.Balance {
		return nil, s.failIntegrity(ctx, userID, map[string]any{
			"account_balance": account.Balance,
			"replayed":        running,
		})
	}

	return &ReplayReport{
		UserID:           userID,
		TransactionCount: len(transactions),
		FinalBalance:     running,
		AccountBalance:   account.Balance,
	}, nil
}

func (s *service) failIntegrity(ctx context.Context, userID uuid.UUID, details map[string]any) error {
	if err := s.repo.Freeze(ctx, userID, s.now().UTC()); err != nil {
		s.logg.Error(ctx, "freezing account after integrity failure", err)
	}
	integrityErr := errors.New(errors.CodeIntegrity, "transaction replay does not match recorded balances").
		WithDetails(details)
	s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "ledger integrity violation, account frozen", integrityErr)
	return integrityErr
}

// ensureAccount loads the account, creating it with the default tier's
// allowance on first activity. The bootstrap grant is appended to committed
// so the transaction log replays to the starting balance.
func (s *service) ensureAccount(ctx context.Context, repo Repository, userID uuid.UUID, committed *[]*models.Transaction) (*models.Account, bool, error) {
	account, err := repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, false, errors.Wrap(errors.CodeInternal, err, "loading account")
	}
	if account != nil {
		return account, false, nil
	}

	tier, err := enums.ParseAccountTier(s.cfg.DefaultTier)
	if err != nil {
		tier = enums.AccountTierFree
	}
	allowance := s.cfg.AllowanceFor(string(tier))
	periodStart := firstOfMonth(s.now())
	periodEnd := periodStart.AddDate(0, 1, 0)

	account = &models.Account{
		UserID:           userID,
		Balance:          allowance,
		Tier:             tier,
		MonthlyAllowance: allowance,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "") {
			// Lost a creation race; reload the winner.
			existing, ferr := repo.FindAccount(ctx, userID)
			if ferr != nil {
				return nil, false, errors.Wrap(errors.CodeInternal, ferr, "reloading account after create race")
			}
			return existing, false, nil
		}
		return nil, false, errors.Wrap(errors.CodeInternal, err, "creating account")
	}

	grant := &models.Transaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       allowance,
		Kind:         enums.TransactionKindSubscriptionGrant,
		BalanceAfter: allowance,
		PeriodStart:  &periodStart,
	}
	if err := repo.CreateTransaction(ctx, grant); err != nil {
		return nil, false, errors.Wrap(errors.CodeInternal, err, "recording bootstrap grant")
	}
	*committed = append(*committed, grant)
	return account, true, nil
}

func (s *service) publish(transactions []*models.Transaction) {
	if s.sink == nil {
		return
	}
	for _, txn := range transactions {
		s.sink.LedgerCommitted(txn)
	}
}

func marshalMetadata(metadata map[string]any) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func firstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

var errGrantExists = fmt.Errorf("grant already recorded for period")
