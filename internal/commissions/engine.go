package commissions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/internal/events"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// referralSource resolves the active referral for a referred account.
type referralSource interface {
	ActiveForReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
}

// ledgerCreditor applies the payout credit inside the engine's transaction.
type ledgerCreditor interface {
	CreditInTx(ctx context.Context, tx *gorm.DB, input ledger.CreditInput) (*models.Transaction, []*models.Transaction, error)
}

// Sink receives the engine's committed facts for asynchronous fan-out.
type Sink interface {
	LedgerCommitted(txn *models.Transaction)
	CommissionRecorded(commission *models.CommissionTransaction)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Engine turns purchase credits into referral commission payouts. One payout
// per source purchase, enforced by the unique source_transaction_id: replays
// return the original record as a no-op.
type Engine struct {
	repo      Repository
	referrals referralSource
	ledger    ledgerCreditor
	runner    txRunner
	sink      Sink
	logg      *logger.Logger
}

// NewEngine wires the commission engine. The sink is optional.
func NewEngine(repo Repository, referrals referralSource, creditor ledgerCreditor, runner txRunner, sink Sink, logg *logger.Logger) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository is required")
	}
	if referrals == nil {
		return nil, fmt.Errorf("referral source is required")
	}
	if creditor == nil {
		return nil, fmt.Errorf("ledger creditor is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Engine{
		repo:      repo,
		referrals: referrals,
		ledger:    creditor,
		runner:    runner,
		sink:      sink,
		logg:      logg,
	}, nil
}

// OnPurchase awards the referrer's commission for a purchase transaction.
// Non-purchase transactions and purchases without an active referral return
// (nil, nil). The commission record and the payout credit commit together.
func (e *Engine) OnPurchase(ctx context.Context, purchase *models.Transaction) (*models.CommissionTransaction, error) {
	if purchase == nil || purchase.Kind != enums.TransactionKindPurchase {
		return nil, nil
	}
	if purchase.Amount <= 0 {
		return nil, nil
	}

	existing, err := e.repo.FindBySourceTransaction(ctx, purchase.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "checking existing commission")
	}
	if existing != nil {
		return existing, nil
	}

	referral, err := e.referrals.ActiveForReferred(ctx, purchase.UserID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "resolving active referral")
	}
	if referral == nil {
		return nil, nil
	}

	// Whole credits, rounded half-up. The rate stored on the referral at call
	// time applies; later rate changes never reprice old purchases.
	amount := decimal.NewFromInt(purchase.Amount).
		Mul(referral.CommissionRate).
		Round(0).
		IntPart()
	if amount <= 0 {
		return nil, nil
	}

	var commission *models.CommissionTransaction
	var committed []*models.Transaction
	err = e.runner.WithTx(ctx, func(tx *gorm.DB) error {
		payout, txns, err := e.ledger.CreditInTx(ctx, tx, ledger.CreditInput{
			UserID: referral.ReferrerID,
			Amount: amount,
			Kind:   enums.TransactionKindCommissionPayout,
			Metadata: map[string]any{
				"source_transaction_id": purchase.ID.String(),
				"referred_id":           purchase.UserID.String(),
				"commission_rate":       referral.CommissionRate.String(),
			},
		})
		if err != nil {
			return err
		}
		committed = txns

		commission = &models.CommissionTransaction{
			ID:                  uuid.New(),
			SourceTransactionID: purchase.ID,
			ReferrerID:          referral.ReferrerID,
			ReferredID:          purchase.UserID,
			GrossAmount:         purchase.Amount,
			CommissionRate:      referral.CommissionRate,
			CommissionAmount:    amount,
			PayoutTransactionID: payout.ID,
		}
		if err := e.repo.WithTx(tx).Create(ctx, commission); err != nil {
			if db.IsUniqueViolation(err, "idx_commission_source_tx") {
				return errCommissionExists
			}
			return errors.Wrap(errors.CodeInternal, err, "recording commission")
		}
		return nil
	})
	if err == errCommissionExists {
		// A concurrent replay won the race; the payout rolled back with us.
		existing, ferr := e.repo.FindBySourceTransaction(ctx, purchase.ID)
		if ferr != nil {
			return nil, errors.Wrap(errors.CodeInternal, ferr, "loading concurrent commission")
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	if e.sink != nil {
		for _, txn := range committed {
			e.sink.LedgerCommitted(txn)
		}
		e.sink.CommissionRecorded(commission)
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"source_transaction_id": purchase.ID.String(),
		"referrer_id":           referral.ReferrerID.String(),
		"referred_id":           purchase.UserID.String(),
		"gross_amount":          purchase.Amount,
		"commission_amount":     amount,
	}), "referral commission awarded")
	return commission, nil
}

// ListByReferrer returns the referrer's payout history, newest first.
func (e *Engine) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.CommissionTransaction, error) {
	if referrerID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "referrer id is required")
	}
	commissions, err := e.repo.ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing commissions")
	}
	return commissions, nil
}

// Name implements events.Handler.
func (e *Engine) Name() string { return "commission-engine" }

// Handle awards commissions for purchase-kind ledger commits; every other
// event is ignored.
func (e *Engine) Handle(ctx context.Context, event events.Event) error {
	if event.Name != events.NameLedgerCommitted || event.Transaction == nil {
		return nil
	}
	_, err := e.OnPurchase(ctx, event.Transaction)
	return err
}

var errCommissionExists = fmt.Errorf("commission already recorded for source transaction")
