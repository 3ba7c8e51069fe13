package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/api/responses"
	"github.com/halcyonlabs/halcyon-backend/api/validators"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/pagination"
)

type transactionResponse struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Amount       int64           `json:"amount"`
	Kind         string          `json:"kind"`
	BalanceAfter int64           `json:"balance_after"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:           txn.ID,
		UserID:       txn.UserID,
		Amount:       txn.Amount,
		Kind:         string(txn.Kind),
		BalanceAfter: txn.BalanceAfter,
		Metadata:     txn.Metadata,
		CreatedAt:    txn.CreatedAt,
	}
}

type balanceResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Balance int64     `json:"balance"`
	Tier    string    `json:"tier"`
	Frozen  bool      `json:"frozen"`
}

// GetCreditBalance returns the caller's balance and tier. Users without any
// ledger activity read as an empty free-tier account.
func GetCreditBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		account, err := svc.GetAccount(r.Context(), userID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := balanceResponse{UserID: userID, Tier: string(enums.AccountTierFree)}
		if account != nil {
			resp.Balance = account.Balance
			resp.Tier = string(account.Tier)
			resp.Frozen = account.Frozen()
		}
		responses.WriteSuccess(w, resp)
	}
}

type transactionPageResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// ListCreditTransactions returns the caller's paginated transaction history,
// newest first.
func ListCreditTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := ledger.ListTransactionsInput{
			UserID: userID,
			Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		page, err := svc.ListTransactions(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := transactionPageResponse{
			Transactions: make([]transactionResponse, 0, len(page.Transactions)),
			NextCursor:   page.NextCursor,
		}
		for i := range page.Transactions {
			resp.Transactions = append(resp.Transactions, newTransactionResponse(&page.Transactions[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

type debitRequest struct {
	Amount   int64          `json:"amount" validate:"required,min=1"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DebitUsage spends credits from the caller's balance for a usage action.
func DebitUsage(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req debitRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Debit(r.Context(), ledger.DebitInput{
			UserID:   userID,
			Amount:   req.Amount,
			Kind:     enums.TransactionKindUsage,
			Metadata: req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(txn))
	}
}

type grantRequest struct {
	UserID   uuid.UUID      `json:"user_id" validate:"required"`
	Amount   int64          `json:"amount" validate:"required,min=1"`
	Kind     string         `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GrantCredits credits an arbitrary user, defaulting to a bonus grant. Usage
// debits cannot be issued through this endpoint.
func GrantCredits(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		var req grantRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind := enums.TransactionKindBonus
		if req.Kind != "" {
			parsed, err := enums.ParseTransactionKind(req.Kind)
			if err != nil || parsed.IsDebitKind() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "kind must be a credit transaction kind"))
				return
			}
			kind = parsed
		}

		txn, err := svc.Credit(r.Context(), ledger.CreditInput{
			UserID:   req.UserID,
			Amount:   req.Amount,
			Kind:     kind,
			Metadata: req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(txn))
	}
}

type changeTierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

type accountResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	Balance          int64     `json:"balance"`
	Tier             string    `json:"tier"`
	MonthlyAllowance int64     `json:"monthly_allowance"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Frozen           bool      `json:"frozen"`
}

// ChangeTier moves the caller's account to a new subscription tier.
func ChangeTier(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req changeTierRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := enums.ParseAccountTier(req.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown account tier"))
			return
		}

		account, err := svc.ChangeTier(r.Context(), userID, tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accountResponse{
			UserID:           account.UserID,
			Balance:          account.Balance,
			Tier:             string(account.Tier),
			MonthlyAllowance: account.MonthlyAllowance,
			PeriodStart:      account.PeriodStart,
			PeriodEnd:        account.PeriodEnd,
			Frozen:           account.Frozen(),
		})
	}
}

type replayReportResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	TransactionCount int       `json:"transaction_count"`
	FinalBalance     int64     `json:"final_balance"`
	AccountBalance   int64     `json:"account_balance"`
}

// VerifyLedgerReplay replays a user's full transaction log and reports the
// result. An integrity mismatch freezes the account and surfaces as an error.
func VerifyLedgerReplay(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "userID")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		report, err := svc.VerifyReplay(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, replayReportResponse{
			UserID:           report.UserID,
			TransactionCount: report.TransactionCount,
			FinalBalance:     report.FinalBalance,
			AccountBalance:   report.AccountBalance,
		})
	}
}
