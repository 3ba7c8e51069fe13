package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type stubBalanceService struct {
	ledger.Service
	account *models.Account
	err     error
}

func (s stubBalanceService) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

func balanceRequest(userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func decodeBalance(t *testing.T, body []byte) balanceResponse {
	t.Helper()
	var envelope struct {
		Data balanceResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return envelope.Data
}

func testControllerLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

// A user with no ledger activity has no account row yet; the balance endpoint
// reads as an empty free-tier account rather than a 404.
func TestGetCreditBalanceDefaultsToFreeTier(t *testing.T) {
	svc := stubBalanceService{err: pkgerrors.New(pkgerrors.CodeNotFound, "account not found")}
	handler := GetCreditBalance(svc, testControllerLogger())
	userID := uuid.New()

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, balanceRequest(userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for missing account got %d", resp.Code)
	}
	got := decodeBalance(t, resp.Body.Bytes())
	if got.UserID != userID || got.Balance != 0 || got.Tier != string(enums.AccountTierFree) || got.Frozen {
		t.Fatalf("expected empty free-tier view, got %+v", got)
	}
}

func TestGetCreditBalanceReturnsAccountView(t *testing.T) {
	userID := uuid.New()
	svc := stubBalanceService{account: &models.Account{
		UserID:  userID,
		Balance: 1250,
		Tier:    enums.AccountTierPro,
	}}
	handler := GetCreditBalance(svc, testControllerLogger())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, balanceRequest(userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	got := decodeBalance(t, resp.Body.Bytes())
	if got.Balance != 1250 || got.Tier != string(enums.AccountTierPro) {
		t.Fatalf("unexpected balance view %+v", got)
	}
}

func TestGetCreditBalancePropagatesStoreErrors(t *testing.T) {
	svc := stubBalanceService{err: pkgerrors.New(pkgerrors.CodeInternal, "store unavailable")}
	handler := GetCreditBalance(svc, testControllerLogger())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, balanceRequest(uuid.New()))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
