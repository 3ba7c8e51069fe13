package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/api/responses"
	"github.com/halcyonlabs/halcyon-backend/api/validators"
	"github.com/halcyonlabs/halcyon-backend/internal/commissions"
	"github.com/halcyonlabs/halcyon-backend/internal/referrals"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type referralResponse struct {
	ID             uuid.UUID  `json:"id"`
	ReferrerID     uuid.UUID  `json:"referrer_id"`
	ReferredID     uuid.UUID  `json:"referred_id"`
	CommissionRate string     `json:"commission_rate"`
	Status         string     `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newReferralResponse(referral *models.Referral) referralResponse {
	return referralResponse{
		ID:             referral.ID,
		ReferrerID:     referral.ReferrerID,
		ReferredID:     referral.ReferredID,
		CommissionRate: referral.CommissionRate.String(),
		Status:         string(referral.Status),
		ExpiresAt:      referral.ExpiresAt,
		RevokedAt:      referral.RevokedAt,
		CreatedAt:      referral.CreatedAt,
	}
}

type createReferralRequest struct {
	ReferredID uuid.UUID `json:"referred_id" validate:"required"`
	Rate       string    `json:"rate,omitempty"`
}

// CreateReferral links the caller as referrer of another account. An omitted
// rate uses the configured default.
func CreateReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req createReferralRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rate := decimal.Zero
		if strings.TrimSpace(req.Rate) != "" {
			parsed, err := decimal.NewFromString(req.Rate)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "rate must be a decimal"))
				return
			}
			rate = parsed
		}

		referral, err := svc.Create(r.Context(), referrals.CreateInput{
			ReferrerID: userID,
			ReferredID: req.ReferredID,
			Rate:       rate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReferralResponse(referral))
	}
}

func referralIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "referralID")))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid referral id")
	}
	return id, nil
}

// ActivateReferral moves a pending referral to active.
func ActivateReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}

		id, err := referralIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		referral, err := svc.Activate(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReferralResponse(referral))
	}
}

// RevokeReferral permanently revokes a referral link.
func RevokeReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}

		id, err := referralIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		referral, err := svc.Revoke(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReferralResponse(referral))
	}
}

// ListReferrals returns all referral links where the caller is the referrer.
func ListReferrals(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "referral service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		links, err := svc.ListByReferrer(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := make([]referralResponse, 0, len(links))
		for i := range links {
			resp = append(resp, newReferralResponse(&links[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

type commissionResponse struct {
	ID                  uuid.UUID `json:"id"`
	SourceTransactionID uuid.UUID `json:"source_transaction_id"`
	ReferrerID          uuid.UUID `json:"referrer_id"`
	ReferredID          uuid.UUID `json:"referred_id"`
	GrossAmount         int64     `json:"gross_amount"`
	CommissionRate      string    `json:"commission_rate"`
	CommissionAmount    int64     `json:"commission_amount"`
	PayoutTransactionID uuid.UUID `json:"payout_transaction_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// ListCommissions returns the commission payouts earned by the caller.
func ListCommissions(repo commissions.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission repository unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		records, err := repo.ListByReferrer(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing commissions"))
			return
		}

		resp := make([]commissionResponse, 0, len(records))
		for i := range records {
			record := &records[i]
			resp = append(resp, commissionResponse{
				ID:                  record.ID,
				SourceTransactionID: record.SourceTransactionID,
				ReferrerID:          record.ReferrerID,
				ReferredID:          record.ReferredID,
				GrossAmount:         record.GrossAmount,
				CommissionRate:      record.CommissionRate.String(),
				CommissionAmount:    record.CommissionAmount,
				PayoutTransactionID: record.PayoutTransactionID,
				CreatedAt:           record.CreatedAt,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}
