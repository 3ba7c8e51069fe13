package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/api/responses"
	"github.com/halcyonlabs/halcyon-backend/api/validators"
	"github.com/halcyonlabs/halcyon-backend/internal/engagement"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type snapshotResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	CuriosityScore   float64   `json:"curiosity_score"`
	ConsistencyScore float64   `json:"consistency_score"`
	DepthScore       float64   `json:"depth_score"`
	DependencyScore  float64   `json:"dependency_score"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newSnapshotResponse(snapshot *models.EngagementSnapshot) snapshotResponse {
	return snapshotResponse{
		UserID:           snapshot.UserID,
		CuriosityScore:   snapshot.CuriosityScore,
		ConsistencyScore: snapshot.ConsistencyScore,
		DepthScore:       snapshot.DepthScore,
		DependencyScore:  snapshot.DependencyScore,
		WindowStart:      snapshot.WindowStart,
		WindowEnd:        snapshot.WindowEnd,
		UpdatedAt:        snapshot.UpdatedAt,
	}
}

// GetEngagementSnapshot returns the caller's live engagement scores.
func GetEngagementSnapshot(svc engagement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "engagement service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		snapshot, err := svc.GetSnapshot(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSnapshotResponse(snapshot))
	}
}

type recordInteractionRequest struct {
	Topic      string     `json:"topic" validate:"required,max=120"`
	SessionID  uuid.UUID  `json:"session_id" validate:"required"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// RecordInteraction ingests one interaction event and returns the recomputed
// snapshot. OccurredAt defaults to now for live events.
func RecordInteraction(svc engagement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "engagement service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req recordInteractionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		occurredAt := time.Now().UTC()
		if req.OccurredAt != nil {
			occurredAt = req.OccurredAt.UTC()
		}

		snapshot, err := svc.RecordInteraction(r.Context(), engagement.RecordInteractionInput{
			UserID:     userID,
			Topic:      req.Topic,
			SessionID:  req.SessionID,
			OccurredAt: occurredAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newSnapshotResponse(snapshot))
	}
}
