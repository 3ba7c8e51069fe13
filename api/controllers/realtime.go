package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/api/responses"
	"github.com/halcyonlabs/halcyon-backend/internal/realtime"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// RealtimeWS upgrades the authenticated request to a websocket subscribed to
// the caller's notifications. Auth middleware has already validated the
// session before the upgrade.
func RealtimeWS(handler *realtime.Handler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime handler unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		handler.ServeWS(w, r, userID)
	}
}
