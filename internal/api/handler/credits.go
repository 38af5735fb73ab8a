package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/stager/internal/api/response"
)

// NewGetCreditsHandler returns an http.HandlerFunc for GET /api/v1/credits.
func NewGetCreditsHandler(svc CreditsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context())
		if err != nil {
			slog.Error("reading credits", "error", err)
			internalError(w)
			return
		}
		response.JSON(w, snap)
	}
}

// NewTopUpHandler returns an http.HandlerFunc for POST /api/v1/credits/topup.
func NewTopUpHandler(svc CreditsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount int `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Amount <= 0 {
			response.ValidationFailed(w, []string{"amount must be a positive integer"})
			return
		}

		snap, err := svc.TopUp(r.Context(), req.Amount)
		if err != nil {
			slog.Error("topping up credits", "error", err, "amount", req.Amount)
			internalError(w)
			return
		}
		slog.Info("credits topped up", "amount", req.Amount, "current", snap.Current)
		response.JSON(w, snap)
	}
}
