package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pointledger/internal/model"
	"pointledger/internal/service"
)

type featureRequest struct {
	Input string `json:"input" validate:"required,max=8000"`
}

type featureResponse struct {
	Output         string `json:"output"`
	Balance        int64  `json:"balance"`
	SpentThisCycle int64  `json:"spentThisCycle"`
}

// RunFeature charges the feature cost, then asks the tutor. Points are not
// returned when the tutor call fails.
func (h *Handler) RunFeature(w http.ResponseWriter, r *http.Request) {
	if h.tutor == nil || !h.tutor.Configured() {
		h.respondError(w, http.StatusServiceUnavailable, "tutor_unavailable")
		return
	}
	var req featureRequest
	if !h.decode(w, r, &req) {
		return
	}

	feature := chi.URLParam(r, "feature")
	userID, _ := UserFromContext(r.Context())

	var output string
	res, err := service.RunMetered(r.Context(), h.svc, h.catalog, model.DebitRequest{
		UserID:         userID,
		Feature:        feature,
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
	}, func(ctx context.Context) error {
		out, err := h.tutor.Complete(ctx, feature, req.Input)
		output = out
		return err
	})
	if err != nil {
		if res != nil && res.Success {
			h.log.Error().Err(err).Str("user_id", userID).Str("feature", feature).Msg("tutor call failed after debit")
			h.respondError(w, http.StatusBadGateway, "tutor_failed")
			return
		}
		h.respondServiceError(w, err)
		return
	}
	if !res.Success {
		h.respondInsufficient(w, res)
		return
	}

	h.respondJSON(w, http.StatusOK, featureResponse{
		Output:         output,
		Balance:        res.Account.Balance,
		SpentThisCycle: res.Account.SpentThisCycle,
	})
}
