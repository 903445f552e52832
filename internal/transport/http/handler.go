package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"pointledger/internal/model"
	"pointledger/internal/service"
)

const headerIdempotencyKey = "Idempotency-Key"

// Tutor answers metered feature requests.
type Tutor interface {
	Configured() bool
	Complete(ctx context.Context, feature, input string) (string, error)
}

type Options struct {
	JWTSecret           string
	AdminToken          string
	StripeWebhookSecret string
	CreditAmount        int64
}

type Handler struct {
	svc          service.LedgerService
	catalog      *service.Catalog
	tutor        Tutor
	validate     *validator.Validate
	jwtSecret    string
	adminToken   string
	stripeSecret string
	creditAmount int64
	log          zerolog.Logger
}

func NewHandler(svc service.LedgerService, catalog *service.Catalog, tutor Tutor, opts Options, log zerolog.Logger) *Handler {
	if opts.CreditAmount <= 0 {
		opts.CreditAmount = model.CreditAmount
	}
	return &Handler{
		svc:          svc,
		catalog:      catalog,
		tutor:        tutor,
		validate:     validator.New(),
		jwtSecret:    opts.JWTSecret,
		adminToken:   opts.AdminToken,
		stripeSecret: opts.StripeWebhookSecret,
		creditAmount: opts.CreditAmount,
		log:          log.With().Str("component", "http").Logger(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Get("/points", h.GetPoints)
			r.Post("/points/debit", h.Debit)
			r.Get("/points/history", h.History)
			r.Post("/features/{feature}", h.RunFeature)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/accounts", h.CreateAccount)
			r.Post("/credits", h.Credit)
		})
	})
	return r
}

type pointsResponse struct {
	Balance           int64     `json:"balance"`
	SpentThisCycle    int64     `json:"spentThisCycle"`
	LastReplenishedAt time.Time `json:"lastReplenishedAt"`
}

type debitRequest struct {
	Amount         int64  `json:"amount" validate:"gte=0"`
	Feature        string `json:"feature"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type debitResponse struct {
	Balance        int64 `json:"balance"`
	SpentThisCycle int64 `json:"spentThisCycle"`
}

type insufficientResponse struct {
	Error          string `json:"error"`
	CurrentBalance int64  `json:"currentBalance"`
	RequiredAmount int64  `json:"requiredAmount"`
}

type createAccountRequest struct {
	UserID           string `json:"userId" validate:"required"`
	StripeCustomerID string `json:"stripeCustomerId"`
}

type creditRequest struct {
	UserID    string `json:"userId" validate:"required"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference"`
}

type accountResponse struct {
	UserID            string    `json:"userId"`
	StripeCustomerID  string    `json:"stripeCustomerId,omitempty"`
	Balance           int64     `json:"balance"`
	SpentThisCycle    int64     `json:"spentThisCycle"`
	LastReplenishedAt time.Time `json:"lastReplenishedAt"`
}

func toAccountResponse(a *model.UsageAccount) accountResponse {
	return accountResponse{
		UserID:            a.UserID,
		StripeCustomerID:  a.StripeCustomerID,
		Balance:           a.Balance,
		SpentThisCycle:    a.SpentThisCycle,
		LastReplenishedAt: a.LastReplenishedAt,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFromContext(r.Context())
	acct, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, pointsResponse{
		Balance:           acct.Balance,
		SpentThisCycle:    acct.SpentThisCycle,
		LastReplenishedAt: acct.LastReplenishedAt,
	})
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := UserFromContext(r.Context())
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotencyKey)
	}

	res, err := h.svc.TryDebit(r.Context(), model.DebitRequest{
		UserID:         userID,
		Amount:         req.Amount,
		Feature:        req.Feature,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if !res.Success {
		h.respondInsufficient(w, res)
		return
	}
	h.respondJSON(w, http.StatusOK, debitResponse{
		Balance:        res.Account.Balance,
		SpentThisCycle: res.Account.SpentThisCycle,
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		limit = n
	}
	userID, _ := UserFromContext(r.Context())
	events, err := h.svc.History(r.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.LedgerEvent{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": events})
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.svc.CreateAccount(r.Context(), model.CreateAccountRequest{
		UserID:           req.UserID,
		StripeCustomerID: req.StripeCustomerID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.svc.Credit(r.Context(), model.CreditRequest{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toAccountResponse(acct))
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	h.respondError(w, status, code)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, service.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, service.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrUnknownFeature):
		return http.StatusNotFound, "unknown_feature"
	case errors.Is(err, service.ErrJournalDisabled):
		return http.StatusNotImplemented, "history_unavailable"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) respondInsufficient(w http.ResponseWriter, res *model.DebitResult) {
	h.respondJSON(w, http.StatusForbidden, insufficientResponse{
		Error:          "insufficient_balance",
		CurrentBalance: res.CurrentBalance,
		RequiredAmount: res.RequiredAmount,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
