package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"pointledger/internal/model"
	"pointledger/internal/service"
)

const (
	SubjectDebit   = "points.commands.debit"
	SubjectCredit  = "points.commands.credit"
	SubjectBalance = "points.commands.balance"

	queueGroup = "ledger_group"
)

type BalanceCommand struct {
	UserID string `json:"user_id"`
}

// Reply is the response envelope for every command subject.
type Reply struct {
	Error   string              `json:"error,omitempty"`
	Account *model.UsageAccount `json:"account,omitempty"`
	Debit   *model.DebitResult  `json:"debit,omitempty"`
}

// Handler answers ledger commands over NATS request/reply.
type Handler struct {
	svc service.LedgerService
	nc  *nats.Conn
	log zerolog.Logger
}

func NewHandler(svc service.LedgerService, nc *nats.Conn, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, nc: nc, log: log.With().Str("component", "nats").Logger()}
}

// Start subscribes to command subjects and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	var subs []*nats.Subscription
	drain := func() {
		for _, s := range subs {
			_ = s.Drain()
		}
	}

	for _, subject := range []string{SubjectDebit, SubjectCredit, SubjectBalance} {
		sub, err := h.nc.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			data := h.reply(ctx, m.Subject, m.Data)
			if m.Reply == "" {
				return
			}
			if err := m.Respond(data); err != nil {
				h.log.Error().Err(err).Str("subject", m.Subject).Msg("failed to respond")
			}
		})
		if err != nil {
			drain()
			return err
		}
		subs = append(subs, sub)
	}

	h.log.Info().Msg("nats command handler is running")

	<-ctx.Done()
	h.log.Info().Msg("nats command handler shutting down, draining subscriptions")
	drain()
	return nil
}

// Stop is a no-op; Start drains its subscriptions when ctx is cancelled.
func (h *Handler) Stop(ctx context.Context) error {
	return nil
}

func (h *Handler) reply(ctx context.Context, subject string, data []byte) []byte {
	var r Reply
	switch subject {
	case SubjectDebit:
		var req model.DebitRequest
		if err := json.Unmarshal(data, &req); err != nil {
			r.Error = "invalid_request"
			break
		}
		res, err := h.svc.TryDebit(ctx, req)
		if err != nil {
			r.Error = h.errorCode(err, subject, req.UserID)
			break
		}
		r.Debit = res
	case SubjectCredit:
		var req model.CreditRequest
		if err := json.Unmarshal(data, &req); err != nil {
			r.Error = "invalid_request"
			break
		}
		acct, err := h.svc.Credit(ctx, req)
		if err != nil {
			r.Error = h.errorCode(err, subject, req.UserID)
			break
		}
		r.Account = acct
	case SubjectBalance:
		var req BalanceCommand
		if err := json.Unmarshal(data, &req); err != nil {
			r.Error = "invalid_request"
			break
		}
		acct, err := h.svc.GetBalance(ctx, req.UserID)
		if err != nil {
			r.Error = h.errorCode(err, subject, req.UserID)
			break
		}
		r.Account = acct
	default:
		r.Error = "unknown_command"
	}

	out, err := json.Marshal(r)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal reply")
		return []byte(`{"error":"internal_error"}`)
	}
	return out
}

func (h *Handler) errorCode(err error, subject, userID string) string {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, service.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, service.ErrStorageUnavailable):
		h.log.Error().Err(err).Str("subject", subject).Str("user_id", userID).Msg("command failed")
		return "storage_unavailable"
	default:
		h.log.Error().Err(err).Str("subject", subject).Str("user_id", userID).Msg("command failed")
		return "internal_error"
	}
}
