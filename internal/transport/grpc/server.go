package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pointledger/internal/model"
	"pointledger/internal/service"
)

// EventHandler consumes ledger events delivered through EventService.Publish.
type EventHandler interface {
	Handle(ctx context.Context, data []byte) error
}

type Server struct {
	svc    service.LedgerService
	events EventHandler
	srv    *grpc.Server
	addr   string
	log    zerolog.Logger
}

var (
	_ LedgerServer = (*Server)(nil)
	_ EventServer  = (*Server)(nil)
)

// NewServer registers the Ledger service, and EventService when events is non-nil.
func NewServer(addr string, svc service.LedgerService, events EventHandler, log zerolog.Logger) *Server {
	s := &Server{
		svc:    svc,
		events: events,
		addr:   addr,
		srv:    grpc.NewServer(),
		log:    log.With().Str("component", "grpc").Logger(),
	}
	RegisterLedgerServer(s.srv, s)
	if events != nil {
		RegisterEventServer(s.srv, s)
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve runs on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*Account, error) {
	acct, err := s.svc.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toAccount(acct), nil
}

func (s *Server) Debit(ctx context.Context, req *DebitRequest) (*DebitResponse, error) {
	res, err := s.svc.TryDebit(ctx, model.DebitRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Feature:        req.Feature,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &DebitResponse{
		Success:        res.Success,
		CurrentBalance: res.CurrentBalance,
		RequiredAmount: res.RequiredAmount,
	}
	if res.Account != nil {
		resp.Account = toAccount(res.Account)
	}
	return resp, nil
}

func (s *Server) Credit(ctx context.Context, req *CreditRequest) (*Account, error) {
	acct, err := s.svc.Credit(ctx, model.CreditRequest{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toAccount(acct), nil
}

func (s *Server) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	acct, err := s.svc.CreateAccount(ctx, model.CreateAccountRequest{
		UserID:           req.UserID,
		StripeCustomerID: req.StripeCustomerID,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toAccount(acct), nil
}

func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	if req.Topic != model.TopicTransactions {
		return nil, status.Errorf(codes.InvalidArgument, "unknown topic %q", req.Topic)
	}
	if err := s.events.Handle(ctx, req.Payload); err != nil {
		s.log.Error().Err(err).Msg("failed to handle published event")
		return &EventResponse{Success: false}, nil
	}
	return &EventResponse{Success: true}, nil
}

func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrAccountExists), errors.Is(err, service.ErrAlreadyProcessed):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		s.log.Error().Err(err).Msg("storage unavailable")
		return status.Error(codes.Unavailable, "storage unavailable")
	default:
		s.log.Error().Err(err).Msg("unexpected ledger error")
		return status.Error(codes.Internal, "internal error")
	}
}

func toAccount(a *model.UsageAccount) *Account {
	return &Account{
		UserID:            a.UserID,
		StripeCustomerID:  a.StripeCustomerID,
		Balance:           a.Balance,
		SpentThisCycle:    a.SpentThisCycle,
		LastReplenishedAt: a.LastReplenishedAt,
	}
}
