package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ledgerServiceName = "pointledger.v1.Ledger"
	eventServiceName  = "pointledger.v1.EventService"

	methodGetBalance    = "/" + ledgerServiceName + "/GetBalance"
	methodDebit         = "/" + ledgerServiceName + "/Debit"
	methodCredit        = "/" + ledgerServiceName + "/Credit"
	methodCreateAccount = "/" + ledgerServiceName + "/CreateAccount"
	methodPublish       = "/" + eventServiceName + "/Publish"
)

type LedgerServer interface {
	GetBalance(context.Context, *BalanceRequest) (*Account, error)
	Debit(context.Context, *DebitRequest) (*DebitResponse, error)
	Credit(context.Context, *CreditRequest) (*Account, error)
	CreateAccount(context.Context, *CreateAccountRequest) (*Account, error)
}

type EventServer interface {
	Publish(context.Context, *EventRequest) (*EventResponse, error)
}

// unaryHandler adapts a typed method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](fullMethod string, call func(srv interface{}, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBalance",
			Handler: unaryHandler(methodGetBalance, func(srv interface{}, ctx context.Context, req *BalanceRequest) (*Account, error) {
				return srv.(LedgerServer).GetBalance(ctx, req)
			}),
		},
		{
			MethodName: "Debit",
			Handler: unaryHandler(methodDebit, func(srv interface{}, ctx context.Context, req *DebitRequest) (*DebitResponse, error) {
				return srv.(LedgerServer).Debit(ctx, req)
			}),
		},
		{
			MethodName: "Credit",
			Handler: unaryHandler(methodCredit, func(srv interface{}, ctx context.Context, req *CreditRequest) (*Account, error) {
				return srv.(LedgerServer).Credit(ctx, req)
			}),
		},
		{
			MethodName: "CreateAccount",
			Handler: unaryHandler(methodCreateAccount, func(srv interface{}, ctx context.Context, req *CreateAccountRequest) (*Account, error) {
				return srv.(LedgerServer).CreateAccount(ctx, req)
			}),
		},
	},
	Metadata: "pointledger/v1/ledger",
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: eventServiceName,
	HandlerType: (*EventServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler: unaryHandler(methodPublish, func(srv interface{}, ctx context.Context, req *EventRequest) (*EventResponse, error) {
				return srv.(EventServer).Publish(ctx, req)
			}),
		},
	},
	Metadata: "pointledger/v1/events",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func RegisterEventServer(s grpc.ServiceRegistrar, srv EventServer) {
	s.RegisterService(&eventServiceDesc, srv)
}
