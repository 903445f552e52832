package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a remote Ledger service.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial opens an insecure connection that speaks the JSON codec.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

func (c *Client) GetBalance(ctx context.Context, userID string) (*Account, error) {
	out := new(Account)
	if err := c.conn.Invoke(ctx, methodGetBalance, &BalanceRequest{UserID: userID}, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Debit(ctx context.Context, req *DebitRequest) (*DebitResponse, error) {
	out := new(DebitResponse)
	if err := c.conn.Invoke(ctx, methodDebit, req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Credit(ctx context.Context, req *CreditRequest) (*Account, error) {
	out := new(Account)
	if err := c.conn.Invoke(ctx, methodCredit, req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	out := new(Account)
	if err := c.conn.Invoke(ctx, methodCreateAccount, req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}
