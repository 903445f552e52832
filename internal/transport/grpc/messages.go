package grpc

import "time"

type BalanceRequest struct {
	UserID string `json:"user_id"`
}

type Account struct {
	UserID            string    `json:"user_id"`
	StripeCustomerID  string    `json:"stripe_customer_id,omitempty"`
	Balance           int64     `json:"balance"`
	SpentThisCycle    int64     `json:"spent_this_cycle"`
	LastReplenishedAt time.Time `json:"last_replenished_at"`
}

type DebitRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Feature        string `json:"feature,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// DebitResponse carries a rejected debit as Success=false, not as a status error.
type DebitResponse struct {
	Success        bool     `json:"success"`
	Account        *Account `json:"account,omitempty"`
	CurrentBalance int64    `json:"current_balance"`
	RequiredAmount int64    `json:"required_amount"`
}

type CreditRequest struct {
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type CreateAccountRequest struct {
	UserID           string `json:"user_id"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
}

type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success bool `json:"success"`
}
