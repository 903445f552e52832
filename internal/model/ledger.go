package model

import "time"

// Ledger defaults. Config may override each of them.
const (
	CycleLength     = 30 * 24 * time.Hour
	ReplenishAmount = int64(5000)
	MaxBalance      = int64(20000)
	InitialGrant    = int64(5000)
	CreditAmount    = int64(5000)
)

// UsageAccount is the ledger part of a user record.
type UsageAccount struct {
	UserID            string    `json:"user_id" bson:"_id"`
	StripeCustomerID  string    `json:"stripe_customer_id,omitempty" bson:"stripe_customer_id,omitempty"`
	Balance           int64     `json:"balance" bson:"balance"`
	SpentThisCycle    int64     `json:"spent_this_cycle" bson:"spent_this_cycle"`
	LastReplenishedAt time.Time `json:"last_replenished_at" bson:"last_replenished_at"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
}

type DebitRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"gte=0"`
	Feature        string `json:"feature,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// DebitResult reports the outcome of a debit. A rejected debit is not an error:
// Success is false and CurrentBalance carries the untouched balance.
type DebitResult struct {
	Success        bool          `json:"success"`
	Account        *UsageAccount `json:"account,omitempty"`
	CurrentBalance int64         `json:"current_balance"`
	RequiredAmount int64         `json:"required_amount"`
}

type CreditRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Reference string `json:"reference,omitempty"`
}

type CreateAccountRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
}
