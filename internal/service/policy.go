package service

import (
	"time"

	"pointledger/internal/model"
	"pointledger/internal/repository"
)

// CycleState is where an account stands in its billing cycle.
type CycleState int

const (
	CycleCurrent CycleState = iota
	CycleDue
)

func (s CycleState) String() string {
	if s == CycleDue {
		return "due"
	}
	return "current"
}

// Policy holds the ledger constants.
type Policy struct {
	CycleLength     time.Duration
	ReplenishAmount int64
	MaxBalance      int64
	InitialGrant    int64
	CreditAmount    int64
}

func DefaultPolicy() Policy {
	return Policy{
		CycleLength:     model.CycleLength,
		ReplenishAmount: model.ReplenishAmount,
		MaxBalance:      model.MaxBalance,
		InitialGrant:    model.InitialGrant,
		CreditAmount:    model.CreditAmount,
	}
}

// State reports CycleDue once a full cycle has elapsed since the last replenishment.
func (p Policy) State(acct model.UsageAccount, now time.Time) CycleState {
	if now.Sub(acct.LastReplenishedAt) >= p.CycleLength {
		return CycleDue
	}
	return CycleCurrent
}

// NextReplenishAt is the earliest time the account becomes due.
func (p Policy) NextReplenishAt(acct model.UsageAccount) time.Time {
	return acct.LastReplenishedAt.Add(p.CycleLength)
}

// replenishGrant grants one ReplenishAmount regardless of how many cycles
// elapsed; Due is the newest last_replenished_at that still qualifies.
func (p Policy) replenishGrant(now time.Time) repository.Grant {
	return repository.Grant{
		Amount: p.ReplenishAmount,
		Max:    p.MaxBalance,
		Now:    now,
		Due:    now.Add(-p.CycleLength),
	}
}

func (p Policy) creditGrant(amount int64, now time.Time) repository.Grant {
	return repository.Grant{Amount: amount, Max: p.MaxBalance, Now: now}
}
