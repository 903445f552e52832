package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointledger/internal/model"
)

var contractNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const contractCycle = 30 * 24 * time.Hour

func newUserID() string {
	return "user-" + uuid.NewString()
}

func seedAccount(t *testing.T, s Store, balance, spent int64, last time.Time) string {
	t.Helper()
	id := newUserID()
	require.NoError(t, s.Create(context.Background(), model.UsageAccount{
		UserID:            id,
		Balance:           balance,
		SpentThisCycle:    spent,
		LastReplenishedAt: last,
		CreatedAt:         last,
		UpdatedAt:         last,
	}))
	return id
}

func replenishGrant(now time.Time) Grant {
	return Grant{Amount: 5000, Max: 20000, Now: now, Due: now.Add(-contractCycle)}
}

// runStoreContract checks the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 5000, 0, contractNow)

		acct, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, acct.UserID)
		assert.Equal(t, int64(5000), acct.Balance)
		assert.True(t, contractNow.Equal(acct.LastReplenishedAt))

		err = s.Create(ctx, model.UsageAccount{UserID: id, Balance: 1, LastReplenishedAt: contractNow})
		assert.ErrorIs(t, err, ErrAccountExists)

		_, err = s.Get(ctx, newUserID())
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("Debit", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 10, 3, contractNow)

		acct, err := s.Debit(ctx, id, 4, contractNow.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(6), acct.Balance)
		assert.Equal(t, int64(7), acct.SpentThisCycle)

		acct, err = s.Debit(ctx, id, 7, contractNow.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(6), acct.Balance)

		stored, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(6), stored.Balance)
		assert.Equal(t, int64(7), stored.SpentThisCycle)

		_, err = s.Debit(ctx, newUserID(), 1, contractNow)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("ReplenishOnlyWhenDue", func(t *testing.T) {
		s := newStore(t)
		last := contractNow.Add(-10 * 24 * time.Hour)
		id := seedAccount(t, s, 100, 40, last)

		acct, applied, err := s.Replenish(ctx, id, replenishGrant(contractNow))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, int64(100), acct.Balance)
		assert.Equal(t, int64(40), acct.SpentThisCycle)

		later := last.Add(contractCycle)
		acct, applied, err = s.Replenish(ctx, id, replenishGrant(later))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(5100), acct.Balance)
		assert.Equal(t, int64(0), acct.SpentThisCycle)
		assert.True(t, later.Equal(acct.LastReplenishedAt))

		_, applied, err = s.Replenish(ctx, id, replenishGrant(later))
		require.NoError(t, err)
		assert.False(t, applied)

		_, _, err = s.Replenish(ctx, newUserID(), replenishGrant(contractNow))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("ReplenishCapped", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 19000, 0, contractNow.Add(-31*24*time.Hour))

		acct, applied, err := s.Replenish(ctx, id, replenishGrant(contractNow))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(20000), acct.Balance)
	})

	t.Run("Credit", func(t *testing.T) {
		s := newStore(t)
		last := contractNow.Add(-5 * 24 * time.Hour)
		id := seedAccount(t, s, 18000, 12, last)

		acct, err := s.Credit(ctx, id, Grant{Amount: 5000, Max: 20000, Now: contractNow})
		require.NoError(t, err)
		assert.Equal(t, int64(20000), acct.Balance)
		assert.Equal(t, int64(12), acct.SpentThisCycle)
		assert.True(t, contractNow.Equal(acct.LastReplenishedAt))

		// A grant stamped earlier never moves the cycle start backwards.
		acct, err = s.Credit(ctx, id, Grant{Amount: 1, Max: 30000, Now: last})
		require.NoError(t, err)
		assert.Equal(t, int64(20001), acct.Balance)
		assert.True(t, contractNow.Equal(acct.LastReplenishedAt))

		_, err = s.Credit(ctx, newUserID(), Grant{Amount: 1, Max: 20000, Now: contractNow})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("GrantNeverLowersBalanceAboveMax", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 20000, 0, contractNow.Add(-contractCycle))

		acct, err := s.Credit(ctx, id, Grant{Amount: 5000, Max: 10000, Now: contractNow})
		require.NoError(t, err)
		assert.Equal(t, int64(20000), acct.Balance)

		acct, applied, err := s.Replenish(ctx, id, Grant{Amount: 5000, Max: 10000, Now: contractNow.Add(contractCycle), Due: contractNow})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(20000), acct.Balance)
		assert.Equal(t, int64(0), acct.SpentThisCycle)
	})

	t.Run("StripeCustomer", func(t *testing.T) {
		s := newStore(t)
		a := seedAccount(t, s, 0, 0, contractNow)
		b := seedAccount(t, s, 0, 0, contractNow)
		cus1, cus2 := "cus_"+uuid.NewString(), "cus_"+uuid.NewString()

		require.NoError(t, s.LinkStripeCustomer(ctx, a, cus1, contractNow))
		found, err := s.FindByStripeCustomer(ctx, cus1)
		require.NoError(t, err)
		assert.Equal(t, a, found.UserID)

		assert.ErrorIs(t, s.LinkStripeCustomer(ctx, b, cus1, contractNow), ErrAccountExists)

		require.NoError(t, s.LinkStripeCustomer(ctx, a, cus2, contractNow))
		_, err = s.FindByStripeCustomer(ctx, cus1)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		found, err = s.FindByStripeCustomer(ctx, cus2)
		require.NoError(t, err)
		assert.Equal(t, a, found.UserID)

		assert.ErrorIs(t, s.LinkStripeCustomer(ctx, newUserID(), "cus_x", contractNow), ErrAccountNotFound)
	})

	t.Run("ConcurrentDebitNeverOverspends", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 50, 0, contractNow)

		var wg sync.WaitGroup
		var wins atomic.Int64
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Debit(ctx, id, 1, contractNow)
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(50), wins.Load())
		acct, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.Balance)
		assert.Equal(t, int64(50), acct.SpentThisCycle)
	})

	t.Run("ConcurrentReplenishAppliesOnce", func(t *testing.T) {
		s := newStore(t)
		id := seedAccount(t, s, 0, 0, contractNow.Add(-40*24*time.Hour))

		var wg sync.WaitGroup
		var applied atomic.Int64
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Replenish(ctx, id, replenishGrant(contractNow))
				if assert.NoError(t, err) && ok {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), applied.Load())
		acct, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), acct.Balance)
	})
}
