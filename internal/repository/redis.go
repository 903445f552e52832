package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pointledger/internal/model"
)

var (
	//go:embed lua/create.lua
	createLua string
	//go:embed lua/debit.lua
	debitLua string
	//go:embed lua/replenish.lua
	replenishLua string
	//go:embed lua/credit.lua
	creditLua string
	//go:embed lua/link.lua
	linkLua string

	createScript    = redis.NewScript(createLua)
	debitScript     = redis.NewScript(debitLua)
	replenishScript = redis.NewScript(replenishLua)
	creditScript    = redis.NewScript(creditLua)
	linkScript      = redis.NewScript(linkLua)
)

// RedisStore keeps each account in a hash and performs every mutation in a
// Lua script, so the balance check and the write are one atomic step.
// Timestamps are stored as unix milliseconds.
type RedisStore struct {
	redisClient redis.Cmdable
	keyPrefix   string
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithRedisKeyPrefix sets the key prefix (default "points:").
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{redisClient: rdb, keyPrefix: "points:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) accountKey(userID string) string {
	return fmt.Sprintf("%saccount:%s", s.keyPrefix, userID)
}

func (s *RedisStore) customerPrefix() string {
	return s.keyPrefix + "customer:"
}

func (s *RedisStore) customerKey(customerID string) string {
	return s.customerPrefix() + customerID
}

func (s *RedisStore) Create(ctx context.Context, acct model.UsageAccount) error {
	customerKey := s.customerKey(acct.StripeCustomerID)
	res, err := createScript.Run(ctx, s.redisClient,
		[]string{s.accountKey(acct.UserID), customerKey},
		acct.UserID,
		acct.StripeCustomerID,
		acct.Balance,
		acct.SpentThisCycle,
		acct.LastReplenishedAt.UnixMilli(),
		acct.CreatedAt.UnixMilli(),
		acct.UpdatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis create account: %w", err)
	}
	if res == 0 {
		return ErrAccountExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (model.UsageAccount, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("redis get account: %w", err)
	}
	if len(fields) == 0 {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	return accountFromHash(fields)
}

func (s *RedisStore) FindByStripeCustomer(ctx context.Context, customerID string) (model.UsageAccount, error) {
	userID, err := s.redisClient.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("redis find by customer: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *RedisStore) LinkStripeCustomer(ctx context.Context, userID, customerID string, now time.Time) error {
	res, err := linkScript.Run(ctx, s.redisClient,
		[]string{s.accountKey(userID), s.customerKey(customerID)},
		userID, customerID, now.UnixMilli(), s.customerPrefix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis link customer: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrAccountExists
	default:
		return ErrAccountNotFound
	}
}

func (s *RedisStore) Debit(ctx context.Context, userID string, amount int64, now time.Time) (model.UsageAccount, error) {
	status, acct, err := s.runAccountScript(ctx, debitScript, userID, amount, now.UnixMilli())
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("redis debit: %w", err)
	}
	switch status {
	case 1:
		return acct, nil
	case -1:
		return model.UsageAccount{}, ErrAccountNotFound
	case -2:
		return acct, ErrInsufficientBalance
	default:
		return model.UsageAccount{}, fmt.Errorf("redis debit: unknown status from Lua: %d", status)
	}
}

func (s *RedisStore) Replenish(ctx context.Context, userID string, g Grant) (model.UsageAccount, bool, error) {
	status, acct, err := s.runAccountScript(ctx, replenishScript, userID,
		g.Amount, g.Max, g.Now.UnixMilli(), g.Due.UnixMilli())
	if err != nil {
		return model.UsageAccount{}, false, fmt.Errorf("redis replenish: %w", err)
	}
	switch status {
	case 1:
		return acct, true, nil
	case 0:
		return acct, false, nil
	case -1:
		return model.UsageAccount{}, false, ErrAccountNotFound
	default:
		return model.UsageAccount{}, false, fmt.Errorf("redis replenish: unknown status from Lua: %d", status)
	}
}

func (s *RedisStore) Credit(ctx context.Context, userID string, g Grant) (model.UsageAccount, error) {
	status, acct, err := s.runAccountScript(ctx, creditScript, userID, g.Amount, g.Max, g.Now.UnixMilli())
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("redis credit: %w", err)
	}
	if status == -1 {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	return acct, nil
}

// runAccountScript runs a script that replies {status, HGETALL}.
func (s *RedisStore) runAccountScript(ctx context.Context, script *redis.Script, userID string, args ...interface{}) (int64, model.UsageAccount, error) {
	result, err := script.Run(ctx, s.redisClient, []string{s.accountKey(userID)}, args...).Result()
	if err != nil {
		return 0, model.UsageAccount{}, err
	}

	resArray, ok := result.([]interface{})
	if !ok || len(resArray) < 2 {
		return 0, model.UsageAccount{}, errors.New("unexpected response format from Redis")
	}
	status, ok := resArray[0].(int64)
	if !ok {
		return 0, model.UsageAccount{}, errors.New("unexpected status type from Redis")
	}
	raw, _ := resArray[1].([]interface{})
	if len(raw) == 0 {
		return status, model.UsageAccount{}, nil
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		fields[k] = v
	}
	acct, err := accountFromHash(fields)
	if err != nil {
		return 0, model.UsageAccount{}, err
	}
	return status, acct, nil
}

func accountFromHash(fields map[string]string) (model.UsageAccount, error) {
	ints := make(map[string]int64, 5)
	for _, name := range []string{"balance", "spent_this_cycle", "last_replenished_at", "created_at", "updated_at"} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return model.UsageAccount{}, fmt.Errorf("parse %s: %w", name, err)
		}
		ints[name] = v
	}
	return model.UsageAccount{
		UserID:            fields["user_id"],
		StripeCustomerID:  fields["stripe_customer_id"],
		Balance:           ints["balance"],
		SpentThisCycle:    ints["spent_this_cycle"],
		LastReplenishedAt: time.UnixMilli(ints["last_replenished_at"]).UTC(),
		CreatedAt:         time.UnixMilli(ints["created_at"]).UTC(),
		UpdatedAt:         time.UnixMilli(ints["updated_at"]).UTC(),
	}, nil
}
