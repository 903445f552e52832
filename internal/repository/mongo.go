package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pointledger/internal/model"
)

// MongoStore keeps the ledger fields embedded in the user document
// (collection "users" by default, _id = user id).
type MongoStore struct {
	users *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = "users"
	}
	return &MongoStore{users: db.Collection(collection)}
}

// EnsureIndexes creates the unique sparse index used for Stripe customer lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "stripe_customer_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("stripe_customer_id_unique"),
	})
	if err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, acct model.UsageAccount) error {
	_, err := s.users.InsertOne(ctx, acct)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("mongo create account: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (model.UsageAccount, error) {
	acct, err := decodeAccount(s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}))
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("mongo get account: %w", err)
	}
	return acct, nil
}

func (s *MongoStore) FindByStripeCustomer(ctx context.Context, customerID string) (model.UsageAccount, error) {
	acct, err := decodeAccount(s.users.FindOne(ctx, bson.D{{Key: "stripe_customer_id", Value: customerID}}))
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("mongo find by customer: %w", err)
	}
	return acct, nil
}

func (s *MongoStore) LinkStripeCustomer(ctx context.Context, userID, customerID string, now time.Time) error {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "stripe_customer_id", Value: customerID},
			{Key: "updated_at", Value: now},
		}}},
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("mongo link customer: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Debit filters on balance >= amount and applies $inc in the same
// FindOneAndUpdate, closing the read-then-write race.
func (s *MongoStore) Debit(ctx context.Context, userID string, amount int64, now time.Time) (model.UsageAccount, error) {
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "balance", Value: bson.D{{Key: "$gte", Value: amount}}},
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: "balance", Value: -amount},
			{Key: "spent_this_cycle", Value: amount},
		}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
	}

	acct, err := s.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, ErrAccountNotFound) {
		current, getErr := s.Get(ctx, userID)
		if getErr != nil {
			return model.UsageAccount{}, getErr
		}
		return current, ErrInsufficientBalance
	}
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("mongo debit: %w", err)
	}
	return acct, nil
}

func (s *MongoStore) Replenish(ctx context.Context, userID string, g Grant) (model.UsageAccount, bool, error) {
	filter := bson.D{
		{Key: "_id", Value: userID},
		{Key: "last_replenished_at", Value: bson.D{{Key: "$lte", Value: g.Due}}},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "balance", Value: cappedAdd(g.Amount, g.Max)},
			{Key: "spent_this_cycle", Value: bson.D{{Key: "$literal", Value: int64(0)}}},
			{Key: "last_replenished_at", Value: g.Now},
			{Key: "updated_at", Value: g.Now},
		}}},
	}

	acct, err := s.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, ErrAccountNotFound) {
		current, getErr := s.Get(ctx, userID)
		if getErr != nil {
			return model.UsageAccount{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return model.UsageAccount{}, false, fmt.Errorf("mongo replenish: %w", err)
	}
	return acct, true, nil
}

func (s *MongoStore) Credit(ctx context.Context, userID string, g Grant) (model.UsageAccount, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "balance", Value: cappedAdd(g.Amount, g.Max)},
			{Key: "last_replenished_at", Value: bson.D{{Key: "$max", Value: bson.A{"$last_replenished_at", g.Now}}}},
			{Key: "updated_at", Value: g.Now},
		}}},
	}

	acct, err := s.findOneAndUpdate(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	if err != nil {
		return model.UsageAccount{}, fmt.Errorf("mongo credit: %w", err)
	}
	return acct, nil
}

func (s *MongoStore) findOneAndUpdate(ctx context.Context, filter, update interface{}) (model.UsageAccount, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return decodeAccount(s.users.FindOneAndUpdate(ctx, filter, update, opts))
}

// cappedAdd is the aggregation expression max(balance, min(balance + amount, limit)).
func cappedAdd(amount, limit int64) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{
		"$balance",
		bson.D{{Key: "$min", Value: bson.A{
			bson.D{{Key: "$add", Value: bson.A{"$balance", amount}}},
			limit,
		}}},
	}}}
}

func decodeAccount(res *mongo.SingleResult) (model.UsageAccount, error) {
	var acct model.UsageAccount
	err := res.Decode(&acct)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return model.UsageAccount{}, err
	}
	acct.LastReplenishedAt = acct.LastReplenishedAt.UTC()
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}
