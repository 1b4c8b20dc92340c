// Package redis provides a Redis-backed AccountRepository.
//
// Each account is a hash keyed by its surrogate ID, with a string key mapping
// the external identity to that ID. Creation and balance updates run as Lua
// scripts, so they are atomic across processes sharing the Redis instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/rewritegate"
)

// Store is a Redis-backed AccountRepository.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var (
	_ rewritegate.AccountRepository = (*Store)(nil)
	_ rewritegate.AccountAdmin      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "rewritegate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed AccountRepository.
// The client must be a connected *goredis.Client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "rewritegate:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) seqKey() string             { return s.keyPrefix + "account:seq" }
func (s *Store) accountKeyPrefix() string   { return s.keyPrefix + "account:" }
func (s *Store) accountKey(id int64) string { return s.accountKeyPrefix() + strconv.FormatInt(id, 10) }
func (s *Store) externalKey(externalID int64) string {
	return s.keyPrefix + "external:" + strconv.FormatInt(externalID, 10)
}

// createScript creates an account unless the external identity is taken.
// KEYS[1] = external index key
// KEYS[2] = id sequence key
// ARGV[1] = account key prefix
// ARGV[2..7] = external_id, display_name, provider, model, token_balance, now
//
// Returns the new account hash, or nil if the identity already exists.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return false
end
local id = redis.call("INCR", KEYS[2])
local key = ARGV[1] .. id
redis.call("HSET", key,
    "id", id,
    "external_id", ARGV[2],
    "display_name", ARGV[3],
    "provider", ARGV[4],
    "model", ARGV[5],
    "token_balance", ARGV[6],
    "is_exempt", "0",
    "created_at", ARGV[7],
    "updated_at", ARGV[7])
redis.call("SET", KEYS[1], id)
return redis.call("HGETALL", key)
`)

// decrementScript atomically subtracts from the balance.
// KEYS[1] = account key
// ARGV[1] = amount
// ARGV[2] = now
var decrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return false
end
redis.call("HINCRBY", KEYS[1], "token_balance", -tonumber(ARGV[1]))
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return redis.call("HGETALL", KEYS[1])
`)

// updateScript sets fields on an existing account.
// KEYS[1] = account key
// ARGV = field, value pairs
var updateScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return false
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return redis.call("HGETALL", KEYS[1])
`)

func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (rewritegate.Account, error) {
	id, err := s.idOf(ctx, externalID)
	if err != nil {
		return rewritegate.Account{}, err
	}

	fields, err := s.client.HGetAll(ctx, s.accountKey(id)).Result()
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/redis: find account: %w", err)
	}
	if len(fields) == 0 {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	return parseAccount(fields)
}

func (s *Store) Insert(ctx context.Context, acc rewritegate.NewAccount) (rewritegate.Account, error) {
	res, err := createScript.Run(ctx, s.client,
		[]string{s.externalKey(acc.ExternalID), s.seqKey()},
		s.accountKeyPrefix(), acc.ExternalID, acc.DisplayName, string(acc.Provider), string(acc.Model),
		acc.TokenBalance, s.now().Unix(),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return rewritegate.Account{}, rewritegate.ErrDuplicateAccount
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/redis: insert account: %w", err)
	}
	return parseAccount(pairs(res))
}

func (s *Store) DecrementBalance(ctx context.Context, id int64, amount int64) (rewritegate.Account, error) {
	res, err := decrementScript.Run(ctx, s.client,
		[]string{s.accountKey(id)},
		amount, s.now().Unix(),
	).Slice()
	return s.result("decrement balance", res, err)
}

func (s *Store) UpdateSelection(ctx context.Context, id int64, provider rewritegate.ProviderName, model rewritegate.ModelName) (rewritegate.Account, error) {
	return s.update(ctx, "update selection", id,
		"provider", string(provider),
		"model", string(model),
	)
}

func (s *Store) SetExempt(ctx context.Context, externalID int64, exempt bool) (rewritegate.Account, error) {
	id, err := s.idOf(ctx, externalID)
	if err != nil {
		return rewritegate.Account{}, err
	}
	flag := "0"
	if exempt {
		flag = "1"
	}
	return s.update(ctx, "set exempt", id, "is_exempt", flag)
}

func (s *Store) SetBalance(ctx context.Context, externalID int64, balance int64) (rewritegate.Account, error) {
	id, err := s.idOf(ctx, externalID)
	if err != nil {
		return rewritegate.Account{}, err
	}
	return s.update(ctx, "set balance", id, "token_balance", strconv.FormatInt(balance, 10))
}

func (s *Store) update(ctx context.Context, op string, id int64, fieldValues ...any) (rewritegate.Account, error) {
	args := append(fieldValues, "updated_at", s.now().Unix())
	res, err := updateScript.Run(ctx, s.client, []string{s.accountKey(id)}, args...).Slice()
	return s.result(op, res, err)
}

func (s *Store) result(op string, res []any, err error) (rewritegate.Account, error) {
	if errors.Is(err, goredis.Nil) {
		return rewritegate.Account{}, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return rewritegate.Account{}, fmt.Errorf("rewritegate/redis: %s: %w", op, err)
	}
	return parseAccount(pairs(res))
}

func (s *Store) idOf(ctx context.Context, externalID int64) (int64, error) {
	id, err := s.client.Get(ctx, s.externalKey(externalID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, rewritegate.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("rewritegate/redis: lookup external id: %w", err)
	}
	return id, nil
}

// pairs turns a flat HGETALL reply into a map.
func pairs(res []any) map[string]string {
	out := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		out[k] = v
	}
	return out
}

func parseAccount(f map[string]string) (rewritegate.Account, error) {
	var (
		acc rewritegate.Account
		err error
	)
	parse := func(field string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(f[field], 10, 64)
		if err != nil {
			err = fmt.Errorf("rewritegate/redis: field %s: %w", field, err)
		}
		return v
	}

	acc.ID = parse("id")
	acc.ExternalID = parse("external_id")
	acc.TokenBalance = parse("token_balance")
	acc.Exempt = parse("is_exempt") == 1
	acc.CreatedAt = time.Unix(parse("created_at"), 0).UTC()
	acc.UpdatedAt = time.Unix(parse("updated_at"), 0).UTC()
	if err != nil {
		return rewritegate.Account{}, err
	}

	acc.DisplayName = f["display_name"]
	acc.Provider = rewritegate.ProviderName(f["provider"])
	acc.Model = rewritegate.ModelName(f["model"])
	return acc, nil
}
