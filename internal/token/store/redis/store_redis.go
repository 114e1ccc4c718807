// Package redis provides a Redis-backed token store for deployments where
// several instances validate codes against shared state. The atomic
// operations (supersede, attempt increment, consume) run as Lua scripts so
// their guarantees match the postgres store's.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
)

const (
	tokenKeyPrefix    = "fabrica:token:"
	contractKeyPrefix = "fabrica:token:contract:"

	// Superseded and consumed tokens stay readable for history checks well
	// past their own expiry.
	retentionGrace = 30 * 24 * time.Hour

	// Negative script return codes. Each value has exactly one meaning
	// across all scripts.
	statusNotFound  = -2
	statusExhausted = -1
	statusConsumed  = -3
)

// replaceScript marks every unconsumed token for the same recipient as
// consumed, then writes the new token hash and pushes its id onto the
// contract's list (newest first). The superseded token keys are derived from
// the list contents at runtime, so they cannot be declared in KEYS; the store
// assumes all keys live on one node and is not Redis Cluster safe.
var replaceScript = redis.NewScript(`
local prefix = ARGV[1]
local recipient = ARGV[2]
local nowStr = ARGV[3]
local newID = ARGV[4]
local ttlSeconds = tonumber(ARGV[5])

local superseded = 0
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, tokenID in ipairs(ids) do
	local key = prefix .. tokenID
	local vals = redis.call('HMGET', key, 'recipient_email', 'consumed')
	if vals[1] == recipient and vals[2] == '0' then
		redis.call('HSET', key, 'consumed', '1', 'consumed_at', nowStr)
		superseded = 1
	end
end

for i = 6, #ARGV - 1, 2 do
	redis.call('HSET', KEYS[2], ARGV[i], ARGV[i+1])
end
redis.call('EXPIRE', KEYS[2], ttlSeconds)
redis.call('LPUSH', KEYS[1], newID)
redis.call('EXPIRE', KEYS[1], ttlSeconds)
return superseded
`)

// incrementScript bumps the attempt counter only while below the ceiling.
// Returns -2 when the token is gone and -1 when the ceiling was reached.
var incrementScript = redis.NewScript(`
local attempts = redis.call('HGET', KEYS[1], 'attempts')
if not attempts then
	return -2
end
if tonumber(attempts) >= tonumber(ARGV[1]) then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// consumeScript flips the consumed flag exactly once. Returns -2 when the
// token is gone and -3 when it was already consumed.
var consumeScript = redis.NewScript(`
local consumed = redis.call('HGET', KEYS[1], 'consumed')
if not consumed then
	return -2
end
if consumed == '1' then
	return -3
end
redis.call('HSET', KEYS[1], 'consumed', '1', 'consumed_at', ARGV[1])
return 1
`)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Replace(ctx context.Context, tok *models.VerificationToken) (bool, error) {
	ttl := time.Until(tok.ExpiresAt) + retentionGrace
	args := []any{
		tokenKeyPrefix,
		tok.RecipientEmail,
		tok.CreatedAt.UTC().Format(time.RFC3339Nano),
		tok.ID.String(),
		strconv.Itoa(int(ttl.Seconds())),
	}
	args = append(args, hashFields(tok)...)

	superseded, err := replaceScript.Run(ctx, s.client, []string{contractKey(tok.ContractID), tokenKey(tok.ID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("replace token: %w", err)
	}
	return superseded == 1, nil
}

func (s *Store) FindLatest(ctx context.Context, contractID id.ContractID) (*models.VerificationToken, error) {
	rawID, err := s.client.LIndex(ctx, contractKey(contractID), 0).Result()
	if err == redis.Nil {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest token: %w", err)
	}
	return s.load(ctx, contractID, rawID)
}

func (s *Store) ListByContract(ctx context.Context, contractID id.ContractID) ([]*models.VerificationToken, error) {
	rawIDs, err := s.client.LRange(ctx, contractKey(contractID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	tokens := make([]*models.VerificationToken, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		tok, err := s.load(ctx, contractID, rawID)
		if err != nil {
			// Tokens past retention drop out of the history silently.
			if err == sentinel.ErrNotFound {
				continue
			}
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (s *Store) IncrementAttempts(ctx context.Context, tokenID id.TokenID, ceiling int) (int, error) {
	attempts, err := incrementScript.Run(ctx, s.client, []string{tokenKey(tokenID)}, ceiling).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	switch attempts {
	case statusNotFound:
		return 0, sentinel.ErrNotFound
	case statusExhausted:
		return ceiling, sentinel.ErrAttemptsExhausted
	}
	return attempts, nil
}

func (s *Store) MarkConsumed(ctx context.Context, tokenID id.TokenID, now time.Time) error {
	status, err := consumeScript.Run(ctx, s.client, []string{tokenKey(tokenID)}, now.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("mark token consumed: %w", err)
	}
	switch status {
	case statusNotFound:
		return sentinel.ErrNotFound
	case statusConsumed:
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *Store) load(ctx context.Context, contractID id.ContractID, rawID string) (*models.VerificationToken, error) {
	fields, err := s.client.HGetAll(ctx, tokenKeyPrefix+rawID).Result()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}

	tokenID, err := id.ParseTokenID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse token id: %w", err)
	}

	tok := &models.VerificationToken{
		ID:             tokenID,
		ContractID:     contractID,
		RecipientEmail: fields["recipient_email"],
		CodeHash:       fields["code_hash"],
		Consumed:       fields["consumed"] == "1",
	}
	if tok.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("parse token created_at: %w", err)
	}
	if tok.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("parse token expires_at: %w", err)
	}
	if raw := fields["consumed_at"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse token consumed_at: %w", err)
		}
		tok.ConsumedAt = &at
	}
	if tok.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("parse token attempts: %w", err)
	}
	if tok.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, fmt.Errorf("parse token max_attempts: %w", err)
	}
	return tok, nil
}

func hashFields(tok *models.VerificationToken) []any {
	return []any{
		"recipient_email", tok.RecipientEmail,
		"code_hash", tok.CodeHash,
		"created_at", tok.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", tok.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"consumed", "0",
		"consumed_at", "",
		"attempts", "0",
		"max_attempts", strconv.Itoa(tok.MaxAttempts),
	}
}

func tokenKey(tokenID id.TokenID) string {
	return tokenKeyPrefix + tokenID.String()
}

func contractKey(contractID id.ContractID) string {
	return contractKeyPrefix + contractID.String()
}
