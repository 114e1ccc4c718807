//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fabrica/internal/token/models"
	"fabrica/internal/token/store/postgres"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
	"fabrica/pkg/testutil/containers"
)

const tokenSchema = `
CREATE TABLE IF NOT EXISTS verification_tokens (
    id              UUID PRIMARY KEY,
    contract_id     UUID NOT NULL,
    recipient_email TEXT NOT NULL,
    code_hash       TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    consumed        BOOLEAN NOT NULL DEFAULT FALSE,
    consumed_at     TIMESTAMPTZ,
    attempts        INT NOT NULL DEFAULT 0,
    max_attempts    INT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS verification_tokens_active_uniq
    ON verification_tokens (contract_id, recipient_email)
    WHERE NOT consumed;
CREATE INDEX IF NOT EXISTS verification_tokens_contract_idx
    ON verification_tokens (contract_id, created_at DESC);
`

type PostgresTokenStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresTokenStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTokenStoreSuite))
}

func (s *PostgresTokenStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.postgres.Exec(s.T(), tokenSchema)
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresTokenStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "verification_tokens"))
}

func newToken(contractID id.ContractID, createdAt time.Time) *models.VerificationToken {
	return &models.VerificationToken{
		ID:             id.NewTokenID(),
		ContractID:     contractID,
		RecipientEmail: "carlos@embalagens.com.br",
		CodeHash:       "$2a$10$fakehashfakehashfakehashfakehashfakehashfakehashfak",
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(24 * time.Hour),
		MaxAttempts:    5,
	}
}

func (s *PostgresTokenStoreSuite) TestReplaceSupersedesActiveToken() {
	ctx := context.Background()
	contractID := id.NewContractID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	first := newToken(contractID, base)
	superseded, err := s.store.Replace(ctx, first)
	s.Require().NoError(err)
	s.False(superseded)

	second := newToken(contractID, base.Add(time.Minute))
	superseded, err = s.store.Replace(ctx, second)
	s.Require().NoError(err)
	s.True(superseded)

	latest, err := s.store.FindLatest(ctx, contractID)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)
	s.False(latest.Consumed)

	all, err := s.store.ListByContract(ctx, contractID)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(second.ID, all[0].ID)
	s.True(all[1].Consumed, "superseded token must be consumed")
	s.Require().NotNil(all[1].ConsumedAt)
}

func (s *PostgresTokenStoreSuite) TestFindLatestUnknownContract() {
	_, err := s.store.FindLatest(context.Background(), id.NewContractID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresTokenStoreSuite) TestIncrementAttemptsStopsAtCeiling() {
	ctx := context.Background()
	tok := newToken(id.NewContractID(), time.Now().UTC())
	_, err := s.store.Replace(ctx, tok)
	s.Require().NoError(err)

	for i := 1; i <= tok.MaxAttempts; i++ {
		attempts, err := s.store.IncrementAttempts(ctx, tok.ID, tok.MaxAttempts)
		s.Require().NoError(err)
		s.Equal(i, attempts)
	}

	_, err = s.store.IncrementAttempts(ctx, tok.ID, tok.MaxAttempts)
	s.ErrorIs(err, sentinel.ErrAttemptsExhausted)
}

func (s *PostgresTokenStoreSuite) TestIncrementAttemptsConcurrent() {
	ctx := context.Background()
	tok := newToken(id.NewContractID(), time.Now().UTC())
	_, err := s.store.Replace(ctx, tok)
	s.Require().NoError(err)

	const goroutines = 30
	var wg sync.WaitGroup
	var counted, exhausted atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.IncrementAttempts(ctx, tok.ID, tok.MaxAttempts)
			switch {
			case err == nil:
				counted.Add(1)
			case errors.Is(err, sentinel.ErrAttemptsExhausted):
				exhausted.Add(1)
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(tok.MaxAttempts), counted.Load())
	s.Equal(int32(goroutines-tok.MaxAttempts), exhausted.Load())

	stored, err := s.store.FindLatest(ctx, tok.ContractID)
	s.Require().NoError(err)
	s.Equal(tok.MaxAttempts, stored.Attempts)
}

func (s *PostgresTokenStoreSuite) TestMarkConsumedExactlyOnce() {
	ctx := context.Background()
	tok := newToken(id.NewContractID(), time.Now().UTC())
	_, err := s.store.Replace(ctx, tok)
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.MarkConsumed(ctx, tok.ID, now))
	s.ErrorIs(s.store.MarkConsumed(ctx, tok.ID, now), sentinel.ErrAlreadyUsed)
	s.ErrorIs(s.store.MarkConsumed(ctx, id.NewTokenID(), now), sentinel.ErrNotFound)
}
