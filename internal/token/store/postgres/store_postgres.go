// Package postgres persists verification tokens in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE verification_tokens (
//	    id              UUID PRIMARY KEY,
//	    contract_id     UUID NOT NULL,
//	    recipient_email TEXT NOT NULL,
//	    code_hash       TEXT NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    expires_at      TIMESTAMPTZ NOT NULL,
//	    consumed        BOOLEAN NOT NULL DEFAULT FALSE,
//	    consumed_at     TIMESTAMPTZ,
//	    attempts        INT NOT NULL DEFAULT 0,
//	    max_attempts    INT NOT NULL
//	);
//	CREATE UNIQUE INDEX verification_tokens_active_uniq
//	    ON verification_tokens (contract_id, recipient_email)
//	    WHERE NOT consumed;
//	CREATE INDEX verification_tokens_contract_idx
//	    ON verification_tokens (contract_id, created_at DESC);
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
)

// Store is pure I/O. All validation ordering and outcome classification
// belongs in the service; the store only guarantees atomicity of the
// supersede, attempt-increment, and consume operations.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const tokenColumns = `id, contract_id, recipient_email, code_hash, created_at, expires_at, consumed, consumed_at, attempts, max_attempts`

// Replace supersedes the active token for (contract, recipient) and inserts
// tok in one transaction. The partial unique index backs the one-active-token
// invariant; a 23505 from a concurrent issuance surfaces as ErrConflict.
func (s *Store) Replace(ctx context.Context, tok *models.VerificationToken) (superseded bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin replace token: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE verification_tokens
		SET consumed = TRUE, consumed_at = $3
		WHERE contract_id = $1 AND recipient_email = $2 AND NOT consumed
	`, tok.ContractID.String(), tok.RecipientEmail, tok.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("supersede token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("supersede token rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO verification_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL, 0, $7)
	`,
		tok.ID.String(),
		tok.ContractID.String(),
		tok.RecipientEmail,
		tok.CodeHash,
		tok.CreatedAt,
		tok.ExpiresAt,
		tok.MaxAttempts,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, sentinel.ErrConflict
		}
		return false, fmt.Errorf("insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit replace token: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) FindLatest(ctx context.Context, contractID id.ContractID) (*models.VerificationToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM verification_tokens
		WHERE contract_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, contractID.String())
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest token: %w", err)
	}
	return tok, nil
}

func (s *Store) ListByContract(ctx context.Context, contractID id.ContractID) ([]*models.VerificationToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM verification_tokens
		WHERE contract_id = $1
		ORDER BY created_at DESC
	`, contractID.String())
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.VerificationToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// IncrementAttempts moves the counter by one only while below ceiling. The
// conditional UPDATE makes the ceiling hold under concurrent validations:
// once attempts reaches ceiling no further row matches.
func (s *Store) IncrementAttempts(ctx context.Context, tokenID id.TokenID, ceiling int) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE verification_tokens
		SET attempts = attempts + 1
		WHERE id = $1 AND attempts < $2
		RETURNING attempts
	`, tokenID.String(), ceiling).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	// No row matched: either the token is unknown or the ceiling is reached.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM verification_tokens WHERE id = $1)
	`, tokenID.String()).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check token exists: %w", err)
	}
	if !exists {
		return 0, sentinel.ErrNotFound
	}
	return ceiling, sentinel.ErrAttemptsExhausted
}

// MarkConsumed consumes the token exactly once via a compare-and-set on the
// consumed flag.
func (s *Store) MarkConsumed(ctx context.Context, tokenID id.TokenID, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_tokens
		SET consumed = TRUE, consumed_at = $2
		WHERE id = $1 AND NOT consumed
	`, tokenID.String(), now)
	if err != nil {
		return fmt.Errorf("mark token consumed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark token consumed rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM verification_tokens WHERE id = $1)
		`, tokenID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("check token exists: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

type tokenRow interface {
	Scan(dest ...any) error
}

func scanToken(row tokenRow) (*models.VerificationToken, error) {
	var (
		tok         models.VerificationToken
		rawID       string
		rawContract string
		consumedAt  sql.NullTime
	)
	if err := row.Scan(
		&rawID,
		&rawContract,
		&tok.RecipientEmail,
		&tok.CodeHash,
		&tok.CreatedAt,
		&tok.ExpiresAt,
		&tok.Consumed,
		&consumedAt,
		&tok.Attempts,
		&tok.MaxAttempts,
	); err != nil {
		return nil, err
	}

	tokenID, err := id.ParseTokenID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse token id: %w", err)
	}
	contractID, err := id.ParseContractID(rawContract)
	if err != nil {
		return nil, fmt.Errorf("parse contract id: %w", err)
	}
	tok.ID = tokenID
	tok.ContractID = contractID
	if consumedAt.Valid {
		t := consumedAt.Time
		tok.ConsumedAt = &t
	}
	return &tok, nil
}
