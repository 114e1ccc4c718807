// Package postgres persists contracts in PostgreSQL via database/sql.
//
// Expected schema:
//
//	CREATE TABLE contracts (
//	    id                 UUID PRIMARY KEY,
//	    number             TEXT NOT NULL UNIQUE,
//	    title              TEXT NOT NULL,
//	    content            TEXT NOT NULL DEFAULT '',
//	    template_id        TEXT NOT NULL DEFAULT '',
//	    variables          JSONB NOT NULL DEFAULT '{}',
//	    internal_signer    JSONB NOT NULL,
//	    external_signer    JSONB NOT NULL,
//	    status             TEXT NOT NULL,
//	    content_hash       TEXT NOT NULL DEFAULT '',
//	    completion_hash    TEXT NOT NULL DEFAULT '',
//	    internal_signature JSONB,
//	    external_signature JSONB,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    updated_at         TIMESTAMPTZ NOT NULL,
//	    finalized_at       TIMESTAMPTZ,
//	    completed_at       TIMESTAMPTZ,
//	    cancel_reason      TEXT NOT NULL DEFAULT ''
//	);
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"fabrica/internal/contract/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const contractColumns = `id, number, title, content, template_id, variables, internal_signer, external_signer, status, content_hash, completion_hash, internal_signature, external_signature, created_at, updated_at, finalized_at, completed_at, cancel_reason`

func (s *Store) Create(ctx context.Context, contract *models.Contract) error {
	cols, err := encodeContract(contract)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, cols...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, contractID id.ContractID) (*models.Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE id = $1
	`, contractID.String())
	contract, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return contract, nil
}

// Execute loads the contract under SELECT FOR UPDATE, runs validate then
// mutate, and writes the result back in the same transaction. A validation
// error rolls back with no partial write, which gives transitions their
// compare-and-set semantics: two racing callers serialize on the row lock
// and the second sees the first's status.
func (s *Store) Execute(ctx context.Context, contractID id.ContractID, validate func(*models.Contract) error, mutate func(*models.Contract)) (*models.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin contract execute: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE id = $1
		FOR UPDATE
	`, contractID.String())
	contract, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock contract: %w", err)
	}

	if err := validate(contract); err != nil {
		return nil, err
	}
	mutate(contract)

	cols, err := encodeContract(contract)
	if err != nil {
		return nil, err
	}
	// id stays $1; the remaining columns are rewritten wholesale.
	_, err = tx.ExecContext(ctx, `
		UPDATE contracts SET
			number = $2, title = $3, content = $4, template_id = $5, variables = $6,
			internal_signer = $7, external_signer = $8, status = $9,
			content_hash = $10, completion_hash = $11,
			internal_signature = $12, external_signature = $13,
			created_at = $14, updated_at = $15, finalized_at = $16, completed_at = $17,
			cancel_reason = $18
		WHERE id = $1
	`, cols...)
	if err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit contract execute: %w", err)
	}
	return contract, nil
}

func encodeContract(contract *models.Contract) ([]any, error) {
	variables, err := json.Marshal(contract.Variables)
	if err != nil {
		return nil, fmt.Errorf("encode contract variables: %w", err)
	}
	internalSigner, err := json.Marshal(contract.InternalSigner)
	if err != nil {
		return nil, fmt.Errorf("encode internal signer: %w", err)
	}
	externalSigner, err := json.Marshal(contract.ExternalSigner)
	if err != nil {
		return nil, fmt.Errorf("encode external signer: %w", err)
	}

	var internalSig, externalSig any
	if contract.InternalSignature != nil {
		raw, err := json.Marshal(contract.InternalSignature)
		if err != nil {
			return nil, fmt.Errorf("encode internal signature: %w", err)
		}
		internalSig = raw
	}
	if contract.ExternalSignature != nil {
		raw, err := json.Marshal(contract.ExternalSignature)
		if err != nil {
			return nil, fmt.Errorf("encode external signature: %w", err)
		}
		externalSig = raw
	}

	var finalizedAt, completedAt any
	if contract.FinalizedAt != nil {
		finalizedAt = *contract.FinalizedAt
	}
	if contract.CompletedAt != nil {
		completedAt = *contract.CompletedAt
	}

	return []any{
		contract.ID.String(),
		contract.Number,
		contract.Title,
		contract.Content,
		contract.TemplateID,
		variables,
		internalSigner,
		externalSigner,
		string(contract.Status),
		contract.ContentHash,
		contract.CompletionHash,
		internalSig,
		externalSig,
		contract.CreatedAt,
		contract.UpdatedAt,
		finalizedAt,
		completedAt,
		contract.CancelReason,
	}, nil
}

type contractRow interface {
	Scan(dest ...any) error
}

func scanContract(row contractRow) (*models.Contract, error) {
	var (
		contract       models.Contract
		rawID          string
		variables      []byte
		internalSigner []byte
		externalSigner []byte
		status         string
		internalSig    []byte
		externalSig    []byte
		finalizedAt    sql.NullTime
		completedAt    sql.NullTime
	)
	if err := row.Scan(
		&rawID,
		&contract.Number,
		&contract.Title,
		&contract.Content,
		&contract.TemplateID,
		&variables,
		&internalSigner,
		&externalSigner,
		&status,
		&contract.ContentHash,
		&contract.CompletionHash,
		&internalSig,
		&externalSig,
		&contract.CreatedAt,
		&contract.UpdatedAt,
		&finalizedAt,
		&completedAt,
		&contract.CancelReason,
	); err != nil {
		return nil, err
	}

	contractID, err := id.ParseContractID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse contract id: %w", err)
	}
	contract.ID = contractID
	contract.Status = models.Status(status)

	if err := json.Unmarshal(variables, &contract.Variables); err != nil {
		return nil, fmt.Errorf("decode contract variables: %w", err)
	}
	if err := json.Unmarshal(internalSigner, &contract.InternalSigner); err != nil {
		return nil, fmt.Errorf("decode internal signer: %w", err)
	}
	if err := json.Unmarshal(externalSigner, &contract.ExternalSigner); err != nil {
		return nil, fmt.Errorf("decode external signer: %w", err)
	}
	if len(internalSig) > 0 {
		var rec models.SignatureRecord
		if err := json.Unmarshal(internalSig, &rec); err != nil {
			return nil, fmt.Errorf("decode internal signature: %w", err)
		}
		contract.InternalSignature = &rec
	}
	if len(externalSig) > 0 {
		var rec models.SignatureRecord
		if err := json.Unmarshal(externalSig, &rec); err != nil {
			return nil, fmt.Errorf("decode external signature: %w", err)
		}
		contract.ExternalSignature = &rec
	}
	if finalizedAt.Valid {
		at := finalizedAt.Time
		contract.FinalizedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		contract.CompletedAt = &at
	}
	return &contract, nil
}
