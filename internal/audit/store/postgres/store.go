package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabrica/internal/audit"
	id "fabrica/pkg/domain"
)

// Store persists audit events in PostgreSQL through a pgx pool. The table is
// append-only: there is no update or delete path, and a bigserial sequence
// column provides the total per-contract ordering independent of timestamp
// resolution.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    id          UUID NOT NULL UNIQUE,
//	    contract_id UUID NOT NULL,
//	    kind        TEXT NOT NULL,
//	    description TEXT NOT NULL DEFAULT '',
//	    payload     JSONB NOT NULL DEFAULT '{}',
//	    actor_id    UUID,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX audit_events_contract_idx ON audit_events (contract_id, seq);
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts one event. Duplicate event IDs are rejected by the unique
// constraint, which keeps accidental double-emission visible.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := audit.EncodePayload(event.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	var actorID *string
	if event.ActorID != nil {
		a := event.ActorID.String()
		actorID = &a
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, contract_id, kind, description, payload, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.ID.String(),
		event.ContractID.String(),
		string(event.Kind),
		event.Description,
		payload,
		actorID,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByContract returns a contract's events in insertion order.
func (s *Store) ListByContract(ctx context.Context, contractID id.ContractID) ([]audit.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, description, payload, actor_id, created_at
		FROM audit_events
		WHERE contract_id = $1
		ORDER BY seq
	`, contractID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			eventID   string
			kind      string
			desc      string
			payload   []byte
			actorID   *string
			createdAt time.Time
		)
		if err := rows.Scan(&eventID, &kind, &desc, &payload, &actorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event := audit.Event{
			ContractID:  contractID,
			Kind:        audit.Kind(kind),
			Description: desc,
			CreatedAt:   createdAt,
		}
		if parsed, err := uuid.Parse(eventID); err == nil {
			event.ID = id.EventID(parsed)
		}
		if actorID != nil {
			if parsed, err := uuid.Parse(*actorID); err == nil {
				signerID := id.SignerID(parsed)
				event.ActorID = &signerID
			}
		}
		decoded, err := audit.DecodePayload(event.Kind, payload)
		if err != nil {
			return nil, err
		}
		event.Payload = decoded

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
