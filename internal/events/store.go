package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists domain events in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const insertDomainEvent = `
INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, now())
RETURNING id, topic, aggregate_id, payload, occurred_at`

func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (Event, error) {
	var ev Event
	err := s.pool.QueryRow(ctx, insertDomainEvent, uuid.New(), topic, aggregateID, payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}

const listEventsForAggregate = `
SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events
WHERE aggregate_id = $1
ORDER BY occurred_at ASC`

// ListForAggregate returns every event recorded for the aggregate, oldest first.
func (s *Store) ListForAggregate(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, listEventsForAggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
