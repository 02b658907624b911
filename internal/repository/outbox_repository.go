package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jhologic12/eshop-mvp/domain"
)

func insertEvent(ctx context.Context, ex execer, e domain.OutboxEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `INSERT INTO outbox (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4)`

	// payload goes in as text: lib/pq would send []byte as bytea
	if _, err := ex.ExecContext(ctx, query, e.AggregateID, e.EventType, string(e.Payload), e.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox
	          WHERE processed_at IS NULL
	          ORDER BY id
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		e := &domain.OutboxEvent{}
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox event: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("outbox event %d not found", id))
}
