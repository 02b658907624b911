package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// OpenCase writes the case and its outbox event in one transaction.
func (r *Repository) OpenCase(ctx context.Context, c domain.ReconciliationCase, event domain.OutboxEvent) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO reconciliation_cases
	              (id, user_id, order_id, account_ref, external_ref, amount, reason, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.OrderID,
		string(c.AccountRef),
		c.ExternalRef,
		c.Amount,
		c.Reason,
		string(c.Status),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert reconciliation case: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation case: %w", err)
	}
	return nil
}

func (r *Repository) GetCase(ctx context.Context, id string) (domain.ReconciliationCase, error) {
	query := `SELECT id, user_id, order_id, account_ref, external_ref, amount, reason, status, created_at, updated_at
	          FROM reconciliation_cases WHERE id = $1`

	var (
		c          domain.ReconciliationCase
		accountRef string
		status     string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.UserID,
		&c.OrderID,
		&accountRef,
		&c.ExternalRef,
		&c.Amount,
		&c.Reason,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReconciliationCase{}, store.ErrCaseNotFound
	}
	if err != nil {
		return domain.ReconciliationCase{}, fmt.Errorf("query reconciliation case: %w", err)
	}
	c.AccountRef = domain.AccountRef(accountRef)
	c.Status = domain.ReconciliationStatus(status)
	return c, nil
}

func (r *Repository) ResolveCase(ctx context.Context, id string, status domain.ReconciliationStatus) error {
	query := `UPDATE reconciliation_cases SET status = $1, updated_at = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update reconciliation case: %w", err)
	}
	return expectOneRow(res, store.ErrCaseNotFound)
}
