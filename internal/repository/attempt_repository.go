package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhologic12/eshop-mvp/domain"
)

func (r *Repository) RecordAttempt(ctx context.Context, a domain.PaymentAttempt) error {
	query := `INSERT INTO payment_attempts (id, user_id, amount, success, reason, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, a.ID, a.UserID, a.Amount, a.Success, a.Reason, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

func (r *Repository) ListAttempts(ctx context.Context, f domain.AttemptFilter) ([]domain.PaymentAttempt, error) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Success != nil {
		args = append(args, *f.Success)
		conds = append(conds, fmt.Sprintf("success = $%d", len(args)))
	}

	query := `SELECT id, user_id, amount, success, reason, created_at FROM payment_attempts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		var a domain.PaymentAttempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.Amount, &a.Success, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}
