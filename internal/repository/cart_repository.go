package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

func (r *Repository) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	query := `SELECT user_id, product_id, quantity, added_at
	          FROM cart_lines WHERE user_id = $1 ORDER BY added_at, product_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.UserID, &l.ProductID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (r *Repository) AddLine(ctx context.Context, line domain.CartLine) error {
	if line.Quantity <= 0 {
		return store.ErrInvalidQuantity
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = time.Now().UTC()
	}

	query := `INSERT INTO cart_lines (user_id, product_id, quantity, added_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + excluded.quantity`

	if _, err := r.db.ExecContext(ctx, query, line.UserID, line.ProductID, line.Quantity, line.AddedAt); err != nil {
		return fmt.Errorf("add cart line: %w", err)
	}
	return nil
}

func (r *Repository) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return store.ErrInvalidQuantity
	}
	query := `UPDATE cart_lines SET quantity = $1 WHERE user_id = $2 AND product_id = $3`

	res, err := r.db.ExecContext(ctx, query, quantity, userID, productID)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	return expectOneRow(res, store.ErrLineNotFound)
}

func (r *Repository) DeleteLine(ctx context.Context, userID, productID string) error {
	return deleteLine(ctx, r.db, userID, productID, store.ErrLineNotFound)
}

func (r *Repository) ClearCart(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func deleteLine(ctx context.Context, ex execer, userID, productID string, notFound error) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return expectOneRow(res, notFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
