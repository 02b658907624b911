package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

type queryer interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Repository) AppendOrder(ctx context.Context, o domain.OrderOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, ex execer, o domain.OrderOutcome) error {
	adjustments := o.Adjustments
	if adjustments == nil {
		adjustments = []domain.Adjustment{}
	}
	adjustmentsJSON, err := json.Marshal(adjustments)
	if err != nil {
		return fmt.Errorf("failed to marshal adjustments: %w", err)
	}

	query := `INSERT INTO orders (id, user_id, total, status, external_ref, adjustments, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = ex.ExecContext(ctx, query,
		o.ID,
		o.UserID,
		o.Total,
		string(o.Status),
		o.ExternalRef,
		string(adjustmentsJSON),
		o.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (order_id, position, product_id, product_name, quantity, unit_price, subtotal)
	              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, l := range o.Lines {
		if _, err := ex.ExecContext(ctx, lineQuery, o.ID, i, l.ProductID, l.Name, l.Quantity, l.UnitPrice, l.Subtotal); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (domain.OrderOutcome, error) {
	query := `SELECT id, user_id, total, status, external_ref, adjustments, created_at
	          FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderOutcome{}, store.ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("query order by id: %w", err)
	}

	orders := []domain.OrderOutcome{o}
	if err := r.loadLines(ctx, orders); err != nil {
		return domain.OrderOutcome{}, err
	}
	return orders[0], nil
}

func (r *Repository) ListOrders(ctx context.Context, userID string) ([]domain.OrderOutcome, error) {
	query := `SELECT id, user_id, total, status, external_ref, adjustments, created_at
	          FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}

	var orders []domain.OrderOutcome
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	// Release the connection before loading lines; SQLite runs on a single one.
	rows.Close()

	if err := r.loadLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(s rowScanner) (domain.OrderOutcome, error) {
	var (
		o               domain.OrderOutcome
		status          string
		adjustmentsJSON []byte
	)
	if err := s.Scan(&o.ID, &o.UserID, &o.Total, &status, &o.ExternalRef, &adjustmentsJSON, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Status = domain.OrderStatus(status)
	if err := json.Unmarshal(adjustmentsJSON, &o.Adjustments); err != nil {
		return o, fmt.Errorf("unmarshal adjustments: %w", err)
	}
	if len(o.Adjustments) == 0 {
		o.Adjustments = nil
	}
	return o, nil
}

func (r *Repository) loadLines(ctx context.Context, orders []domain.OrderOutcome) error {
	query := `SELECT product_id, product_name, quantity, unit_price, subtotal
	          FROM order_lines WHERE order_id = $1 ORDER BY position`

	for i := range orders {
		lines, err := queryLines(ctx, r.db, query, orders[i].ID)
		if err != nil {
			return err
		}
		orders[i].Lines = lines
	}
	return nil
}

func queryLines(ctx context.Context, q queryer, query, orderID string) ([]domain.PurchasedLine, error) {
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.PurchasedLine
	for rows.Next() {
		var l domain.PurchasedLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}
