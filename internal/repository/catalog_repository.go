package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

const productColumns = `id, name, description, unit_price, stock, active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner) (domain.Product, error) {
	var p domain.Product
	err := s.Scan(&p.ID, &p.Name, &p.Description, &p.UnitPrice, &p.Stock, &p.Active)
	return p, err
}

func (r *Repository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, store.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (r *Repository) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (r *Repository) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.Stock < 0 {
		return fmt.Errorf("product %s: stock must not be negative", p.ID)
	}
	query := `INSERT INTO products (` + productColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (id) DO UPDATE SET
	              name = excluded.name,
	              description = excluded.description,
	              unit_price = excluded.unit_price,
	              stock = excluded.stock,
	              active = excluded.active`

	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.UnitPrice, p.Stock, p.Active)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectOneRow(res, store.ErrProductNotFound)
}

// DecrementIfSufficient relies on the conditional UPDATE being atomic in the database.
func (r *Repository) DecrementIfSufficient(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, store.ErrInvalidQuantity
	}
	ok, err := decrementStock(ctx, r.db, productID, qty)
	if err != nil || ok {
		return ok, err
	}
	if _, err := r.GetProduct(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

func decrementStock(ctx context.Context, ex execer, productID string, qty int) (bool, error) {
	query := `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $3`

	res, err := ex.ExecContext(ctx, query, qty, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
