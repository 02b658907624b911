package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// CommitCheckout runs the whole post-charge mutation in one transaction.
// Any failure rolls back every statement executed before it.
func (r *Repository) CommitCheckout(ctx context.Context, c domain.CheckoutCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Row locks are always taken in product id order so two carts holding the
	// same products cannot deadlock each other.
	lines := slices.Clone(c.Lines)
	slices.SortFunc(lines, func(a, b domain.CommitLine) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	for _, l := range lines {
		if l.Quantity <= 0 {
			return store.ErrInvalidQuantity
		}
		ok, err := decrementStock(ctx, tx, l.ProductID, l.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return explainFailedDecrement(ctx, tx, l)
		}

		err = deleteLine(ctx, tx, c.UserID, l.ProductID,
			fmt.Errorf("%w: product %s no longer in cart", store.ErrCartChanged, l.ProductID))
		if err != nil {
			return err
		}
	}

	if err := insertOrder(ctx, tx, c.Outcome); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, c.Event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkout: %w", err)
	}
	return nil
}

// explainFailedDecrement reads inside the transaction; SQLite holds only one connection.
func explainFailedDecrement(ctx context.Context, tx *sql.Tx, l domain.CommitLine) error {
	var stock int
	err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, l.ProductID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, l.ProductID)
	}
	if err != nil {
		return fmt.Errorf("query stock: %w", err)
	}
	return fmt.Errorf("%w: product %s has %d, requested %d", store.ErrInsufficientStock, l.ProductID, stock, l.Quantity)
}
