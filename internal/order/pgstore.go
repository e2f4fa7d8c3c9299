package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists orders in Postgres. Every status change runs in a
// transaction holding the order row lock, so concurrent notifications for the
// same order serialize here.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore wraps the pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const selectOrder = `SELECT id, total::text, currency, billing_email, billing_first_name, billing_last_name,
       billing_phone, billing_address, status, created_at, updated_at
FROM orders`

// Get loads the order with its metadata and notes.
func (s *PGStore) Get(ctx context.Context, id string) (Order, error) {
	ord, err := scanOrder(s.Pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	if ord.Meta, err = loadMeta(ctx, s.Pool, id); err != nil {
		return Order{}, err
	}
	if ord.Notes, err = loadNotes(ctx, s.Pool, id); err != nil {
		return Order{}, err
	}
	return ord, nil
}

// List returns orders newest first without metadata and notes.
func (s *PGStore) List(ctx context.Context, limit, offset int) ([]Order, int64, error) {
	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.Pool.Query(ctx, selectOrder+` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ord)
	}
	return out, total, rows.Err()
}

// Create inserts a new order.
func (s *PGStore) Create(ctx context.Context, ord Order) error {
	if ord.Status == "" {
		ord.Status = StatusPending
	}
	if ord.Currency == "" {
		ord.Currency = "USD"
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO orders (id, total, currency, billing_email, billing_first_name,
    billing_last_name, billing_phone, billing_address, status)
VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9)`,
		ord.ID, ord.Total.StringFixed(2), ord.Currency, ord.Billing.Email, ord.Billing.FirstName,
		ord.Billing.LastName, ord.Billing.Phone, ord.Billing.Address, string(ord.Status))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateStatus moves the order to status and records the note with the
// status change sentence.
func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status, note string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		return applyStatus(ctx, tx, id, current, status, note)
	})
}

// AttachMetadata stores key=value unless the key is already set and reports
// whether this call wrote the value. The note is inserted in the same
// transaction, only when the value was written.
func (s *PGStore) AttachMetadata(ctx context.Context, id, key, value, note string) (bool, error) {
	wrote := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO order_meta (order_id, meta_key, meta_value)
VALUES ($1, $2, $3)
ON CONFLICT (order_id, meta_key) DO NOTHING`, id, key, value)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("attach metadata: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if strings.TrimSpace(note) != "" {
			if err := insertNote(ctx, tx, id, note); err != nil {
				return err
			}
		}
		wrote = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return wrote, nil
}

// AppendNote adds a note to the order log.
func (s *PGStore) AppendNote(ctx context.Context, id, text string) error {
	if err := insertNote(ctx, s.Pool, id, text); err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// TransitionIfMeta moves the order to status only while meta key equals
// expected. It returns ErrGuardMismatch when the guard fails and false when
// the order already has the target status.
func (s *PGStore) TransitionIfMeta(ctx context.Context, id, key, expected string, status Status, note string) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var current string
		var value *string
		err := tx.QueryRow(ctx, `SELECT o.status, m.meta_value
FROM orders o
LEFT JOIN order_meta m ON m.order_id = o.id AND m.meta_key = $2
WHERE o.id = $1
FOR UPDATE OF o`, id, key).Scan(&current, &value)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if value == nil || *value != expected {
			return ErrGuardMismatch
		}
		if Status(current) == status {
			return nil
		}
		if err := applyStatus(ctx, tx, id, Status(current), status, note); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *PGStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockStatus(ctx context.Context, tx DBTX, id string) (Status, error) {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock order: %w", err)
	}
	return Status(current), nil
}

func applyStatus(ctx context.Context, tx DBTX, id string, from, to Status, note string) error {
	if from == to {
		if strings.TrimSpace(note) == "" {
			return nil
		}
		return insertNote(ctx, tx, id, note)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(to)); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return insertNote(ctx, tx, id, transitionNote(note, from, to))
}

func insertNote(ctx context.Context, db DBTX, id, text string) error {
	if _, err := db.Exec(ctx, `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, text); err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

func loadMeta(ctx context.Context, db DBTX, id string) (map[string]string, error) {
	rows, err := db.Query(ctx, `SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("load order meta: %w", err)
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

func loadNotes(ctx context.Context, db DBTX, id string) ([]Note, error) {
	rows, err := db.Query(ctx, `SELECT id, note, created_at FROM order_notes WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load order notes: %w", err)
	}
	defer rows.Close()
	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		ord    Order
		total  string
		status string
	)
	err := row.Scan(&ord.ID, &total, &ord.Currency, &ord.Billing.Email, &ord.Billing.FirstName,
		&ord.Billing.LastName, &ord.Billing.Phone, &ord.Billing.Address, &status, &ord.CreatedAt, &ord.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("scan order: %w", err)
	}
	ord.Total, err = decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("parse order total: %w", err)
	}
	ord.Status = Status(status)
	return ord, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
