// Package sqlite is the default durable order store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

const upsertOrder = `
INSERT INTO orders
(order_id, idempotency_key, client_order_id, symbol, side, status, terminal, created_at, updated_at, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO UPDATE SET
	status = excluded.status,
	terminal = excluded.terminal,
	updated_at = excluded.updated_at,
	data = excluded.data`

type Store struct {
	db *sql.DB
}

// New opens the database at path and creates the schema
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, omserrors.NewPersistenceError("sqlite", "open", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, omserrors.NewPersistenceError("sqlite", "schema", err)
	}
	return &Store{db: db}, nil
}

// PersistOrder upserts by order id
func (s *Store) PersistOrder(ctx context.Context, order oms.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return omserrors.NewPersistenceError("sqlite", "persist", fmt.Errorf("failed to marshal order %s: %w", order.ID, err))
	}
	terminal := 0
	if order.Status.IsTerminal() {
		terminal = 1
	}
	_, err = s.db.ExecContext(ctx, upsertOrder,
		order.ID, order.IdempotencyKey, order.ClientOrderID, order.Symbol, string(order.Side),
		string(order.Status), terminal, order.CreatedAt.UnixNano(), order.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return omserrors.NewPersistenceError("sqlite", "persist", err).WithContext("order_id", order.ID)
	}
	return nil
}

// LoadOpenOrders returns non-terminal orders, oldest first
func (s *Store) LoadOpenOrders(ctx context.Context) ([]oms.Order, error) {
	return s.query(ctx, "load_open", `SELECT data FROM orders WHERE terminal = 0 ORDER BY created_at, order_id`)
}

// LoadAllOrders returns every order, oldest first
func (s *Store) LoadAllOrders(ctx context.Context) ([]oms.Order, error) {
	return s.query(ctx, "load_all", `SELECT data FROM orders ORDER BY created_at, order_id`)
}

func (s *Store) query(ctx context.Context, op, q string) ([]oms.Order, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, omserrors.NewPersistenceError("sqlite", op, err)
	}
	defer rows.Close()

	var out []oms.Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, omserrors.NewPersistenceError("sqlite", op, err)
		}
		var o oms.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, omserrors.NewPersistenceError("sqlite", op, fmt.Errorf("corrupt order row: %w", err))
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, omserrors.NewPersistenceError("sqlite", op, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
