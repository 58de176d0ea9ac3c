// Package postgres stores orders in PostgreSQL through GORM.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

// OrderRecord is one row of the orders table
type OrderRecord struct {
	OrderID        string `gorm:"primaryKey;size:64"`
	IdempotencyKey string `gorm:"index;size:128;not null"`
	ClientOrderID  string `gorm:"size:64;not null"`
	Symbol         string `gorm:"index;size:32;not null"`
	Side           string `gorm:"size:8;not null"`
	Status         string `gorm:"size:16;not null"`
	Terminal       bool   `gorm:"index;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Data           []byte `gorm:"type:jsonb;not null"`
}

// TableName implements gorm's tabler
func (OrderRecord) TableName() string {
	return "oms_orders"
}

// Option configures the connection
type Option struct {
	DSN    string
	Config *gorm.Config
}

// Store is an oms.Store backed by PostgreSQL
type Store struct {
	db *gorm.DB
}

// New connects and migrates the orders table
func New(opt Option) (*Store, error) {
	if opt.DSN == "" {
		return nil, omserrors.NewConfigurationError("postgres", "open", "dsn is required")
	}
	config := opt.Config
	if config == nil {
		config = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(opt.DSN), config)
	if err != nil {
		return nil, omserrors.NewPersistenceError("postgres", "open", err)
	}
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, omserrors.NewPersistenceError("postgres", "migrate", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying gorm.DB
func (s *Store) DB() *gorm.DB {
	return s.db
}

// PersistOrder upserts by order id
func (s *Store) PersistOrder(ctx context.Context, order oms.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return omserrors.NewPersistenceError("postgres", "persist", fmt.Errorf("failed to marshal order %s: %w", order.ID, err))
	}
	rec := OrderRecord{
		OrderID:        order.ID,
		IdempotencyKey: order.IdempotencyKey,
		ClientOrderID:  order.ClientOrderID,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Status:         string(order.Status),
		Terminal:       order.Status.IsTerminal(),
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		Data:           data,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "terminal", "updated_at", "data"}),
	}).Create(&rec).Error
	if err != nil {
		return omserrors.NewPersistenceError("postgres", "persist", err).WithContext("order_id", order.ID)
	}
	return nil
}

// LoadOpenOrders returns non-terminal orders, oldest first
func (s *Store) LoadOpenOrders(ctx context.Context) ([]oms.Order, error) {
	return s.load(ctx, "load_open", s.db.WithContext(ctx).Where("terminal = ?", false))
}

// LoadAllOrders returns every order, oldest first
func (s *Store) LoadAllOrders(ctx context.Context) ([]oms.Order, error) {
	return s.load(ctx, "load_all", s.db.WithContext(ctx))
}

func (s *Store) load(ctx context.Context, op string, q *gorm.DB) ([]oms.Order, error) {
	var recs []OrderRecord
	if err := q.Order("created_at, order_id").Find(&recs).Error; err != nil {
		return nil, omserrors.NewPersistenceError("postgres", op, err)
	}
	out := make([]oms.Order, 0, len(recs))
	for _, rec := range recs {
		var o oms.Order
		if err := json.Unmarshal(rec.Data, &o); err != nil {
			return nil, omserrors.NewPersistenceError("postgres", op, fmt.Errorf("corrupt order row %s: %w", rec.OrderID, err))
		}
		out = append(out, o)
	}
	return out, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
