// FILE: store_postgres.go
// Package main – Postgres-backed OrderStore. Selected at startup when
// ORDERS_DB_DSN is set; otherwise the in-memory store is used. Schema is
// auto-migrated on open. The same per-id lock discipline as the memory
// store applies: gorm serializes individual statements, but our
// read-modify-write transitions span two statements.

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type orderRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	Symbol          string `gorm:"index;size:32"`
	Side            string `gorm:"size:8"`
	Quantity        float64
	Leverage        float64
	EntryPrice      float64
	TakeProfitPrice float64
	StopLossPrice   float64
	Timeframe       string `gorm:"size:8"`
	Status          string `gorm:"index;size:16"`
	Profit          *float64
	ProfitPercent   *float64
	CloseReason     string `gorm:"size:64"`
	ClosePrice      *float64
	SignalPlusDI    *float64
	SignalMinusDI   *float64
	SignalADX       *float64
	RemoteOrderID   string `gorm:"index;size:64"`
	RemoteStatus    string `gorm:"size:32"`
	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
	CloseTime       *time.Time
}

func (orderRow) TableName() string { return "orders" }

func rowFromOrder(o Order) orderRow {
	r := orderRow{
		ID:              o.ID,
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Quantity:        o.Quantity,
		Leverage:        o.Leverage,
		EntryPrice:      o.EntryPrice,
		TakeProfitPrice: o.TakeProfitPrice,
		StopLossPrice:   o.StopLossPrice,
		Timeframe:       o.Timeframe,
		Status:          string(o.Status),
		Profit:          o.Profit,
		ProfitPercent:   o.ProfitPercent,
		CloseReason:     o.CloseReason,
		ClosePrice:      o.ClosePrice,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		CloseTime:       o.CloseTime,
	}
	if o.Signal != nil {
		r.SignalPlusDI = &o.Signal.PlusDI
		r.SignalMinusDI = &o.Signal.MinusDI
		r.SignalADX = &o.Signal.ADX
	}
	if o.Remote != nil {
		r.RemoteOrderID = o.Remote.OrderID
		r.RemoteStatus = o.Remote.Status
		if !o.Remote.UpdatedAt.IsZero() {
			t := o.Remote.UpdatedAt
			r.RemoteUpdatedAt = &t
		}
	}
	return r
}

func (r orderRow) toOrder() Order {
	o := Order{
		ID:              r.ID,
		Symbol:          r.Symbol,
		Side:            OrderSide(r.Side),
		Quantity:        r.Quantity,
		Leverage:        r.Leverage,
		EntryPrice:      r.EntryPrice,
		TakeProfitPrice: r.TakeProfitPrice,
		StopLossPrice:   r.StopLossPrice,
		Timeframe:       r.Timeframe,
		Status:          OrderStatus(r.Status),
		Profit:          r.Profit,
		ProfitPercent:   r.ProfitPercent,
		CloseReason:     r.CloseReason,
		ClosePrice:      r.ClosePrice,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CloseTime:       r.CloseTime,
	}
	if r.SignalPlusDI != nil && r.SignalMinusDI != nil && r.SignalADX != nil {
		o.Signal = &SignalValues{PlusDI: *r.SignalPlusDI, MinusDI: *r.SignalMinusDI, ADX: *r.SignalADX}
	}
	if r.RemoteOrderID != "" {
		o.Remote = &RemoteLink{OrderID: r.RemoteOrderID, Status: r.RemoteStatus}
		if r.RemoteUpdatedAt != nil {
			o.Remote.UpdatedAt = *r.RemoteUpdatedAt
		}
	}
	return o
}

// PostgresOrderStore persists orders through gorm.
type PostgresOrderStore struct {
	db    *gorm.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewPostgresOrderStore opens the DSN and migrates the orders table.
func NewPostgresOrderStore(dsn string) (*PostgresOrderStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&orderRow{}); err != nil {
		return nil, fmt.Errorf("migrate orders: %w", err)
	}
	return &PostgresOrderStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}, nil
}

func (s *PostgresOrderStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *PostgresOrderStore) Create(ctx context.Context, in CreateOrderInput) (Order, error) {
	in, err := in.normalize()
	if err != nil {
		return Order{}, err
	}
	now := s.now().UTC()
	// profit stays null until the first mark-to-market pass
	o := Order{
		ID:              uuid.NewString(),
		Symbol:          in.Symbol,
		Side:            OrderSide(in.Side),
		Quantity:        in.Quantity,
		Leverage:        in.Leverage,
		EntryPrice:      in.EntryPrice,
		TakeProfitPrice: in.TakeProfitPrice,
		StopLossPrice:   in.StopLossPrice,
		Timeframe:       in.Timeframe,
		Status:          StatusOpen,
		Signal:          in.Signal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	row := rowFromOrder(o)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	return row.toOrder(), nil
}

func (s *PostgresOrderStore) List(ctx context.Context) ([]Order, error) {
	return s.list(ctx, s.db)
}

func (s *PostgresOrderStore) ListOpen(ctx context.Context) ([]Order, error) {
	return s.list(ctx, s.db.Where("status = ?", string(StatusOpen)))
}

func (s *PostgresOrderStore) ListLinked(ctx context.Context) ([]Order, error) {
	terminal := []string{string(StatusFilled), string(StatusClosed), string(StatusCancelled)}
	return s.list(ctx, s.db.Where("remote_order_id <> '' AND status NOT IN ?", terminal))
}

func (s *PostgresOrderStore) list(ctx context.Context, q *gorm.DB) ([]Order, error) {
	var rows []orderRow
	if err := q.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out, nil
}

func (s *PostgresOrderStore) UpdateStatus(ctx context.Context, id string, status OrderStatus, patch *OrderPatch) (Order, error) {
	if !status.Valid() {
		return Order{}, &ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status.Terminal() {
		return o, nil
	}

	now := s.now().UTC()
	applyPatch(&o, patch)
	if status != o.Status {
		o.Status = status
		if status.Terminal() && o.CloseTime == nil {
			ct := now
			if patch != nil && patch.CloseTime != nil {
				ct = patch.CloseTime.UTC()
			}
			o.CloseTime = &ct
		}
	}
	o.UpdatedAt = now

	row := rowFromOrder(o)
	if err := s.db.WithContext(ctx).Model(&orderRow{}).Where("id = ?", id).
		Select("*").Omit("id", "created_at").Updates(&row).Error; err != nil {
		return Order{}, fmt.Errorf("update order: %w", err)
	}
	return o, nil
}

func (s *PostgresOrderStore) Delete(ctx context.Context, id string) error {
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	res := s.db.WithContext(ctx).Delete(&orderRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
