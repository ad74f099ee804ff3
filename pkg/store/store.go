// Package store persists reconciled slips and daemon checkpoints in MySQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/phenomenon0/oddyssey-agent/pkg/config"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
)

// Checkpoint keys.
const (
	KeyLastCycle = "last_cycle"
	KeyWallet    = "wallet"
)

// DB wraps the GORM database connection.
type DB struct {
	conn *gorm.DB
	log  *zap.Logger
	now  func() time.Time
}

// New opens the database described by cfg.
func New(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	db, err := Open(mysql.Open(cfg.DSN), log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connection established")
	return db, nil
}

// Open wraps an arbitrary GORM dialector.
func Open(dialector gorm.Dialector, log *zap.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log.Sugar()},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{conn: conn, log: log, now: time.Now}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the tables.
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(&AppState{}, &SlipRecord{})
}

// GetState retrieves a checkpoint value; missing keys return "".
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var state AppState
	err := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return state.StateValue, nil
}

// SetState stores a checkpoint value.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  db.now().Unix(),
	}
	return db.conn.WithContext(ctx).Save(&state).Error
}

// SaveSlips upserts the reconciled view of each slip.
func (db *DB) SaveSlips(ctx context.Context, slips []slip.Slip) error {
	if len(slips) == 0 {
		return nil
	}
	now := db.now()
	records := make([]SlipRecord, 0, len(slips))
	for _, s := range slips {
		r, err := newSlipRecord(s, now)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	err := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("save %d slips: %w", len(records), err)
	}
	return nil
}

// LoadSlips returns every stored slip of player, newest cycle first.
func (db *DB) LoadSlips(ctx context.Context, player string) ([]slip.Slip, error) {
	var records []SlipRecord
	err := db.conn.WithContext(ctx).
		Where("player = ?", strings.ToLower(player)).
		Order("cycle_id DESC, slip_id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load slips: %w", err)
	}

	out := make([]slip.Slip, 0, len(records))
	for _, r := range records {
		s, err := r.toSlip()
		if err != nil {
			db.log.Warn("skipping unreadable slip record",
				zap.Uint64("cycle", r.CycleID), zap.Uint64("slip_id", r.SlipID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// gormLogAdapter routes GORM's logger through zap.
type gormLogAdapter struct {
	log *zap.SugaredLogger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
