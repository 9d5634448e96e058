package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// DB is the subset of pgxpool.Pool the services depend on. Tests substitute a
// mock; production passes the pool directly.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// TxDB additionally begins transactions. Rule replacement and token rotation
// need transactional writes; everything else goes through DB.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Services struct {
	Device   *DeviceService
	Rule     *RuleService
	Usage    *UsageService
	AdminKey *AdminKeyService
}

func NewServices(db TxDB, logger zerolog.Logger, usageBuffer int) *Services {
	return &Services{
		Device:   NewDeviceService(db),
		Rule:     NewRuleService(db),
		Usage:    NewUsageService(db, logger, usageBuffer),
		AdminKey: NewAdminKeyService(db),
	}
}
