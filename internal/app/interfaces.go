package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/gateway"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// AccountStoreProvider provides the account ledger
type AccountStoreProvider interface {
	Accounts() *AccountStore
}

// GatewayStats is the read side of the connection registry used by
// background jobs.
type GatewayStats interface {
	Accounts() []gateway.Record
}

// Connector starts a connection for an account.
type Connector interface {
	Connect(ctx context.Context, phone, accountID string) (gateway.Record, error)
}

// AppContext combines all provider interfaces for full application context
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	AccountStoreProvider

	MigrateDB(track bool) error
}
