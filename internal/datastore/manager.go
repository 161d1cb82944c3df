// Package datastore opens the relational store and owns the *gorm.DB handle
// that repositories are built from.
package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

// Manager owns the database handle. Construct one per process and pass its
// repositories to components.
type Manager struct {
	db      *gorm.DB
	isMySQL bool
	log     logger.Logger
}

// GormConfig returns the gorm configuration shared by production and tests:
// UTC timestamps and driver error translation (duplicate keys).
func GormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Warn
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the configured database.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	var dialector gorm.Dialector
	switch settings.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			settings.MySQL.User, settings.MySQL.Password, settings.MySQL.Host, settings.MySQL.Port, settings.MySQL.Database)
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(settings.SQLite.Path + "?_foreign_keys=ON&_busy_timeout=5000&_journal_mode=WAL")
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, GormConfig(settings.Debug))
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("type", settings.Type).
			Build()
	}

	if settings.Type != "mysql" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, settings.Type == "mysql", log), nil
}

// New wraps an existing handle.
func New(db *gorm.DB, isMySQL bool, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{db: db, isMySQL: isMySQL, log: log.Module("datastore")}
}

// DB returns the underlying handle.
func (m *Manager) DB() *gorm.DB { return m.db }

// IsMySQL reports the dialect.
func (m *Manager) IsMySQL() bool { return m.isMySQL }

// Migrate creates or updates every table.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(entities.All()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	m.log.Info("database schema migrated", logger.Int("tables", len(entities.All())))
	return nil
}

// Ping checks connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Repositories bundles every repository built on the same handle.
type Repositories struct {
	Entities      repository.EntityRepository
	ExecutionLogs repository.ExecutionLogRepository
	Notifications repository.NotificationRepository
	DeliveryLogs  repository.DeliveryLogRepository
	Preferences   repository.PreferenceRepository
	Conversations repository.ConversationRepository
	Jobs          repository.JobRepository
	Subscriptions repository.SubscriptionRepository
}

// Repositories constructs the repository set.
func (m *Manager) Repositories() *Repositories {
	return NewRepositories(m.db)
}

// NewRepositories constructs the repository set from a handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Entities:      repository.NewEntityRepository(db),
		ExecutionLogs: repository.NewExecutionLogRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		DeliveryLogs:  repository.NewDeliveryLogRepository(db),
		Preferences:   repository.NewPreferenceRepository(db),
		Conversations: repository.NewConversationRepository(db),
		Jobs:          repository.NewJobRepository(db),
		Subscriptions: repository.NewSubscriptionRepository(db),
	}
}
