//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"

	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/datastore"
	"github.com/auralink/proactive/internal/logger"
)

const (
	mysqlImage    = "mysql:8.0"
	mysqlDatabase = "proactive_test"
	mysqlUser     = "proactive"
	mysqlPassword = "proactive"
)

// MySQLContainer is a disposable MySQL server.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	settings  conf.DatabaseSettings
}

// NewMySQLContainer starts MySQL and waits until it accepts connections.
// The container is terminated when the test finishes.
func NewMySQLContainer(ctx context.Context, t *testing.T) *MySQLContainer {
	t.Helper()

	c, err := mysql.Run(ctx, mysqlImage,
		mysql.WithDatabase(mysqlDatabase),
		mysql.WithUsername(mysqlUser),
		mysql.WithPassword(mysqlPassword),
	)
	if err != nil {
		t.Fatalf("failed to start MySQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate MySQL container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get MySQL host: %v", err)
	}
	port, err := c.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("failed to get MySQL port: %v", err)
	}

	return &MySQLContainer{
		container: c,
		settings: conf.DatabaseSettings{
			Type: "mysql",
			MySQL: conf.MySQLSettings{
				Host:     host,
				Port:     port.Int(),
				User:     mysqlUser,
				Password: mysqlPassword,
				Database: mysqlDatabase,
			},
		},
	}
}

// Settings returns database settings pointing at the container.
func (c *MySQLContainer) Settings() conf.DatabaseSettings {
	return c.settings
}

// OpenManager opens a migrated datastore on the container. Tables are
// emptied first so tests sharing a container start clean.
func (c *MySQLContainer) OpenManager(ctx context.Context, t *testing.T) *datastore.Manager {
	t.Helper()

	var (
		m   *datastore.Manager
		err error
	)
	// mysqld can report ready a moment before it accepts the test user.
	deadline := time.Now().Add(30 * time.Second)
	for {
		m, err = datastore.Open(&c.settings, logger.Discard())
		if err == nil {
			if err = m.Ping(ctx); err == nil {
				break
			}
			_ = m.Close()
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed to connect to MySQL: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate MySQL schema: %v", err)
	}
	if err := truncateAll(ctx, m); err != nil {
		t.Fatalf("failed to reset MySQL tables: %v", err)
	}
	return m
}

func truncateAll(ctx context.Context, m *datastore.Manager) error {
	var tables []string
	if err := m.DB().WithContext(ctx).Raw("SHOW TABLES").Scan(&tables).Error; err != nil {
		return err
	}
	// FOREIGN_KEY_CHECKS is per session, so pin one connection.
	return m.DB().WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return err
		}
		for _, table := range tables {
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate table %s: %w", table, err)
			}
		}
		return tx.Exec("SET FOREIGN_KEY_CHECKS = 1").Error
	})
}
