// Package db opens and migrates the Netmaker ticket database.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/zulandar/netmaker/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a DSN for the mysql driver from discrete settings. An
// explicit DSN in the config always wins.
func MySQLDSN(c config.DatabaseConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	mc := mysqldrv.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// SQLiteDSN returns the sqlite connection string for path. Foreign keys are
// enforced and writers wait on a busy database instead of failing.
func SQLiteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_foreign_keys=on&_busy_timeout=5000"
}

// Open connects to the database described by c.
func Open(c config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch c.Driver {
	case "sqlite", "":
		if dir := filepath.Dir(c.Path); c.Path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db: create directory %s: %w", dir, err)
			}
		}
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(c.Path)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", c.Path, err)
		}
		// A single connection serialises writers; sqlite allows only one anyway.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(MySQLDSN(c)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", c.Host, c.Port, c.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return nil
}
