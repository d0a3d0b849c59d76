package pg

import (
	"database/sql"
	"fmt"
	"time"
)

// Config describes one postgres pool. Zero pool values keep the driver
// defaults.
type Config struct {
	User     string
	Host     string
	Port     string
	Password string
	Database string
	// SSLMode defaults to disable.
	SSLMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func dsn(config Config) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		config.Host, config.User, config.Password, config.Database, config.Port, sslMode)
}

func applyPool(db *sql.DB, config Config) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
}

// newSqlConnection opens a plain database/sql handle for goose.
func newSqlConnection(config Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn(config))
	if err != nil {
		return nil, err
	}
	applyPool(db, config)
	return db, nil
}
