package storage

import (
	"fmt"
	"strings"
)

// Supported storage backends
const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
)

// Config selects and configures a storage backend
type Config struct {
	Type       string
	SQLitePath string
	MySQL      MySQLConfig
}

// NewStorageService returns an uninitialized service for the configured backend
func NewStorageService(config Config) (StorageService, error) {
	switch strings.ToLower(config.Type) {
	case "", TypeSQLite:
		if config.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite storage requires a database path")
		}
		return NewSQLiteStorageService(config.SQLitePath), nil
	case TypeMySQL:
		if config.MySQL.Host == "" || config.MySQL.Database == "" {
			return nil, fmt.Errorf("mysql storage requires host and database")
		}
		return NewMySQLStorageService(config.MySQL), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}
