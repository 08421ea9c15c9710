package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Timestamps in the catalog are compared across instances (lock expiries,
// event ordering), so connections parse times in UTC rather than the server
// locale.
var mysqlDefaults = map[string]string{
	"charset":   "utf8mb4",
	"parseTime": "True",
	"loc":       "UTC",
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	options := make(map[string]string, len(mysqlDefaults)+len(cfg.Options))
	for key, value := range mysqlDefaults {
		options[key] = value
	}
	for key, value := range cfg.Options {
		options[key] = value
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var dsn strings.Builder
	dsn.WriteString(cfg.User)
	if cfg.Password != "" {
		dsn.WriteByte(':')
		dsn.WriteString(cfg.Password)
	}
	fmt.Fprintf(&dsn, "@tcp(%s:%d)/%s", host, port, cfg.Name)

	for i, key := range keys {
		if i == 0 {
			dsn.WriteByte('?')
		} else {
			dsn.WriteByte('&')
		}
		dsn.WriteString(key)
		dsn.WriteByte('=')
		dsn.WriteString(options[key])
	}

	return dsn.String(), nil
}
