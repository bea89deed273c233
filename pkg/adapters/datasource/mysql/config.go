package mysql

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
)

// Config contains MySQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      string // "", "true", "skip-verify", "preferred"
	Timeout  time.Duration
}

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		Timeout: 30 * time.Second,
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	switch port := config["port"].(type) {
	case float64: // JSON numbers are float64
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	}

	if user, ok := config["user"].(string); ok && user != "" {
		cfg.User = user
	} else {
		return nil, fmt.Errorf("user is required")
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	switch tls := config["tls"].(type) {
	case string:
		cfg.TLS = tls
	case bool:
		if tls {
			cfg.TLS = "true"
		}
	}

	switch timeout := config["connection_timeout"].(type) {
	case float64:
		cfg.Timeout = time.Duration(timeout) * time.Second
	case int:
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	return cfg, nil
}

// DSN renders cfg in go-sql-driver/mysql format. The driver handles escaping.
func (c *Config) DSN() string {
	dsn := gomysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.TLSConfig = c.TLS
	dsn.Timeout = c.Timeout
	dsn.ParseTime = true
	return dsn.FormatDSN()
}
