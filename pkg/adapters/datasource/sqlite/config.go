package sqlite

import (
	"fmt"
	"net/url"
)

// Config contains SQLite connection options.
type Config struct {
	// Path is the database file. It is always opened read-only.
	Path string
}

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	path, _ := config["path"].(string)
	if path == "" {
		path, _ = config["database"].(string)
	}
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &Config{Path: path}, nil
}

// DSN returns a read-only file URI for the go-sqlite3 driver.
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_foreign_keys", "1")
	return "file:" + c.Path + "?" + q.Encode()
}
