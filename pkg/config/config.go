package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
)

// Datasource types understood by the catalog layer.
const (
	DatasourceTypePostgres    = "postgres"
	DatasourceTypeMSSQL       = "mssql"
	DatasourceTypeMySQL       = "mysql"
	DatasourceTypeSQLite      = "sqlite"
	DatasourceTypeCatalogFile = "catalog_file"
	DatasourceTypeCSV         = "csv"
)

// datasourceNamespace seeds deterministic database IDs for datasources without an explicit id.
var datasourceNamespace = uuid.MustParse("6f1c9a52-3c1e-4d4b-9a57-0b7f5de2c1a4")

// Config holds all configuration for ekaya-schemagraph.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Graph store (PostgreSQL). Leave host empty to keep the graph in memory.
	Database DatabaseConfig `yaml:"database"`

	// Redis backs the per-database sync lock. Leave host empty for an in-process lock.
	Redis RedisConfig `yaml:"redis"`

	Sync SyncConfig `yaml:"sync"`

	// ObjectStore serves s3:// datasource paths.
	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	Server ServerConfig `yaml:"server"`

	Datasources []DatasourceConfig `yaml:"datasources"`
}

// DatabaseConfig holds PostgreSQL configuration for the graph store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_schemagraph"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// Enabled reports whether a PostgreSQL graph store is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// URL returns a postgres:// connection URL.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds Redis configuration for the sync lock.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"schemagraph:"`
}

// SyncConfig holds synchronization tuning.
type SyncConfig struct {
	// CatalogTimeout bounds a single catalog fetch, retries included.
	CatalogTimeout time.Duration `yaml:"catalog_timeout" env:"SYNC_CATALOG_TIMEOUT" env-default:"2m"`
	// CatalogRetries is how many times a failed catalog fetch is retried.
	CatalogRetries int `yaml:"catalog_retries" env:"SYNC_CATALOG_RETRIES" env-default:"3"`
	// LockTTL is how long a per-database sync lock lives if never released.
	LockTTL time.Duration `yaml:"lock_ttl" env:"SYNC_LOCK_TTL" env-default:"10m"`
	// MaxConcurrentSyncs limits how many databases sync at once.
	MaxConcurrentSyncs int `yaml:"max_concurrent_syncs" env:"SYNC_MAX_CONCURRENT" env-default:"4"`
}

// ObjectStoreConfig holds S3-compatible object storage configuration.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" env:"OBJECT_STORE_ENDPOINT" env-default:""`
	AccessKey string `yaml:"access_key" env:"OBJECT_STORE_ACCESS_KEY" env-default:""`
	SecretKey string `yaml:"-" env:"OBJECT_STORE_SECRET_KEY"` // Secret - not in YAML
	Region    string `yaml:"region" env:"OBJECT_STORE_REGION" env-default:""`
	UseSSL    bool   `yaml:"use_ssl" env:"OBJECT_STORE_USE_SSL" env-default:"true"`
}

// Enabled reports whether an object store is configured.
func (c *ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != ""
}

// ServerConfig holds HTTP API configuration for the serve command.
type ServerConfig struct {
	Port        string   `yaml:"port" env:"PORT" env-default:"3443"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:","`
}

// DatasourceConfig describes one catalog source to synchronize.
type DatasourceConfig struct {
	Name string `yaml:"name"`
	// ID is the graph database ID. Derived from Name when empty.
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	// Path is the snapshot file (catalog_file), directory (csv) or database file (sqlite).
	// catalog_file and csv also accept s3://bucket/key.
	Path string `yaml:"path"`
	// PasswordEnv names the environment variable holding the datasource password.
	PasswordEnv string `yaml:"password_env"`
	// Config is adapter-specific connection configuration (host, port, user, database, ...).
	Config map[string]any `yaml:"config"`
}

// DatabaseID returns the graph database ID of the datasource.
func (d *DatasourceConfig) DatabaseID() (uuid.UUID, error) {
	if d.ID == "" {
		return uuid.NewSHA1(datasourceNamespace, []byte(d.Name)), nil
	}
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("datasource %q: invalid id: %w", d.Name, err)
	}
	return id, nil
}

// ConnectionConfig returns a copy of Config with the password resolved from PasswordEnv.
func (d *DatasourceConfig) ConnectionConfig() map[string]any {
	out := make(map[string]any, len(d.Config)+1)
	for k, v := range d.Config {
		out[k] = v
	}
	if d.PasswordEnv != "" {
		if pw, ok := os.LookupEnv(d.PasswordEnv); ok {
			out["password"] = pw
		}
	}
	if d.Type == DatasourceTypeSQLite && d.Path != "" {
		if _, ok := out["path"]; !ok {
			out["path"] = d.Path
		}
	}
	return out
}

// Datasource returns the datasource with the given name or database ID.
func (c *Config) Datasource(nameOrID string) (*DatasourceConfig, bool) {
	for i := range c.Datasources {
		ds := &c.Datasources[i]
		if ds.Name == nameOrID {
			return ds, true
		}
		if id, err := ds.DatabaseID(); err == nil && id.String() == nameOrID {
			return ds, true
		}
	}
	return nil, false
}

// Load reads configuration from config.yaml (or $SCHEMAGRAPH_CONFIG) with environment
// variable overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	path := os.Getenv("SCHEMAGRAPH_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path, version)
}

// LoadFrom reads configuration from path with environment variable overrides.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("sync.max_concurrent_syncs must be at least 1")
	}
	if c.Sync.CatalogRetries < 0 {
		return fmt.Errorf("sync.catalog_retries must not be negative")
	}

	seen := make(map[string]bool, len(c.Datasources))
	for i := range c.Datasources {
		ds := &c.Datasources[i]
		if ds.Name == "" {
			return fmt.Errorf("datasources[%d]: name is required", i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("datasource %q is defined more than once", ds.Name)
		}
		seen[ds.Name] = true

		switch ds.Type {
		case DatasourceTypePostgres, DatasourceTypeMSSQL, DatasourceTypeMySQL:
		case DatasourceTypeSQLite:
			if ds.Path == "" && ds.Config["path"] == nil {
				return fmt.Errorf("datasource %q: path is required for type %s", ds.Name, ds.Type)
			}
		case DatasourceTypeCatalogFile, DatasourceTypeCSV:
			if ds.Path == "" {
				return fmt.Errorf("datasource %q: path is required for type %s", ds.Name, ds.Type)
			}
			if strings.HasPrefix(ds.Path, "s3://") && !c.ObjectStore.Enabled() {
				return fmt.Errorf("datasource %q: object_store.endpoint is required for %s", ds.Name, ds.Path)
			}
		default:
			return fmt.Errorf("datasource %q: unsupported type %q", ds.Name, ds.Type)
		}

		if _, err := ds.DatabaseID(); err != nil {
			return err
		}
	}
	return nil
}
