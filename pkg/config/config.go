package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/restlet/pkg/config.Version=..."
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	REST      RESTConfig       `mapstructure:"rest"`
	DB        DBConfig         `mapstructure:"db"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Resources []ResourceConfig `mapstructure:"resources"`
}

type RESTConfig struct {
	ListenAddr string    `mapstructure:"listenAddr"`
	BaseURL    string    `mapstructure:"baseURL"`
	Debug      bool      `mapstructure:"debug"`
	TLS        TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

type DBConfig struct {
	// Driver is "pgx" or "sqlite3".
	Driver     string `mapstructure:"driver"`
	ConnString string `mapstructure:"connString"`
	// SchemaReload keeps the Postgres catalog current through NOTIFY restlet, 'reload schema'.
	SchemaReload   bool          `mapstructure:"schemaReload"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ResourceConfig declares a resource without code. Path defaults to the table name.
type ResourceConfig struct {
	Path      string   `mapstructure:"path"`
	Table     string   `mapstructure:"table"`
	Name      string   `mapstructure:"name"`
	Allowed   []string `mapstructure:"allowed"`
	Denied    []string `mapstructure:"denied"`
	Changable []string `mapstructure:"changable"`
	Readonly  []string `mapstructure:"readonly"`
	Invisible []string `mapstructure:"invisible"`
	OrderBy   []string `mapstructure:"orderBy"`
}

// MountPath is the prefix the resource is served at.
func (r ResourceConfig) MountPath() string {
	if r.Path != "" {
		return "/" + strings.Trim(r.Path, "/")
	}
	_, name, ok := strings.Cut(r.Table, ".")
	if !ok {
		name = r.Table
	}
	return "/" + name
}

func Default() Config {
	return Config{
		REST: RESTConfig{ListenAddr: ":8080"},
		DB: DBConfig{
			Driver:         "pgx",
			ConnectTimeout: time.Minute,
		},
		Metrics: MetricsConfig{Addr: ":9100", Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rest.listenAddr", d.REST.ListenAddr)
	v.SetDefault("db.driver", d.DB.Driver)
	v.SetDefault("db.connectTimeout", d.DB.ConnectTimeout)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Load reads config from file or environment. Values already set on v, such
// as bound flags, take precedence over the file.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("restlet")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESTLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "pgx", "postgres", "sqlite3", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db.driver %q", c.DB.Driver)
	}
	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.Table == "" {
			return fmt.Errorf("config: resources[%d] has no table", i)
		}
		p := r.MountPath()
		if seen[p] {
			return fmt.Errorf("config: resources[%d]: path %s is already mounted", i, p)
		}
		seen[p] = true
	}
	return nil
}
