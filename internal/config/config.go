// Package config loads the cache-and-sync tuning knobs. Every knob has a
// default matching production behavior; a config file and AZDEV_* environment
// variables override them, mostly for tests and local debugging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/devpane/azdev/internal/debug"
)

// Config carries the tuning knobs for the sync core.
type Config struct {
	// DataDir holds the two database files. Empty means the platform
	// default under the user config dir.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// PeriodicInterval is the wall-clock period of the background All
	// refresh, cold start included.
	PeriodicInterval time.Duration `mapstructure:"periodic_interval" yaml:"periodic_interval"`

	// RefreshCooldown is the per-search minimum interval between
	// user-triggered refreshes.
	RefreshCooldown time.Duration `mapstructure:"refresh_cooldown" yaml:"refresh_cooldown"`

	// WorkItemBatchSize caps ids per work item fetch request.
	WorkItemBatchSize int `mapstructure:"work_item_batch_size" yaml:"work_item_batch_size"`

	// BuildRetention is the TTL for cached build rows.
	BuildRetention time.Duration `mapstructure:"build_retention" yaml:"build_retention"`

	// QueryWorkItemTTL is the TTL for saved-query join rows.
	QueryWorkItemTTL time.Duration `mapstructure:"query_work_item_ttl" yaml:"query_work_item_ttl"`

	// MyWorkItemsTTL is the TTL for synthesized my-work-items join rows.
	// Much tighter than QueryWorkItemTTL because the set is user-local
	// and volatile.
	MyWorkItemsTTL time.Duration `mapstructure:"my_work_items_ttl" yaml:"my_work_items_ttl"`

	// DefinitionUpdateThreshold throttles pipeline definition re-upserts.
	DefinitionUpdateThreshold time.Duration `mapstructure:"definition_update_threshold" yaml:"definition_update_threshold"`

	// RequestTimeout bounds a single remote HTTP request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		PeriodicInterval:          10 * time.Minute,
		RefreshCooldown:           3 * time.Minute,
		WorkItemBatchSize:         200,
		BuildRetention:            7 * 24 * time.Hour,
		QueryWorkItemTTL:          7 * 24 * time.Hour,
		MyWorkItemsTTL:            2 * time.Minute,
		DefinitionUpdateThreshold: 4 * time.Hour,
		RequestTimeout:            30 * time.Second,
	}
}

// CacheDBName and PersistentDBName are the fixed database file names under
// DataDir.
const (
	CacheDBName      = "AzureData.db"
	PersistentDBName = "PersistentAzureData.db"
)

// CachePath returns the cache database path.
func (c Config) CachePath() string {
	return filepath.Join(c.DataDir, CacheDBName)
}

// PersistentPath returns the persistent database path.
func (c Config) PersistentPath() string {
	return filepath.Join(c.DataDir, PersistentDBName)
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("azdev")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("AZDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("data_dir", "")
	v.SetDefault("periodic_interval", d.PeriodicInterval)
	v.SetDefault("refresh_cooldown", d.RefreshCooldown)
	v.SetDefault("work_item_batch_size", d.WorkItemBatchSize)
	v.SetDefault("build_retention", d.BuildRetention)
	v.SetDefault("query_work_item_ttl", d.QueryWorkItemTTL)
	v.SetDefault("my_work_items_ttl", d.MyWorkItemsTTL)
	v.SetDefault("definition_update_threshold", d.DefinitionUpdateThreshold)
	v.SetDefault("request_timeout", d.RequestTimeout)
	return v
}

// Load reads azdev.yaml from dir, falling back to defaults when the file is
// absent. Environment variables with the AZDEV_ prefix override both.
func Load(dir string) (Config, error) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if c.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolving data dir: %w", err)
		}
		c.DataDir = filepath.Join(base, "azdev")
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Watch reloads the config file on change and hands the result to onChange.
// Parse failures keep the previous configuration.
func Watch(dir string, onChange func(Config)) error {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var c Config
		if err := v.Unmarshal(&c); err != nil {
			debug.Logf("config reload failed for %s: %v", e.Name, err)
			return
		}
		if err := c.validate(); err != nil {
			debug.Logf("config reload rejected: %v", err)
			return
		}
		debug.Logf("config reloaded from %s", e.Name)
		onChange(c)
	})
	v.WatchConfig()
	return nil
}

func (c Config) validate() error {
	if c.WorkItemBatchSize < 1 {
		return fmt.Errorf("work_item_batch_size must be positive, got %d", c.WorkItemBatchSize)
	}
	if c.PeriodicInterval <= 0 {
		return fmt.Errorf("periodic_interval must be positive, got %s", c.PeriodicInterval)
	}
	if c.RefreshCooldown < 0 {
		return fmt.Errorf("refresh_cooldown must not be negative, got %s", c.RefreshCooldown)
	}
	return nil
}

// WriteStarter writes a commented starter config to dir/azdev.yaml unless one
// already exists.
func WriteStarter(dir string) (string, error) {
	path := filepath.Join(dir, "azdev.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	out, err := yaml.Marshal(Defaults())
	if err != nil {
		return "", fmt.Errorf("encoding starter config: %w", err)
	}
	header := "# azdev configuration. Every key is optional; defaults shown.\n" +
		"# Environment variables with the AZDEV_ prefix take precedence.\n"
	if err := os.WriteFile(path, append([]byte(header), out...), 0o644); err != nil {
		return "", fmt.Errorf("writing starter config: %w", err)
	}
	return path, nil
}
