/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tomoncle/datajpa/cache"
	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/utils"
)

// EnvPrefix prefixes every environment override, e.g.
// DATAJPA_DATABASE_CONNECTION_HOST.
const EnvPrefix = "DATAJPA"

type AppConfig struct {
	Database database.Config `mapstructure:"database"`
	Cache    cache.Config    `mapstructure:"cache"`
	Log      LogConfig       `mapstructure:"log"`
	Audit    AuditConfig     `mapstructure:"audit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Actor is recorded when the context carries none. Empty means a
	// random id per write.
	Actor string `mapstructure:"actor"`
}

// Options tunes Load.
type Options struct {
	// File is a YAML config file; empty skips it.
	File string
	// EnvFile is a dotenv file whose entries never override the process
	// environment; a missing file is ignored.
	EnvFile string
}

// Load reads defaults, then the config file, then the environment.
func Load(opts Options) (*AppConfig, error) {
	if opts.EnvFile != "" {
		if envMap, err := godotenv.Read(opts.EnvFile); err == nil {
			for k, v := range envMap {
				if _, exists := os.LookupEnv(k); !exists {
					_ = os.Setenv(k, v)
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	db := database.DefaultConfig()
	conn := db.ConnectionConfig
	v.SetDefault("database.connection.type", conn.Type)
	v.SetDefault("database.connection.driver", "pq")
	v.SetDefault("database.connection.host", "localhost")
	v.SetDefault("database.connection.port", 0)
	v.SetDefault("database.connection.username", "")
	v.SetDefault("database.connection.password", "")
	v.SetDefault("database.connection.dbname", conn.DBName)
	v.SetDefault("database.connection.sslmode", "disable")
	v.SetDefault("database.connection.max_idle_conns", conn.MaxIdleConns)
	v.SetDefault("database.connection.max_open_conns", conn.MaxOpenConns)
	v.SetDefault("database.connection.conn_max_lifetime", conn.ConnMaxLifetime)
	v.SetDefault("database.connection.conn_max_idle_time", conn.ConnMaxIdleTime)
	v.SetDefault("database.connection.connect_timeout", conn.ConnectTimeout)
	v.SetDefault("database.connection.read_timeout", conn.ReadTimeout)
	v.SetDefault("database.connection.write_timeout", conn.WriteTimeout)
	v.SetDefault("database.connection.lock_timeout", conn.LockTimeout)
	v.SetDefault("database.connection.enable_reconnect", conn.EnableReconnect)
	v.SetDefault("database.connection.reconnect_interval", conn.ReconnectInterval)
	v.SetDefault("database.connection.max_reconnect_tries", conn.MaxReconnectTries)
	v.SetDefault("database.connection.health_check_interval", conn.HealthCheckInterval)
	v.SetDefault("database.connection.enable_query_log", conn.EnableQueryLog)
	v.SetDefault("database.connection.query_log_style", conn.QueryLogStyle)
	v.SetDefault("database.connection.slow_query_time", conn.SlowQueryTime)
	v.SetDefault("database.connection.enable_metrics", conn.EnableMetrics)

	v.SetDefault("database.migrate.enable_migrate_on_startup", db.DataMigrateConfig.EnableMigrateOnStartup)
	v.SetDefault("database.migrate.enable_foreign_key", db.DataMigrateConfig.EnableForeignKey)
	v.SetDefault("database.migrate.foreign_key_file", db.DataMigrateConfig.ForeignKeyFile)

	v.SetDefault("database.init.auto_init_on_startup", db.DataInitConfig.AutoInitOnStartup)
	v.SetDefault("database.init.auto_init_on_migration", db.DataInitConfig.AutoInitOnMigration)
	v.SetDefault("database.init.filepath", db.DataInitConfig.Filepath)
	v.SetDefault("database.init.environment", db.DataInitConfig.Environment)

	c := cache.DefaultConfig()
	v.SetDefault("cache.driver", c.Driver)
	v.SetDefault("cache.host", "localhost")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", c.Prefix)
	v.SetDefault("cache.ttl", c.TTL)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.actor", "")
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	conn := c.Database.ConnectionConfig
	switch conn.Type {
	case "sqlite":
	case "mysql", "postgres":
		if conn.Host == "" {
			return fmt.Errorf("database.connection.host is required for %s", conn.Type)
		}
	default:
		return fmt.Errorf("database.connection.type %q is not supported", conn.Type)
	}
	if conn.Type == "postgres" && conn.Driver != "" && conn.Driver != "pq" && conn.Driver != "pgx" {
		return fmt.Errorf("database.connection.driver %q is not supported", conn.Driver)
	}
	if conn.DBName == "" {
		return errors.New("database.connection.dbname is required")
	}
	if conn.LockTimeout < 0 {
		return errors.New("database.connection.lock_timeout must not be negative")
	}
	if conn.MaxOpenConns <= 0 {
		return errors.New("database.connection.max_open_conns must be positive")
	}
	switch c.Cache.Driver {
	case "", "none", "memory":
	case "redis":
		if c.Cache.Host == "" || c.Cache.Port <= 0 {
			return errors.New("cache.host and cache.port are required for redis")
		}
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.Cache.Driver)
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}

// ApplyLogging configures the utils loggers from c.Log. Loggers created
// before the call keep their formatter.
func (c *AppConfig) ApplyLogging() {
	utils.ConfigureConsoleLogFormat(c.Log.Format)
	utils.ConfigureLogLevel(c.Log.Level)
}
