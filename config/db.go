// Package config loads a sharding configuration from YAML and opens the ShardingDB it describes.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/multierr"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm/shardroute"
	"gorm/shardroute/execute"
	"gorm/shardroute/rule"
)

var (
	ErrInvalidConfig = errors.New("shardroute: invalid config")
	ErrUnknownDBType = errors.New("shardroute: unknown db type")
	dialectorOpener  = openDialector
	slowSQLThreshold = 200 * time.Millisecond
)

// DBConfig database config
type DBConfig struct {
	DBType       string `json:"db-type" yaml:"db-type"`
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"max-open-conns" yaml:"max-open-conns"`
	MaxIdleConns int    `json:"max-idle-conns" yaml:"max-idle-conns"`
	// MaxLifetime and MaxIdleTime are in seconds.
	MaxLifetime int `json:"max-lifetime" yaml:"max-lifetime"`
	MaxIdleTime int `json:"max-idle-time" yaml:"max-idle-time"`
}

func (c DBConfig) pool() shardroute.PoolConfig {
	return shardroute.PoolConfig{
		MaxOpen:      c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
		MaxLifetime:  time.Duration(c.MaxLifetime) * time.Second,
		MaxIdleTime:  time.Duration(c.MaxIdleTime) * time.Second,
	}
}

// OrmConfig orm global config
type OrmConfig struct {
	Debug         bool   `json:"debug" yaml:"debug"`
	TablePrefix   string `json:"table-prefix" yaml:"table-prefix"`
	SingularTable bool   `json:"singular-table" yaml:"singular-table"`
}

type Props struct {
	SQLShow bool `json:"sql-show" yaml:"sql-show"`
	// AllowFullRoute defaults to true.
	AllowFullRoute *bool `json:"allow-full-route" yaml:"allow-full-route"`
	PoolSize       int   `json:"executor-size" yaml:"executor-size"`
	// ConnectionMode is CONNECTION_STRICT or MEMORY_STRICT.
	ConnectionMode string `json:"connection-mode" yaml:"connection-mode"`
	// FailurePolicy is FAIL_FAST or BEST_EFFORT.
	FailurePolicy string `json:"failure-policy" yaml:"failure-policy"`
	// Timeout is a duration string such as "3s".
	Timeout string `json:"timeout" yaml:"timeout"`
}

type Config struct {
	Orm         OrmConfig           `json:"orm" yaml:"orm"`
	DataSources map[string]DBConfig `json:"data-sources" yaml:"data-sources"`
	Rules       rule.Config         `json:"rules" yaml:"rules"`
	Props       Props               `json:"props" yaml:"props"`
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(cfg.DataSources) == 0 {
		return nil, fmt.Errorf("%w: no data sources", ErrInvalidConfig)
	}
	for name, ds := range cfg.DataSources {
		if ds.DSN == "" {
			return nil, fmt.Errorf("%w: data source %s has no dsn", ErrInvalidConfig, name)
		}
	}
	return &cfg, nil
}

// Options converts the props into ShardingDB options.
func (c *Config) Options() ([]shardroute.Option, error) {
	p := c.Props
	opts := []shardroute.Option{shardroute.WithSQLShow(p.SQLShow), shardroute.WithPoolSize(p.PoolSize)}
	if p.AllowFullRoute != nil {
		opts = append(opts, shardroute.WithFullRoute(*p.AllowFullRoute))
	}
	switch strings.ToUpper(p.ConnectionMode) {
	case "", "CONNECTION_STRICT":
	case "MEMORY_STRICT":
		opts = append(opts, shardroute.WithConnectionMode(execute.MemoryStrict))
	default:
		return nil, fmt.Errorf("%w: connection mode %q", ErrInvalidConfig, p.ConnectionMode)
	}
	switch strings.ToUpper(p.FailurePolicy) {
	case "", "FAIL_FAST":
	case "BEST_EFFORT":
		opts = append(opts, shardroute.WithFailurePolicy(execute.BestEffort))
	default:
		return nil, fmt.Errorf("%w: failure policy %q", ErrInvalidConfig, p.FailurePolicy)
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout: %v", ErrInvalidConfig, err)
		}
		opts = append(opts, shardroute.WithTimeout(d))
	}
	return opts, nil
}

// DB is a ShardingDB together with the data sources it was opened on.
type DB struct {
	*shardroute.ShardingDB
	DataSources map[string]*sql.DB
}

// Close stops the ShardingDB and closes every data source.
func (db *DB) Close() error {
	err := db.ShardingDB.Close()
	for _, ds := range db.DataSources {
		err = multierr.Append(err, ds.Close())
	}
	return err
}

// Open opens every data source through gorm and builds the ShardingDB. opts are applied after
// the ones derived from the props.
func Open(cfg *Config, opts ...shardroute.Option) (*DB, error) {
	r, err := rule.NewShardingRule(cfg.Rules, nil, nil)
	if err != nil {
		return nil, err
	}
	propOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	gormConfig := defaultConfig(&cfg.Orm, cfg.Props.SQLShow)
	out := &DB{DataSources: map[string]*sql.DB{}}
	registry := map[string]execute.DataSource{}
	for name, dsCfg := range cfg.DataSources {
		sqlDB, err := openDataSource(dsCfg, gormConfig)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("open %s: %w", name, err), out.closeDataSources())
		}
		out.DataSources[name] = sqlDB
		registry[name] = sqlDB
	}
	all := append([]shardroute.Option{shardroute.WithLogger(gormConfig.Logger)}, propOpts...)
	out.ShardingDB, err = shardroute.New(r, registry, append(all, opts...)...)
	if err != nil {
		return nil, multierr.Append(err, out.closeDataSources())
	}
	return out, nil
}

func (db *DB) closeDataSources() error {
	var err error
	for _, ds := range db.DataSources {
		err = multierr.Append(err, ds.Close())
	}
	return err
}

func openDataSource(cfg DBConfig, gormConfig *gorm.Config) (*sql.DB, error) {
	dialector, err := dialectorOpener(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	cfg.pool().Apply(sqlDB)
	return sqlDB, nil
}

func openDialector(cfg DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDBType, cfg.DBType)
}

func defaultConfig(ormConfig *OrmConfig, sqlShow bool) *gorm.Config {
	level := logger.Warn
	if ormConfig.Debug || sqlShow {
		level = logger.Info
	}
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             slowSQLThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   ormConfig.TablePrefix,
			SingularTable: ormConfig.SingularTable,
		},
		Logger: newLogger,
	}
}
