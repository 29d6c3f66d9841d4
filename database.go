package shardroute

import (
	"time"

	"gorm.io/gorm"
)

// PoolConfig tunes the connection pool of one data source; zero values keep the driver defaults.
type PoolConfig struct {
	MaxOpen      int           `json:"maxOpen" yaml:"maxOpen"`
	MaxIdleConns int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	MaxLifetime  time.Duration `json:"maxLifetime" yaml:"maxLifetime"`
	MaxIdleTime  time.Duration `json:"maxIdleTime" yaml:"maxIdleTime"`
}

// Apply sets the configured limits on connPool when it supports them, as *sql.DB does.
func (c PoolConfig) Apply(connPool gorm.ConnPool) {
	if c.MaxOpen != 0 {
		if conn, ok := connPool.(interface{ SetMaxOpenConns(int) }); ok {
			conn.SetMaxOpenConns(c.MaxOpen)
		}
	}
	if c.MaxIdleConns != 0 {
		if conn, ok := connPool.(interface{ SetMaxIdleConns(int) }); ok {
			conn.SetMaxIdleConns(c.MaxIdleConns)
		}
	}
	if c.MaxLifetime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxLifetime(time.Duration) }); ok {
			conn.SetConnMaxLifetime(c.MaxLifetime)
		}
	}
	if c.MaxIdleTime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxIdleTime(time.Duration) }); ok {
			conn.SetConnMaxIdleTime(c.MaxIdleTime)
		}
	}
}
