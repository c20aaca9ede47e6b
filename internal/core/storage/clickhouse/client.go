package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const connectPingTimeout = 10 * time.Second

// Options configures the analytics store connection.
type Options struct {
	Addr     []string
	Database string
	Username string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

func (o Options) toClickHouse() *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr:             o.Addr,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		DialTimeout:     o.DialTimeout,
		MaxOpenConns:    o.MaxOpenConns,
		MaxIdleConns:    o.MaxIdleConns,
		ConnMaxLifetime: o.ConnMaxLifetime,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{
			"prefer_column_name_to_alias": 1,
		},
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	return opts
}

// Open connects to ClickHouse and pings it.
func Open(ctx context.Context, o Options) (driver.Conn, error) {
	if len(o.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse: at least one address is required")
	}

	conn, err := clickhouse.Open(o.toClickHouse())
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	slog.Info("[ClickHouse] Connection pool configured",
		"addr", o.Addr,
		"database", o.Database,
		"max_open_conns", o.MaxOpenConns)
	return conn, nil
}
