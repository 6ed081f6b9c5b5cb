package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crowdloc/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Translations    string
	Votes           string
	DeviceCodes     string
	MergeTokens     string
	Users           string
	AuditLog        string
	VersionCounters string
	ResultSlots     string
}

// NewTableNames creates table names with the given prefix
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Translations:    prefix + "translations",
		Votes:           prefix + "votes",
		DeviceCodes:     prefix + "device_codes",
		MergeTokens:     prefix + "merge_tokens",
		Users:           prefix + "users",
		AuditLog:        prefix + "audit_log",
		VersionCounters: prefix + "version_counters",
		ResultSlots:     prefix + "result_slots",
	}
}

// CreateConnectionPool creates a pgx connection pool.
//
// If the connection goes through a transaction-pooling PgBouncer (port
// 6543 on hosted Postgres), prepared statements are unavailable; in that
// case the pool is switched to QueryExecModeCacheDescribe, which uses the
// extended protocol without server-side prepared statements. An explicit
// default_query_exec_mode in the connection string takes precedence.
//
// Dynamic table prefixes (dev_/test_/prod_) are interpolated into SQL
// before it reaches the server, so each environment gets distinct
// statements and the interpolation is not an injection surface.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction carried by the context when one is
// present, otherwise the pool. Repositories call this so they transparently
// participate in an enclosing transaction.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
