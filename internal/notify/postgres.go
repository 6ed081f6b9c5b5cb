package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultTTL bounds how long a notify-once outcome stays observable for a
// late-connecting subscriber.
const ResultTTL = 15 * time.Minute

// PostgresBus implements Bus on the shared Postgres instance: counters in
// an atomically-incremented table, publish via pg_notify, result slots in
// a TTL table. Multiple stateless service instances stay consistent
// because none of this is process-local state.
type PostgresBus struct {
	pool     *pgxpool.Pool
	counters string
	slots    string
	logger   *slog.Logger
}

// NewPostgresBus creates a bus using the given table prefix.
func NewPostgresBus(pool *pgxpool.Pool, tablePrefix string, logger *slog.Logger) *PostgresBus {
	return &PostgresBus{
		pool:     pool,
		counters: tablePrefix + "version_counters",
		slots:    tablePrefix + "result_slots",
		logger:   logger,
	}
}

// Bump atomically increments each key's counter and publishes a change
// event. The increment is a single upsert, so there is no
// read-modify-write race.
func (b *PostgresBus) Bump(ctx context.Context, keys ...string) {
	for _, key := range keys {
		query := fmt.Sprintf(`
			INSERT INTO %s (key, version) VALUES ($1, 1)
			ON CONFLICT (key) DO UPDATE SET version = %s.version + 1
			RETURNING version
		`, b.counters, b.counters)

		var version int64
		if err := b.pool.QueryRow(ctx, query, key).Scan(&version); err != nil {
			b.logger.Warn("counter bump failed", "key", key, "error", err)
			continue
		}
		b.Publish(ctx, key, fmt.Appendf(nil, `{"key":%q,"version":%d}`, key, version))
	}
}

// Current returns a key's counter value, 0 if the key was never bumped.
func (b *PostgresBus) Current(ctx context.Context, key string) (int64, error) {
	query := fmt.Sprintf(`SELECT version FROM %s WHERE key = $1`, b.counters)

	var version int64
	err := b.pool.QueryRow(ctx, query, key).Scan(&version)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return version, nil
}

// Publish fires a pg_notify. Best-effort: a failed publish is logged and
// swallowed.
func (b *PostgresBus) Publish(ctx context.Context, topic string, payload []byte) {
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, topic, string(payload)); err != nil {
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// Subscribe dedicates a pooled connection to LISTEN on the topic and
// delivers notifications until cancel is called or the context ends.
func (b *PostgresBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("listen %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				// Context cancellation is the normal exit path.
				if subCtx.Err() == nil {
					b.logger.Warn("notification wait failed", "topic", topic, "error", err)
				}
				return
			}
			select {
			case events <- Event{Topic: n.Channel, Payload: []byte(n.Payload)}:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return events, cancel, nil
}

// SetResult stores a terminal outcome with a fresh TTL, replacing any
// prior value for the key.
func (b *PostgresBus) SetResult(ctx context.Context, key string, payload []byte) {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, payload, expires_at) VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at
	`, b.slots)

	interval := fmt.Sprintf("%d seconds", int(ResultTTL.Seconds()))
	if _, err := b.pool.Exec(ctx, query, key, payload, interval); err != nil {
		b.logger.Warn("result slot write failed", "key", key, "error", err)
	}
}

// TakeResult reads and clears a slot in one statement so two competing
// readers cannot both observe the outcome.
func (b *PostgresBus) TakeResult(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE key = $1 AND expires_at > now() RETURNING payload
	`, b.slots)

	var payload []byte
	err := b.pool.QueryRow(ctx, query, key).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take result: %w", err)
	}
	return payload, nil
}
