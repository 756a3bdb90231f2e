package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgListener is the pgx-backed Listener: a single dedicated connection
// acquired from the pool, LISTENing on one channel name.
// Acquiring a dedicated connection (rather than borrowing from the shared
// pool per-query) is required because LISTEN is a session-scoped command —
// the connection must stay checked out for the listener's whole lifetime.
type pgListener struct {
	conn *pgxpool.Conn
}

// NewPGXListenerFactory returns a ListenerFactory backed by pool.
func NewPGXListenerFactory(pool *pgxpool.Pool) ListenerFactory {
	return func(ctx context.Context, channelName string) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgxQuoteIdent(channelName))); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listen on %q: %w", channelName, err)
		}
		return &pgListener{conn: conn}, nil
	}
}

func (l *pgListener) Next(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (l *pgListener) Close(ctx context.Context) error {
	l.conn.Release()
	return nil
}

// pgxQuoteIdent quotes channelName as a Postgres identifier. Channel names
// in this system are statically configured (internal/config.NotifyChannel),
// never caller-supplied, but quoting keeps LISTEN well-formed regardless.
func pgxQuoteIdent(s string) string {
	return `"` + s + `"`
}
