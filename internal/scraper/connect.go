package scraper

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/cmu-db/tscout/internal/interfaces"
)

// pgxConn adapts a *pgx.Conn to interfaces.ScraperConn.
type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) QueryRows(ctx context.Context, sql string) ([]string, [][]any, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Connect dials dsn, retrying with exponential backoff so a database that
// is not yet accepting connections at Supervisor startup never crashes it;
// the Supervisor logs and the next scrape tick simply retries via the same
// mechanism once Connect eventually succeeds.
func Connect(ctx context.Context, dsn string) (interfaces.ScraperConn, error) {
	var conn *pgx.Conn
	operation := func() error {
		c, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("scraper: connecting: %w", err)
	}
	return &pgxConn{conn: conn}, nil
}

var _ interfaces.ScraperConn = (*pgxConn)(nil)
