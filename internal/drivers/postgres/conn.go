package postgres

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
)

// columnMeta is one row of information_schema.columns, as much of it as
// schema mapping needs.
type columnMeta struct {
	Name     string
	DataType string
	UdtName  string
	Nullable bool
}

// conn is the slice of a PostgreSQL session the driver uses. Tests
// substitute a fake; production wraps pgx.
type conn interface {
	Exec(ctx context.Context, sql string) error
	Columns(ctx context.Context, table string) ([]columnMeta, error)
	CopyTo(ctx context.Context, w io.Writer, sql string) error
	CopyFrom(ctx context.Context, r io.Reader, sql string) error
	Close(ctx context.Context) error
}

type pgxConn struct {
	conn *pgx.Conn
}

func dial(ctx context.Context, dsn string) (conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &pgxConn{conn: c}, nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)
	return err
}

// Columns reads the live shape of a table. A dotted name selects an
// explicit schema; bare names resolve in public.
func (c *pgxConn) Columns(ctx context.Context, table string) ([]columnMeta, error) {
	schemaName, tableName := splitTableName(table)
	rows, err := c.conn.Query(ctx, `
SELECT column_name, data_type, udt_name, is_nullable = 'YES'
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", table, err)
	}
	defer rows.Close()

	var columns []columnMeta
	for rows.Next() {
		var meta columnMeta
		if err := rows.Scan(&meta.Name, &meta.DataType, &meta.UdtName, &meta.Nullable); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		columns = append(columns, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", table, err)
	}
	return columns, nil
}

func (c *pgxConn) CopyTo(ctx context.Context, w io.Writer, sql string) error {
	_, err := c.conn.PgConn().CopyTo(ctx, w, sql)
	return err
}

func (c *pgxConn) CopyFrom(ctx context.Context, r io.Reader, sql string) error {
	_, err := c.conn.PgConn().CopyFrom(ctx, r, sql)
	return err
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func splitTableName(table string) (schemaName, tableName string) {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[:i], table[i+1:]
		}
	}
	return "public", table
}
