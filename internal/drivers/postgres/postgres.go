// Package postgres implements the postgres: scheme: tables in a
// PostgreSQL database, addressed as postgres://user@host/db#table. The
// fragment names the table, optionally schema-qualified.
//
// Rows move through COPY in CSV form on both directions, so the
// database does the encoding and the driver never parses row values.
package postgres

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses PostgreSQL tables: postgres://…/db#table.
const Scheme = "postgres"

var features = driver.Features{
	Ops:            driver.OpLocalData | driver.OpWriteLocalData | driver.OpWriteSchema,
	SourceOptions:  driver.SourceWhereClause,
	DestIfExists:   driver.AllowError | driver.AllowOverwrite | driver.AllowAppend | driver.AllowUpsert,
	SchemaIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the postgres: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "PostgreSQL tables over COPY",
		Features: features,
		Parse:    parse,
	})
}

// Locator is one table in one database.
type Locator struct {
	dsn     string
	table   string
	connect func(ctx context.Context) (conn, error)
}

func parse(rawURL string) (driver.Locator, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, driver.InvalidLocator(rawURL, "%s", err)
	}
	if parsed.Fragment == "" {
		return nil, driver.InvalidLocator(rawURL, "missing #table fragment")
	}
	table := parsed.Fragment
	parsed.Fragment = ""
	dsn := parsed.String()
	return &Locator{
		dsn:     dsn,
		table:   table,
		connect: func(ctx context.Context) (conn, error) { return dial(ctx, dsn) },
	}, nil
}

// New builds a locator over a caller-supplied connector. Tests use it
// with fakes.
func New(dsn, table string, connect func(ctx context.Context) (conn, error)) *Locator {
	return &Locator{dsn: dsn, table: table, connect: connect}
}

func (l *Locator) String() string { return l.dsn + "#" + l.table }

func (l *Locator) Features() driver.Features { return features }

// Schema reads the live table shape out of information_schema.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	c, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close(ctx) }()

	metas, err := c.Columns(ctx, l.table)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("table %q does not exist", l.table)
	}
	columns := make([]schema.Column, 0, len(metas))
	for _, meta := range metas {
		col, err := portableColumn(meta)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	tbl := &schema.Table{Name: baseTableName(l.table), Columns: columns}
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	return tbl, nil
}

// WriteSchema creates the table without loading rows.
func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	if err := ifExists.VerifySchemaWrite(features); err != nil {
		return err
	}
	c, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(ctx) }()
	return l.createTable(ctx, c, tbl, ifExists)
}

func (l *Locator) createTable(ctx context.Context, c conn, tbl *schema.Table, ifExists driver.IfExists) error {
	if ifExists.Mode() == driver.ModeOverwrite {
		if err := c.Exec(ctx, dropTableSQL(l.table)); err != nil {
			return fmt.Errorf("drop table %q: %w", l.table, err)
		}
	}
	ifNotExists := ifExists.Mode() == driver.ModeAppend || ifExists.Mode() == driver.ModeUpsert
	ddl, err := createTableSQL(l.table, tbl, ifNotExists)
	if err != nil {
		return err
	}
	if err := c.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", l.table, err)
	}
	return nil
}

// LocalData produces the table as a single CSV stream through COPY TO
// STDOUT.
func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	verifiedShared, err := shared.Verify(features)
	if err != nil {
		return nil, err
	}
	verified, err := args.Verify(features)
	if err != nil {
		return nil, err
	}

	tbl := verifiedShared.Schema()
	where := verified.WhereClause()
	stream := csvdata.Pipe(baseTableName(l.table), func(w io.Writer) error {
		c, err := l.connect(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close(ctx) }()
		if err := c.CopyTo(ctx, w, copyOutSQL(l.table, tbl, where)); err != nil {
			return fmt.Errorf("copy out of %q: %w", l.table, err)
		}
		return nil
	})
	return csvdata.Single(stream), nil
}

// WriteLocalData copies each incoming stream into the table. The first
// stream applies the --if-exists policy; later streams append. Upsert
// stages every stream through a scratch table and merges with
// INSERT … ON CONFLICT.
func (l *Locator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	verifiedShared, err := shared.Verify(features)
	if err != nil {
		return nil, err
	}
	verified, err := args.Verify(features)
	if err != nil {
		return nil, err
	}
	tbl := verifiedShared.Schema()
	ifExists := verified.IfExists()
	if err := ifExists.VerifyUpsertColumns(tbl); err != nil {
		return nil, err
	}

	c, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.prepare(ctx, c, tbl, ifExists); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	staging := ""
	if ifExists.Mode() == driver.ModeUpsert {
		staging = baseTableName(l.table) + "_upsert_" + uuid.NewString()[:8]
		ddl, err := createTableSQL(staging, tbl, false)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		if err := c.Exec(ctx, ddl); err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("create staging table %q: %w", staging, err)
		}
	}

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		defer func() {
			if staging != "" {
				_ = c.Exec(context.WithoutCancel(ctx), dropTableSQL(staging))
			}
			_ = c.Close(ctx)
		}()
		for item := range data {
			if item.Err != nil {
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				return
			}
			err := l.writeStream(ctx, c, tbl, item.Stream, ifExists, staging)
			_ = item.Stream.Data.Close()
			select {
			case out <- driver.WriteResult{Name: item.Stream.Name, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// prepare creates or resets the destination table before the first
// byte is copied.
func (l *Locator) prepare(ctx context.Context, c conn, tbl *schema.Table, ifExists driver.IfExists) error {
	if err := l.createTable(ctx, c, tbl, ifExists); err != nil {
		return err
	}
	if ifExists.Mode() == driver.ModeUpsert {
		if err := c.Exec(ctx, uniqueIndexSQL(l.table, ifExists.UpsertColumns())); err != nil {
			return fmt.Errorf("ensure upsert key index on %q: %w", l.table, err)
		}
	}
	return nil
}

func (l *Locator) writeStream(ctx context.Context, c conn, tbl *schema.Table, stream *csvdata.Stream, ifExists driver.IfExists, staging string) error {
	if ifExists.Mode() != driver.ModeUpsert {
		if err := c.CopyFrom(ctx, stream.Data, copyInSQL(l.table, tbl)); err != nil {
			return fmt.Errorf("copy into %q: %w", l.table, err)
		}
		return nil
	}
	if err := c.CopyFrom(ctx, stream.Data, copyInSQL(staging, tbl)); err != nil {
		return fmt.Errorf("copy into staging %q: %w", staging, err)
	}
	if err := c.Exec(ctx, upsertSQL(l.table, staging, tbl, ifExists.UpsertColumns())); err != nil {
		return fmt.Errorf("merge into %q: %w", l.table, err)
	}
	if err := c.Exec(ctx, "TRUNCATE "+quoteTable(staging)); err != nil {
		return fmt.Errorf("reset staging %q: %w", staging, err)
	}
	return nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

func baseTableName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}
