// Package duckdb implements the duckdb: scheme: tables in a local
// DuckDB database file, addressed as duckdb:path.db#table.
//
// Rows move through DuckDB's own CSV reader and writer: data is staged
// in a temporary file and loaded or dumped with COPY, so the driver
// never parses row values itself.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses DuckDB tables: duckdb:path.db#table.
const Scheme = "duckdb"

var features = driver.Features{
	Ops:            driver.OpLocalData | driver.OpWriteLocalData | driver.OpWriteSchema,
	SourceOptions:  driver.SourceWhereClause,
	DestIfExists:   driver.AllowError | driver.AllowOverwrite | driver.AllowAppend,
	SchemaIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the duckdb: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "DuckDB database files",
		Features: features,
		Parse:    parse,
	})
}

// Locator is one table in one database file.
type Locator struct {
	path  string
	table string
}

func parse(rawURL string) (driver.Locator, error) {
	rest, ok := strings.CutPrefix(rawURL, Scheme+":")
	if !ok {
		return nil, driver.InvalidLocator(rawURL, "expected %s:path.db#table", Scheme)
	}
	path, table, ok := strings.Cut(rest, "#")
	if !ok || path == "" || table == "" {
		return nil, driver.InvalidLocator(rawURL, "expected %s:path.db#table", Scheme)
	}
	return &Locator{path: path, table: table}, nil
}

// New builds a locator directly. Tests use it with throwaway files.
func New(path, table string) *Locator {
	return &Locator{path: path, table: table}
}

func (l *Locator) String() string { return Scheme + ":" + l.path + "#" + l.table }

func (l *Locator) Features() driver.Features { return features }

func (l *Locator) open() (*sql.DB, error) {
	db, err := sql.Open("duckdb", l.path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", l.path, err)
	}
	return db, nil
}

// Schema reads the live table shape out of information_schema.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable = 'YES'
FROM information_schema.columns
WHERE table_name = ?
ORDER BY ordinal_position`, l.table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", l.table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []schema.Column
	for rows.Next() {
		var name, dataType string
		var nullable bool
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", l.table, err)
		}
		dt, err := portableType(dataType)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		columns = append(columns, schema.Column{Name: name, DataType: dt, Nullable: nullable})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", l.table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q does not exist", l.table)
	}
	tbl := &schema.Table{Name: l.table, Columns: columns}
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
	db, err := l.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return l.createTable(ctx, db, tbl, ifExists)
}

func (l *Locator) createTable(ctx context.Context, db *sql.DB, tbl *schema.Table, ifExists driver.IfExists) error {
	switch ifExists.Mode() {
	case driver.ModeOverwrite:
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(l.table)); err != nil {
			return fmt.Errorf("drop table %q: %w", l.table, err)
		}
	case driver.ModeError:
		exists, err := l.tableExists(ctx, db)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("table %q already exists (pass --if-exists to change this)", l.table)
		}
	}
	ddl, err := createTableSQL(l.table, tbl, ifExists.Mode() == driver.ModeAppend)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", l.table, err)
	}
	return nil
}

func (l *Locator) tableExists(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", l.table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", l.table, err)
	}
	return count > 0, nil
}

// LocalData produces the table as a single CSV stream. DuckDB copies
// into a scratch file, which is streamed out and removed.
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
	stream := csvdata.Pipe(l.table, func(w io.Writer) error {
		db, err := l.open()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		scratch, err := scratchFile()
		if err != nil {
			return err
		}
		defer func() { _ = os.Remove(scratch) }()

		query := fmt.Sprintf("SELECT %s FROM %s", quotedColumnList(tbl), quoteIdent(l.table))
		if where != "" {
			query += " WHERE " + where
		}
		copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT CSV, HEADER)", query, quoteString(scratch))
		if _, err := db.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("copy out of %q: %w", l.table, err)
		}

		f, err := os.Open(scratch)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("stream %q: %w", l.table, err)
		}
		return nil
	})
	return csvdata.Single(stream), nil
}

// WriteLocalData loads each incoming stream into the table. The first
// stream applies the --if-exists policy; later streams append.
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

	db, err := l.open()
	if err != nil {
		return nil, err
	}
	if err := l.createTable(ctx, db, tbl, verified.IfExists()); err != nil {
		_ = db.Close()
		return nil, err
	}

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		defer func() { _ = db.Close() }()
		for item := range data {
			if item.Err != nil {
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				return
			}
			err := l.loadStream(ctx, db, tbl, item.Stream)
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

func (l *Locator) loadStream(ctx context.Context, db *sql.DB, tbl *schema.Table, stream *csvdata.Stream) error {
	scratch, err := os.CreateTemp("", "tableport-duckdb-*.csv")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	defer func() { _ = os.Remove(scratch.Name()) }()

	if _, err := io.Copy(scratch, stream.Data); err != nil {
		_ = scratch.Close()
		return fmt.Errorf("stage stream %q: %w", stream.Name, err)
	}
	if err := scratch.Close(); err != nil {
		return err
	}

	copySQL := fmt.Sprintf("COPY %s (%s) FROM %s (FORMAT CSV, HEADER)",
		quoteIdent(l.table), quotedColumnList(tbl), quoteString(scratch.Name()))
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copy into %q: %w", l.table, err)
	}
	return nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

func scratchFile() (string, error) {
	f, err := os.CreateTemp("", "tableport-duckdb-*.csv")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quotedColumnList(tbl *schema.Table) string {
	names := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		names = append(names, quoteIdent(col.Name))
	}
	return strings.Join(names, ", ")
}

func createTableSQL(table string, tbl *schema.Table, ifNotExists bool) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quoteIdent(table))
	b.WriteString(" (\n")
	for i, col := range tbl.Columns {
		duckType, err := duckTypeFor(col.DataType)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col.Name, err)
		}
		b.WriteString("  ")
		b.WriteString(quoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(duckType)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(tbl.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String(), nil
}

// duckTypeFor maps a portable type onto a DuckDB column type. Types
// with no lossless CSV form (structs, nested arrays, JSON) land in
// VARCHAR and carry their serialized text through unchanged.
func duckTypeFor(dt schema.DataType) (string, error) {
	switch dt.Kind {
	case schema.KindBool:
		return "BOOLEAN", nil
	case schema.KindDate:
		return "DATE", nil
	case schema.KindDecimal:
		return "DECIMAL(38,9)", nil
	case schema.KindFloat32:
		return "FLOAT", nil
	case schema.KindFloat64:
		return "DOUBLE", nil
	case schema.KindInt16:
		return "SMALLINT", nil
	case schema.KindInt32:
		return "INTEGER", nil
	case schema.KindInt64:
		return "BIGINT", nil
	case schema.KindText:
		return "VARCHAR", nil
	case schema.KindTimestamp:
		return "TIMESTAMP", nil
	case schema.KindTimestampTZ:
		return "TIMESTAMPTZ", nil
	case schema.KindUUID:
		return "UUID", nil
	case schema.KindGeoJSON, schema.KindJSON, schema.KindStruct:
		return "VARCHAR", nil
	case schema.KindArray:
		elem := *dt.Elem
		if elem.Kind == schema.KindArray || elem.Kind == schema.KindStruct {
			return "VARCHAR", nil
		}
		inner, err := duckTypeFor(elem)
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	default:
		return "", fmt.Errorf("%w: no DuckDB type for %s", schema.ErrInvalidType, dt)
	}
}

// portableType maps a DuckDB information_schema type name back to a
// portable type.
func portableType(dataType string) (schema.DataType, error) {
	name := strings.ToUpper(dataType)
	if elem, ok := strings.CutSuffix(name, "[]"); ok {
		inner, err := portableType(elem)
		if err != nil {
			return schema.DataType{}, err
		}
		return schema.Array(inner), nil
	}
	if strings.HasPrefix(name, "DECIMAL") {
		return schema.Simple(schema.KindDecimal), nil
	}
	switch name {
	case "BOOLEAN":
		return schema.Simple(schema.KindBool), nil
	case "DATE":
		return schema.Simple(schema.KindDate), nil
	case "FLOAT", "REAL":
		return schema.Simple(schema.KindFloat32), nil
	case "DOUBLE":
		return schema.Simple(schema.KindFloat64), nil
	case "SMALLINT":
		return schema.Simple(schema.KindInt16), nil
	case "INTEGER":
		return schema.Simple(schema.KindInt32), nil
	case "BIGINT":
		return schema.Simple(schema.KindInt64), nil
	case "VARCHAR":
		return schema.Simple(schema.KindText), nil
	case "TIMESTAMP":
		return schema.Simple(schema.KindTimestamp), nil
	case "TIMESTAMP WITH TIME ZONE":
		return schema.Simple(schema.KindTimestampTZ), nil
	case "UUID":
		return schema.Simple(schema.KindUUID), nil
	default:
		return schema.DataType{}, fmt.Errorf("no portable type for DuckDB %q", dataType)
	}
}
