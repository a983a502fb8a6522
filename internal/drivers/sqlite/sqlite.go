// Package sqlite implements the sqlite: scheme: tables in a local
// SQLite database file, addressed as sqlite:path.db#table.
//
// SQLite has no CSV import of its own, so the driver encodes and
// decodes rows itself and moves them with plain SELECT and INSERT.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses SQLite tables: sqlite:path.db#table.
const Scheme = "sqlite"

var features = driver.Features{
	Ops:            driver.OpLocalData | driver.OpWriteLocalData | driver.OpWriteSchema,
	SourceOptions:  driver.SourceWhereClause,
	DestIfExists:   driver.AllowError | driver.AllowOverwrite | driver.AllowAppend,
	SchemaIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the sqlite: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "SQLite database files",
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
	db, err := sql.Open("sqlite", l.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", l.path, err)
	}
	return db, nil
}

// Schema reads the live table shape through pragma_table_info.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	db, err := l.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		"SELECT name, type, \"notnull\" FROM pragma_table_info(?) ORDER BY cid", l.table)
	if err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", l.table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []schema.Column
	for rows.Next() {
		var name, declared string
		var notNull bool
		if err := rows.Scan(&name, &declared, &notNull); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", l.table, err)
		}
		dt, err := portableType(declared)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		columns = append(columns, schema.Column{Name: name, DataType: dt, Nullable: !notNull})
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
	if _, err := db.ExecContext(ctx, createTableSQL(l.table, tbl, ifExists.Mode() == driver.ModeAppend)); err != nil {
		return fmt.Errorf("create table %q: %w", l.table, err)
	}
	return nil
}

func (l *Locator) tableExists(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", l.table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", l.table, err)
	}
	return count > 0, nil
}

// LocalData produces the table as a single CSV stream.
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
		return l.copyOut(ctx, db, tbl, where, w)
	})
	return csvdata.Single(stream), nil
}

func (l *Locator) copyOut(ctx context.Context, db *sql.DB, tbl *schema.Table, where string, w io.Writer) error {
	query := fmt.Sprintf("SELECT %s FROM %s", quotedColumnList(tbl), quoteIdent(l.table))
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("select from %q: %w", l.table, err)
	}
	defer func() { _ = rows.Close() }()

	out := csv.NewWriter(w)
	if err := out.Write(tbl.ColumnNames()); err != nil {
		return err
	}
	values := make([]any, len(tbl.Columns))
	targets := make([]any, len(tbl.Columns))
	for i := range values {
		targets[i] = &values[i]
	}
	record := make([]string, len(tbl.Columns))
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return fmt.Errorf("scan row of %q: %w", l.table, err)
		}
		for i, value := range values {
			record[i] = formatValue(value)
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows of %q: %w", l.table, err)
	}
	out.Flush()
	return out.Error()
}

// WriteLocalData inserts each incoming stream into the table, one
// transaction per stream. The first stream applies the --if-exists
// policy; later streams append.
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
	in := csv.NewReader(stream.Data)
	in.ReuseRecord = true
	header, err := in.Read()
	if err != nil {
		return fmt.Errorf("read header of stream %q: %w", stream.Name, err)
	}
	if len(header) != len(tbl.Columns) {
		return fmt.Errorf("stream %q has %d columns, schema has %d", stream.Name, len(header), len(tbl.Columns))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL(l.table, tbl))
	if err != nil {
		return fmt.Errorf("prepare insert into %q: %w", l.table, err)
	}
	defer func() { _ = stmt.Close() }()

	values := make([]any, len(tbl.Columns))
	for {
		record, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read stream %q: %w", stream.Name, err)
		}
		for i, field := range record {
			values[i] = bindValue(tbl.Columns[i], field)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("insert into %q: %w", l.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit into %q: %w", l.table, err)
	}
	return nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quotedColumnList(tbl *schema.Table) string {
	names := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		names = append(names, quoteIdent(col.Name))
	}
	return strings.Join(names, ", ")
}

func createTableSQL(table string, tbl *schema.Table, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quoteIdent(table))
	b.WriteString(" (\n")
	for i, col := range tbl.Columns {
		b.WriteString("  ")
		b.WriteString(quoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(sqliteTypeFor(col.DataType))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(tbl.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(table string, tbl *schema.Table) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tbl.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), quotedColumnList(tbl), placeholders)
}

// sqliteTypeFor picks a declared column type for a portable type.
// SQLite stores whatever it is given; the declared name mostly sets the
// affinity, and doubles as the record this driver reads back in Schema.
func sqliteTypeFor(dt schema.DataType) string {
	switch dt.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindDate:
		return "DATE"
	case schema.KindDecimal:
		return "DECIMAL"
	case schema.KindFloat32:
		return "FLOAT"
	case schema.KindFloat64:
		return "DOUBLE"
	case schema.KindInt16:
		return "SMALLINT"
	case schema.KindInt32:
		return "INTEGER"
	case schema.KindInt64:
		return "BIGINT"
	case schema.KindText:
		return "TEXT"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindTimestampTZ:
		return "TIMESTAMPTZ"
	case schema.KindUUID:
		return "UUID"
	default:
		// JSON, GeoJSON, arrays and structs carry their serialized
		// text through unchanged.
		return "JSON"
	}
}

// portableType maps a declared SQLite column type back to a portable
// type. Bare INTEGER/REAL/TEXT affinities from tables this driver did
// not create get the widest matching kind.
func portableType(declared string) (schema.DataType, error) {
	switch strings.ToUpper(declared) {
	case "BOOLEAN":
		return schema.Simple(schema.KindBool), nil
	case "DATE":
		return schema.Simple(schema.KindDate), nil
	case "DECIMAL", "NUMERIC":
		return schema.Simple(schema.KindDecimal), nil
	case "FLOAT":
		return schema.Simple(schema.KindFloat32), nil
	case "DOUBLE", "REAL":
		return schema.Simple(schema.KindFloat64), nil
	case "SMALLINT":
		return schema.Simple(schema.KindInt16), nil
	case "INT", "INTEGER":
		return schema.Simple(schema.KindInt32), nil
	case "BIGINT":
		return schema.Simple(schema.KindInt64), nil
	case "TEXT", "VARCHAR", "":
		return schema.Simple(schema.KindText), nil
	case "TIMESTAMP", "DATETIME":
		return schema.Simple(schema.KindTimestamp), nil
	case "TIMESTAMPTZ":
		return schema.Simple(schema.KindTimestampTZ), nil
	case "UUID":
		return schema.Simple(schema.KindUUID), nil
	case "JSON":
		return schema.Simple(schema.KindJSON), nil
	default:
		return schema.DataType{}, fmt.Errorf("no portable type for SQLite %q", declared)
	}
}

// formatValue renders one scanned value as a CSV field. NULL becomes
// the empty field, matching how bindValue reads it back.
func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(typed)
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// bindValue converts one CSV field into a bind parameter. An empty
// field in a nullable non-text column is NULL; text columns keep the
// empty string.
func bindValue(col schema.Column, field string) any {
	if field == "" && col.Nullable && col.DataType.Kind != schema.KindText {
		return nil
	}
	return field
}
