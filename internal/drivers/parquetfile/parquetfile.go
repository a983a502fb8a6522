// Package parquetfile implements the parquet: scheme: a single local
// Parquet file, addressed as parquet:path.parquet.
//
// Rows cross the driver boundary as CSV, so values are rendered to and
// parsed from text at the file edge. Only flat columns of simple kinds
// get native Parquet types; everything else is carried as a string
// column holding the serialized text.
package parquetfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses single Parquet files: parquet:path.parquet.
const Scheme = "parquet"

var features = driver.Features{
	Ops:          driver.OpLocalData | driver.OpWriteLocalData,
	DestIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the parquet: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "local Parquet files",
		Features: features,
		Parse:    parse,
	})
}

// Locator is one Parquet file.
type Locator struct {
	path string
}

func parse(rawURL string) (driver.Locator, error) {
	path, ok := strings.CutPrefix(rawURL, Scheme+":")
	if !ok || path == "" {
		return nil, driver.InvalidLocator(rawURL, "expected %s:path.parquet", Scheme)
	}
	if strings.HasSuffix(path, "/") {
		return nil, driver.InvalidLocator(rawURL, "expected a file, not a directory")
	}
	return &Locator{path: path}, nil
}

// New builds a locator directly. Tests use it with throwaway files.
func New(path string) *Locator {
	return &Locator{path: path}
}

func (l *Locator) String() string { return Scheme + ":" + l.path }

func (l *Locator) Features() driver.Features { return features }

// Schema reads the portable shape out of the file's Parquet schema,
// columns in file order.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file %q: %w", l.path, err)
	}

	fields := pf.Schema().Fields()
	columns := make([]schema.Column, 0, len(fields))
	for _, field := range fields {
		dt, err := portableType(field)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name(), err)
		}
		columns = append(columns, schema.Column{
			Name:     field.Name(),
			DataType: dt,
			Nullable: field.Optional(),
		})
	}
	tbl := &schema.Table{Name: csvdata.StreamName(l.path), Columns: columns}
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	return tbl, nil
}

func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	return fmt.Errorf("%s does not support schema-only writes", l)
}

// LocalData produces the file as a single CSV stream, header first,
// columns in file order.
func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	if _, err := shared.Verify(features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(features); err != nil {
		return nil, err
	}

	stream := csvdata.Pipe(csvdata.StreamName(l.path), func(w io.Writer) error {
		f, err := os.Open(l.path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		return readRows(f, w)
	})
	return csvdata.Single(stream), nil
}

func readRows(f *os.File, w io.Writer) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return fmt.Errorf("open parquet file: %w", err)
	}

	// Map rows carry no schema of their own; the reader takes the
	// file's.
	reader := parquet.NewGenericReader[map[string]any](f, pf.Schema())
	defer func() { _ = reader.Close() }()

	fields := reader.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}

	out := csv.NewWriter(w)
	if err := out.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	rows := make([]map[string]any, 64)
	for {
		for i := range rows {
			rows[i] = make(map[string]any, len(names))
		}
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			for i, name := range names {
				record[i] = formatValue(row[name])
			}
			if err := out.Write(record); err != nil {
				return err
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read parquet rows: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

// WriteLocalData writes every incoming stream into one Parquet file.
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

	fileSchema, err := parquetSchema(tbl)
	if err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if verified.IfExists().Mode() == driver.ModeOverwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(l.path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("file %q already exists (pass --if-exists to change this)", l.path)
		}
		return nil, err
	}
	writer := parquet.NewGenericWriter[map[string]any](f, fileSchema)

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		failed := false
		for item := range data {
			if item.Err != nil {
				failed = true
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				break
			}
			err := writeStream(writer, tbl, item.Stream)
			_ = item.Stream.Data.Close()
			if err != nil {
				failed = true
			}
			select {
			case out <- driver.WriteResult{Name: item.Stream.Name, Err: err}:
			case <-ctx.Done():
				failed = true
			}
			if failed {
				break
			}
		}
		closeErr := writer.Close()
		if err := f.Close(); closeErr == nil {
			closeErr = err
		}
		if closeErr != nil && !failed {
			select {
			case out <- driver.WriteResult{Name: csvdata.StreamName(l.path), Err: closeErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func writeStream(writer *parquet.GenericWriter[map[string]any], tbl *schema.Table, stream *csvdata.Stream) error {
	in := csv.NewReader(stream.Data)
	header, err := in.Read()
	if err != nil {
		return fmt.Errorf("read header of stream %q: %w", stream.Name, err)
	}
	columns := make([]schema.Column, len(header))
	for i, name := range header {
		col, ok := tbl.Column(name)
		if !ok {
			return fmt.Errorf("stream %q column %q is not in the table schema", stream.Name, name)
		}
		columns[i] = col
	}

	for {
		record, err := in.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream %q: %w", stream.Name, err)
		}
		row := make(map[string]any, len(columns))
		for i, field := range record {
			value, err := bindValue(columns[i], field)
			if err != nil {
				return fmt.Errorf("stream %q column %q: %w", stream.Name, columns[i].Name, err)
			}
			if value != nil {
				row[columns[i].Name] = value
			}
		}
		if _, err := writer.Write([]map[string]any{row}); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

// parquetSchema builds the file schema for a portable table. Kinds
// with no native Parquet shape become string columns.
func parquetSchema(tbl *schema.Table) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range tbl.Columns {
		node := leafNode(col.DataType)
		if col.Nullable {
			node = parquet.Optional(node)
		}
		group[col.Name] = node
	}
	return parquet.NewSchema(tbl.Name, group), nil
}

func leafNode(dt schema.DataType) parquet.Node {
	switch dt.Kind {
	case schema.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case schema.KindInt16, schema.KindInt32:
		return parquet.Int(32)
	case schema.KindInt64:
		return parquet.Int(64)
	case schema.KindFloat32:
		return parquet.Leaf(parquet.FloatType)
	case schema.KindFloat64:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

// portableType maps one Parquet schema field back to a portable type.
func portableType(field parquet.Field) (schema.DataType, error) {
	if !field.Leaf() {
		return schema.DataType{}, errors.New("nested Parquet groups are not supported")
	}
	switch field.Type().Kind() {
	case parquet.Boolean:
		return schema.Simple(schema.KindBool), nil
	case parquet.Int32:
		return schema.Simple(schema.KindInt32), nil
	case parquet.Int64:
		return schema.Simple(schema.KindInt64), nil
	case parquet.Float:
		return schema.Simple(schema.KindFloat32), nil
	case parquet.Double:
		return schema.Simple(schema.KindFloat64), nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return schema.Simple(schema.KindText), nil
	default:
		return schema.DataType{}, fmt.Errorf("no portable type for Parquet %s", field.Type())
	}
}

// formatValue renders one deserialized value as a CSV field. Nulls
// become the empty field, matching how bindValue reads them back.
func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case bool:
		return strconv.FormatBool(typed)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float32:
		return strconv.FormatFloat(float64(typed), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// bindValue parses one CSV field into the Go value the column's
// Parquet type expects. An empty field in a nullable non-text column
// is null.
func bindValue(col schema.Column, field string) (any, error) {
	if field == "" && col.Nullable && col.DataType.Kind != schema.KindText {
		return nil, nil
	}
	switch col.DataType.Kind {
	case schema.KindBool:
		return strconv.ParseBool(field)
	case schema.KindInt16, schema.KindInt32:
		v, err := strconv.ParseInt(field, 10, 32)
		return int32(v), err
	case schema.KindInt64:
		return strconv.ParseInt(field, 10, 64)
	case schema.KindFloat32:
		v, err := strconv.ParseFloat(field, 32)
		return float32(v), err
	case schema.KindFloat64:
		return strconv.ParseFloat(field, 64)
	default:
		return field, nil
	}
}
