package bq

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tableport/tableport/internal/schema"
)

// Usage says what a mapped table is for. CSV loads cannot carry every
// type, so temp landing tables get a different mapping than the final
// destination.
type Usage int

const (
	// UsageFinalTable maps every column to its real BigQuery type.
	UsageFinalTable Usage = iota
	// UsageCSVTempTable maps columns a CSV load cannot carry to STRING;
	// the import SQL coerces them afterwards.
	UsageCSVTempTable
)

// Modes for BigQuery schema fields.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

// Column is one BigQuery schema field. The JSON form matches the
// TableFieldSchema documents accepted by load jobs and returned by the
// tables API.
type Column struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Mode        string   `json:"mode"`
	Description string   `json:"description,omitempty"`
	Fields      []Column `json:"fields,omitempty"`
}

// CanImportFromCSV reports whether a CSV load can carry the type
// directly. Arrays, structs and geography arrive as serialized text and
// need staged coercion.
func CanImportFromCSV(dt schema.DataType) bool {
	switch dt.Kind {
	case schema.KindArray, schema.KindStruct, schema.KindGeoJSON:
		return false
	default:
		return true
	}
}

// TableCanImportFromCSV reports whether every column of a portable table
// is CSV-importable.
func TableCanImportFromCSV(tbl *schema.Table) bool {
	for _, col := range tbl.Columns {
		if !CanImportFromCSV(col.DataType) {
			return false
		}
	}
	return true
}

// ColumnFor maps one portable column to a BigQuery schema field.
func ColumnFor(col schema.Column, usage Usage) (Column, error) {
	if err := col.DataType.Validate(); err != nil {
		return Column{}, fmt.Errorf("column %q: %w", col.Name, err)
	}
	if usage == UsageCSVTempTable {
		mapped := Column{Name: col.Name, Mode: ModeNullable}
		if CanImportFromCSV(col.DataType) {
			var err error
			mapped.Type, mapped.Fields, err = scalarTypeFor(col.DataType)
			if err != nil {
				return Column{}, fmt.Errorf("column %q: %w", col.Name, err)
			}
		} else {
			mapped.Type = "STRING"
		}
		return mapped, nil
	}

	mode := ModeRequired
	if col.Nullable {
		mode = ModeNullable
	}
	mapped := Column{Name: col.Name, Mode: mode, Description: col.Comment}
	if col.DataType.Kind == schema.KindArray {
		elem := *col.DataType.Elem
		if elem.Kind == schema.KindArray {
			return Column{}, fmt.Errorf("column %q: %w: BigQuery cannot nest arrays directly", col.Name, schema.ErrInvalidType)
		}
		var err error
		mapped.Type, mapped.Fields, err = scalarTypeFor(elem)
		if err != nil {
			return Column{}, fmt.Errorf("column %q: %w", col.Name, err)
		}
		mapped.Mode = ModeRepeated
		return mapped, nil
	}
	var err error
	mapped.Type, mapped.Fields, err = scalarTypeFor(col.DataType)
	if err != nil {
		return Column{}, fmt.Errorf("column %q: %w", col.Name, err)
	}
	return mapped, nil
}

// scalarTypeFor maps a non-repeated portable type to a BigQuery type
// name plus, for structs, its fields.
func scalarTypeFor(dt schema.DataType) (string, []Column, error) {
	switch dt.Kind {
	case schema.KindBool:
		return "BOOL", nil, nil
	case schema.KindDate:
		return "DATE", nil, nil
	case schema.KindDecimal:
		return "NUMERIC", nil, nil
	case schema.KindFloat32, schema.KindFloat64:
		return "FLOAT64", nil, nil
	case schema.KindGeoJSON:
		return "GEOGRAPHY", nil, nil
	case schema.KindInt16, schema.KindInt32, schema.KindInt64:
		return "INT64", nil, nil
	case schema.KindJSON, schema.KindText, schema.KindUUID:
		return "STRING", nil, nil
	case schema.KindTimestamp:
		return "DATETIME", nil, nil
	case schema.KindTimestampTZ:
		return "TIMESTAMP", nil, nil
	case schema.KindStruct:
		fields := make([]Column, 0, len(dt.Fields))
		for _, f := range dt.Fields {
			col, err := ColumnFor(schema.Column{
				Name:     f.Name,
				DataType: f.DataType,
				Nullable: f.Nullable,
			}, UsageFinalTable)
			if err != nil {
				return "", nil, err
			}
			fields = append(fields, col)
		}
		return "STRUCT", fields, nil
	default:
		return "", nil, fmt.Errorf("%w: no BigQuery type for %s", schema.ErrInvalidType, dt)
	}
}

// sqlTypeFor renders a portable type as a BigQuery standard SQL type
// expression, for UDF return clauses.
func sqlTypeFor(dt schema.DataType) (string, error) {
	switch dt.Kind {
	case schema.KindArray:
		elem, err := sqlTypeFor(*dt.Elem)
		if err != nil {
			return "", err
		}
		return "ARRAY<" + elem + ">", nil
	case schema.KindStruct:
		parts := make([]string, 0, len(dt.Fields))
		for _, f := range dt.Fields {
			ft, err := sqlTypeFor(f.DataType)
			if err != nil {
				return "", err
			}
			parts = append(parts, Ident(f.Name)+" "+ft)
		}
		return "STRUCT<" + strings.Join(parts, ", ") + ">", nil
	default:
		name, _, err := scalarTypeFor(dt)
		return name, err
	}
}

// Table is a portable table mapped to BigQuery for a particular usage.
type Table struct {
	name    TableName
	usage   Usage
	columns []Column
	source  []schema.Column
}

// TableFor maps a portable table onto a named BigQuery table. It fails
// when a column has no representation at the requested usage.
func TableFor(name TableName, tbl *schema.Table, usage Usage) (*Table, error) {
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	columns := make([]Column, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		mapped, err := ColumnFor(col, usage)
		if err != nil {
			return nil, err
		}
		columns = append(columns, mapped)
	}
	return &Table{name: name, usage: usage, columns: columns, source: tbl.Columns}, nil
}

// Name returns the table's qualified name.
func (t *Table) Name() TableName { return t.name }

// Columns returns the mapped schema fields.
func (t *Table) Columns() []Column { return t.columns }

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		names = append(names, col.Name)
	}
	return names
}

// WriteJSONSchema emits the schema as the pretty printed JSON array of
// field descriptors that load jobs accept, two-space indented, with a
// trailing newline.
func (t *Table) WriteJSONSchema(w io.Writer) error {
	encoded, err := json.MarshalIndent(t.columns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode BigQuery schema: %w", err)
	}
	encoded = append(encoded, '\n')
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("write BigQuery schema: %w", err)
	}
	return nil
}
