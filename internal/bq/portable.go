package bq

import (
	"fmt"

	"github.com/tableport/tableport/internal/schema"
)

// PortableTable converts a REST schema document back into a portable
// table. The tables API reports legacy type names (INTEGER, RECORD), so
// both spellings are accepted.
func PortableTable(name string, ts *TableSchema) (*schema.Table, error) {
	if ts == nil || len(ts.Fields) == 0 {
		return nil, fmt.Errorf("bigquery table %s has no schema", name)
	}
	columns := make([]schema.Column, 0, len(ts.Fields))
	for _, field := range ts.Fields {
		col, err := portableColumn(field)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	tbl := &schema.Table{Name: name, Columns: columns}
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	return tbl, nil
}

func portableColumn(field Column) (schema.Column, error) {
	dt, err := portableScalarType(field)
	if err != nil {
		return schema.Column{}, err
	}
	nullable := field.Mode != ModeRequired
	if field.Mode == ModeRepeated {
		dt = schema.Array(dt)
		nullable = false
	}
	return schema.Column{
		Name:     field.Name,
		DataType: dt,
		Nullable: nullable,
		Comment:  field.Description,
	}, nil
}

func portableScalarType(field Column) (schema.DataType, error) {
	switch field.Type {
	case "BOOL", "BOOLEAN":
		return schema.Simple(schema.KindBool), nil
	case "DATE":
		return schema.Simple(schema.KindDate), nil
	case "DATETIME":
		return schema.Simple(schema.KindTimestamp), nil
	case "TIMESTAMP":
		return schema.Simple(schema.KindTimestampTZ), nil
	case "FLOAT", "FLOAT64":
		return schema.Simple(schema.KindFloat64), nil
	case "GEOGRAPHY":
		return schema.Simple(schema.KindGeoJSON), nil
	case "INTEGER", "INT64":
		return schema.Simple(schema.KindInt64), nil
	case "NUMERIC", "BIGNUMERIC":
		return schema.Simple(schema.KindDecimal), nil
	case "JSON":
		return schema.Simple(schema.KindJSON), nil
	case "STRING":
		return schema.Simple(schema.KindText), nil
	case "RECORD", "STRUCT":
		fields := make([]schema.StructField, 0, len(field.Fields))
		for _, sub := range field.Fields {
			col, err := portableColumn(sub)
			if err != nil {
				return schema.DataType{}, err
			}
			fields = append(fields, schema.StructField{
				Name:     col.Name,
				DataType: col.DataType,
				Nullable: col.Nullable,
			})
		}
		return schema.Struct(fields...), nil
	default:
		return schema.DataType{}, fmt.Errorf("%w: no portable type for BigQuery %s column %q",
			schema.ErrInvalidType, field.Type, field.Name)
	}
}
