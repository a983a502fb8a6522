package postgres

import (
	"fmt"
	"strings"

	"github.com/tableport/tableport/internal/schema"
)

// quoteIdent renders a PostgreSQL identifier, always double quoted.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteTable quotes a possibly schema-qualified table name, one
// identifier per dotted part.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = quoteIdent(part)
	}
	return strings.Join(parts, ".")
}

// pgTypeFor maps a portable type onto a PostgreSQL column type.
// Nested arrays and structs have no native shape and land in jsonb.
func pgTypeFor(dt schema.DataType) (string, error) {
	switch dt.Kind {
	case schema.KindBool:
		return "boolean", nil
	case schema.KindDate:
		return "date", nil
	case schema.KindDecimal:
		return "numeric", nil
	case schema.KindFloat32:
		return "real", nil
	case schema.KindFloat64:
		return "double precision", nil
	case schema.KindGeoJSON, schema.KindStruct:
		return "jsonb", nil
	case schema.KindInt16:
		return "smallint", nil
	case schema.KindInt32:
		return "integer", nil
	case schema.KindInt64:
		return "bigint", nil
	case schema.KindJSON:
		return "jsonb", nil
	case schema.KindText:
		return "text", nil
	case schema.KindTimestamp:
		return "timestamp without time zone", nil
	case schema.KindTimestampTZ:
		return "timestamp with time zone", nil
	case schema.KindUUID:
		return "uuid", nil
	case schema.KindArray:
		elem := *dt.Elem
		if elem.Kind == schema.KindArray || elem.Kind == schema.KindStruct {
			return "jsonb", nil
		}
		inner, err := pgTypeFor(elem)
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	default:
		return "", fmt.Errorf("%w: no PostgreSQL type for %s", schema.ErrInvalidType, dt)
	}
}

func createTableSQL(table string, tbl *schema.Table, ifNotExists bool) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quoteTable(table))
	b.WriteString(" (\n")
	for i, col := range tbl.Columns {
		pgType, err := pgTypeFor(col.DataType)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col.Name, err)
		}
		b.WriteString("  ")
		b.WriteString(quoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(pgType)
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

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + quoteTable(table)
}

func quotedColumnList(tbl *schema.Table) string {
	names := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		names = append(names, quoteIdent(col.Name))
	}
	return strings.Join(names, ", ")
}

// copyOutSQL streams the table (or a filtered selection of it) to the
// client in CSV form, header line included.
func copyOutSQL(table string, tbl *schema.Table, where string) string {
	query := fmt.Sprintf("SELECT %s FROM %s", quotedColumnList(tbl), quoteTable(table))
	if where != "" {
		query += " WHERE " + where
	}
	return fmt.Sprintf("COPY (%s) TO STDOUT WITH (FORMAT csv, HEADER true)", query)
}

// copyInSQL loads client CSV data into the table, skipping the header
// line.
func copyInSQL(table string, tbl *schema.Table) string {
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)",
		quoteTable(table), quotedColumnList(tbl))
}

// upsertSQL merges a staging table into the destination. The key
// columns must be covered by a unique constraint, which the staging
// create takes care of for tables this driver made itself.
func upsertSQL(table, staging string, tbl *schema.Table, keys []string) string {
	keySet := make(map[string]bool, len(keys))
	quotedKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		keySet[key] = true
		quotedKeys = append(quotedKeys, quoteIdent(key))
	}
	var updates []string
	for _, col := range tbl.Columns {
		if keySet[col.Name] {
			continue
		}
		ident := quoteIdent(col.Name)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	columns := quotedColumnList(tbl)
	sql := fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s FROM %s\nON CONFLICT (%s) ",
		quoteTable(table), columns, columns, quoteTable(staging), strings.Join(quotedKeys, ", "))
	if len(updates) == 0 {
		return sql + "DO NOTHING"
	}
	return sql + "DO UPDATE SET " + strings.Join(updates, ", ")
}

// uniqueIndexSQL backs an upsert's ON CONFLICT clause when the
// destination table was created by this driver.
func uniqueIndexSQL(table string, keys []string) string {
	quoted := make([]string, 0, len(keys))
	for _, key := range keys {
		quoted = append(quoted, quoteIdent(key))
	}
	flat := strings.NewReplacer(".", "_", `"`, "").Replace(table)
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(flat+"_upsert_key"), quoteTable(table), strings.Join(quoted, ", "))
}

// portableColumn maps one information_schema row back to a portable
// column.
func portableColumn(meta columnMeta) (schema.Column, error) {
	col := schema.Column{Name: meta.Name, Nullable: meta.Nullable}
	dataType := strings.ToLower(meta.DataType)
	if dataType == "array" {
		elem, err := portableArrayElem(meta.UdtName)
		if err != nil {
			return schema.Column{}, fmt.Errorf("column %q: %w", meta.Name, err)
		}
		col.DataType = schema.Array(elem)
		return col, nil
	}
	switch dataType {
	case "boolean":
		col.DataType = schema.Simple(schema.KindBool)
	case "date":
		col.DataType = schema.Simple(schema.KindDate)
	case "numeric":
		col.DataType = schema.Simple(schema.KindDecimal)
	case "real":
		col.DataType = schema.Simple(schema.KindFloat32)
	case "double precision":
		col.DataType = schema.Simple(schema.KindFloat64)
	case "smallint":
		col.DataType = schema.Simple(schema.KindInt16)
	case "integer":
		col.DataType = schema.Simple(schema.KindInt32)
	case "bigint":
		col.DataType = schema.Simple(schema.KindInt64)
	case "json", "jsonb":
		col.DataType = schema.Simple(schema.KindJSON)
	case "text", "character varying", "character":
		col.DataType = schema.Simple(schema.KindText)
	case "timestamp without time zone":
		col.DataType = schema.Simple(schema.KindTimestamp)
	case "timestamp with time zone":
		col.DataType = schema.Simple(schema.KindTimestampTZ)
	case "uuid":
		col.DataType = schema.Simple(schema.KindUUID)
	default:
		return schema.Column{}, fmt.Errorf("column %q: no portable type for PostgreSQL %q", meta.Name, meta.DataType)
	}
	return col, nil
}

func portableArrayElem(udtName string) (schema.DataType, error) {
	switch strings.ToLower(udtName) {
	case "_bool":
		return schema.Simple(schema.KindBool), nil
	case "_int2":
		return schema.Simple(schema.KindInt16), nil
	case "_int4":
		return schema.Simple(schema.KindInt32), nil
	case "_int8":
		return schema.Simple(schema.KindInt64), nil
	case "_float4":
		return schema.Simple(schema.KindFloat32), nil
	case "_float8":
		return schema.Simple(schema.KindFloat64), nil
	case "_numeric":
		return schema.Simple(schema.KindDecimal), nil
	case "_text", "_varchar":
		return schema.Simple(schema.KindText), nil
	case "_uuid":
		return schema.Simple(schema.KindUUID), nil
	case "_date":
		return schema.Simple(schema.KindDate), nil
	case "_timestamp":
		return schema.Simple(schema.KindTimestamp), nil
	case "_timestamptz":
		return schema.Simple(schema.KindTimestampTZ), nil
	default:
		return schema.DataType{}, fmt.Errorf("no portable element type for %q", udtName)
	}
}
