package bq

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tableport/tableport/internal/schema"
)

// needsImportUDF reports whether coercing the column out of a CSV temp
// table requires a generated JavaScript function. Geography needs only
// the built-in ST_GEOGFROMGEOJSON.
func needsImportUDF(dt schema.DataType) bool {
	switch dt.Kind {
	case schema.KindArray, schema.KindStruct:
		return true
	default:
		return false
	}
}

// importSelectExpr renders the projection of one column out of the CSV
// temp table. idx identifies the column's generated function, when it
// has one.
func importSelectExpr(col schema.Column, idx int) string {
	ident := Ident(col.Name)
	switch {
	case needsImportUDF(col.DataType):
		return fmt.Sprintf("ImportJSON_%d(%s) AS %s", idx, ident, ident)
	case col.DataType.Kind == schema.KindGeoJSON:
		return fmt.Sprintf("ST_GEOGFROMGEOJSON(%s) AS %s", ident, ident)
	default:
		return ident
	}
}

// writeImportUDFs emits one CREATE TEMP FUNCTION per column that needs
// JavaScript coercion.
func (t *Table) writeImportUDFs(w io.Writer) error {
	for idx, col := range t.source {
		if !needsImportUDF(col.DataType) {
			continue
		}
		returns, err := sqlTypeFor(col.DataType)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
		_, err = fmt.Fprintf(w, "CREATE TEMP FUNCTION ImportJSON_%d(input STRING)\nRETURNS %s\nLANGUAGE js AS \"\"\"\nreturn JSON.parse(input);\n\"\"\";\n", idx, returns)
		if err != nil {
			return err
		}
	}
	return nil
}

// checkTempColumns rejects a temp table whose columns do not line up
// with this table's, so a drifted landing table fails loudly instead of
// shuffling values between columns.
func (t *Table) checkTempColumns(tempColumns []string) error {
	if len(tempColumns) != len(t.source) {
		return fmt.Errorf("temp table has %d columns but target table %s has %d",
			len(tempColumns), t.name, len(t.source))
	}
	for i, col := range t.source {
		if tempColumns[i] != col.Name {
			return fmt.Errorf("temp table column %d is %q but target table %s expects %q",
				i, tempColumns[i], t.name, col.Name)
		}
	}
	return nil
}

// WriteImportSQL emits the statement that moves rows from a CSV temp
// table into this table's shape: generated coercion functions first,
// then a SELECT projecting every column, then FROM the temp table. Only
// valid for a UsageFinalTable mapping.
func (t *Table) WriteImportSQL(tempName TableName, tempColumns []string, w io.Writer) error {
	if t.usage != UsageFinalTable {
		return errors.New("import SQL is only generated for final table mappings")
	}
	if err := t.checkTempColumns(tempColumns); err != nil {
		return err
	}
	if err := t.writeImportUDFs(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "SELECT\n"); err != nil {
		return err
	}
	for idx, col := range t.source {
		sep := ","
		if idx == len(t.source)-1 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "  %s%s\n", importSelectExpr(col, idx), sep); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "FROM %s\n", Ident(tempName.Dotted()))
	return err
}

// WriteMergeSQL emits a MERGE that upserts the CSV temp table's rows
// into this table, matching on the named key columns. The temp table is
// projected through the same coercion expressions as WriteImportSQL, so
// one statement performs both import and merge.
func (t *Table) WriteMergeSQL(tempName TableName, tempColumns []string, keyColumns []string, w io.Writer) error {
	if t.usage != UsageFinalTable {
		return errors.New("merge SQL is only generated for final table mappings")
	}
	if len(keyColumns) == 0 {
		return errors.New("merge SQL needs at least one key column")
	}
	if err := t.checkTempColumns(tempColumns); err != nil {
		return err
	}

	keySet := make(map[string]bool, len(keyColumns))
	for _, key := range keyColumns {
		if _, ok := t.sourceColumn(key); !ok {
			return fmt.Errorf("merge key column %q does not exist in table %s", key, t.name)
		}
		keySet[key] = true
	}

	if err := t.writeImportUDFs(w); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "MERGE %s AS target\nUSING (\n", Ident(t.name.Dotted())); err != nil {
		return err
	}
	for idx, col := range t.source {
		lead := "  SELECT\n"
		if idx > 0 {
			lead = ""
		}
		sep := ","
		if idx == len(t.source)-1 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "%s    %s%s\n", lead, importSelectExpr(col, idx), sep); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "  FROM %s\n) AS source\nON ", Ident(tempName.Dotted())); err != nil {
		return err
	}

	conds := make([]string, 0, len(keyColumns))
	for _, key := range keyColumns {
		col, _ := t.sourceColumn(key)
		ident := Ident(key)
		if col.Nullable {
			conds = append(conds, fmt.Sprintf("(target.%s = source.%s OR (target.%s IS NULL AND source.%s IS NULL))",
				ident, ident, ident, ident))
		} else {
			conds = append(conds, fmt.Sprintf("target.%s = source.%s", ident, ident))
		}
	}
	if _, err := io.WriteString(w, strings.Join(conds, " AND ")+"\n"); err != nil {
		return err
	}

	var updates []string
	for _, col := range t.source {
		if keySet[col.Name] {
			continue
		}
		ident := Ident(col.Name)
		updates = append(updates, fmt.Sprintf("  %s = source.%s", ident, ident))
	}
	if len(updates) > 0 {
		if _, err := fmt.Fprintf(w, "WHEN MATCHED THEN UPDATE SET\n%s\n", strings.Join(updates, ",\n")); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(t.source))
	values := make([]string, 0, len(t.source))
	for _, col := range t.source {
		names = append(names, Ident(col.Name))
		values = append(values, "source."+Ident(col.Name))
	}
	_, err := fmt.Fprintf(w, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)\n",
		strings.Join(names, ", "), strings.Join(values, ", "))
	return err
}

func (t *Table) sourceColumn(name string) (schema.Column, bool) {
	for _, col := range t.source {
		if col.Name == name {
			return col, true
		}
	}
	return schema.Column{}, false
}
