// Package schema holds the portable description of a table that travels
// with every transfer: an ordered list of named, typed columns. Drivers
// translate it into their native DDL or schema documents.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidType   = errors.New("schema: invalid data type")
	ErrInvalidColumn = errors.New("schema: invalid column")
)

// Table is an ordered set of columns plus an optional name. Column order
// is significant: it fixes CSV column positions.
type Table struct {
	Name    string   `json:"name,omitempty"`
	Columns []Column `json:"columns"`
}

type Column struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`
	Nullable bool     `json:"is_nullable"`
	Comment  string   `json:"comment,omitempty"`
}

func (t *Table) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("%w: table %q has no columns", ErrInvalidColumn, t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return fmt.Errorf("%w: column without a name", ErrInvalidColumn)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidColumn, col.Name)
		}
		seen[col.Name] = true
		if err := col.DataType.Validate(); err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	return nil
}

func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Name != other.Name || len(t.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range t.Columns {
		o := other.Columns[i]
		if col.Name != o.Name || col.Nullable != o.Nullable || !col.DataType.Equal(o.DataType) {
			return false
		}
	}
	return true
}

// ParseTable decodes a portable schema document and validates it.
func ParseTable(data []byte) (*Table, error) {
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// WriteJSON emits the portable schema document, pretty printed with
// two-space indent and a trailing newline.
func (t *Table) WriteJSON(w io.Writer) error {
	encoded, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema document: %w", err)
	}
	encoded = append(encoded, '\n')
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("write schema document: %w", err)
	}
	return nil
}
