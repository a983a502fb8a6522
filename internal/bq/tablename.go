// Package bq holds the BigQuery pieces shared between drivers: table
// names, schema mapping, generated SQL, and a thin REST client.
//
// It sits below the driver packages so that object-store locators can
// recognize warehouse tables (via TableSource) without importing them.
package bq

import (
	"fmt"
	"strings"
)

// TableName is a fully qualified BigQuery table: project, dataset and
// table.
type TableName struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableName parses the "project:dataset.table" form used in
// locator URLs.
func ParseTableName(s string) (TableName, error) {
	project, rest, ok := strings.Cut(s, ":")
	if !ok {
		return TableName{}, fmt.Errorf("expected project:dataset.table, got %q", s)
	}
	dataset, table, ok := strings.Cut(rest, ".")
	if !ok {
		return TableName{}, fmt.Errorf("expected project:dataset.table, got %q", s)
	}
	name := TableName{Project: project, Dataset: dataset, Table: table}
	if project == "" || dataset == "" || table == "" ||
		strings.ContainsAny(project, ".:") ||
		strings.ContainsAny(dataset, ".:") ||
		strings.ContainsAny(table, ".:") {
		return TableName{}, fmt.Errorf("expected project:dataset.table, got %q", s)
	}
	return name, nil
}

// String renders the locator form, "project:dataset.table".
func (n TableName) String() string {
	return fmt.Sprintf("%s:%s.%s", n.Project, n.Dataset, n.Table)
}

// Dotted renders the SQL form, "project.dataset.table".
func (n TableName) Dotted() string {
	return fmt.Sprintf("%s.%s.%s", n.Project, n.Dataset, n.Table)
}

// WithTable returns the same dataset pointing at a different table.
func (n TableName) WithTable(table string) TableName {
	n.Table = table
	return n
}

// Ident renders a BigQuery identifier, always backtick quoted.
func Ident(name string) string {
	escaped := strings.ReplaceAll(name, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	return "`" + escaped + "`"
}

// TableSource is implemented by locators that denote a single BigQuery
// table. Object-store drivers probe for it to accept server-side loads
// and extracts without importing the warehouse driver.
type TableSource interface {
	BigQueryTable() TableName
}

// ObjectDirectory is implemented by object-store directory locators.
// The warehouse driver probes for it to run load jobs straight out of
// Cloud Storage.
type ObjectDirectory interface {
	DirectoryURL() string
}
