// Package schemafile implements the schema: scheme: portable table
// schema documents stored as JSON files. A schema: locator never moves
// row data; it supplies a schema to transfers and receives schemas
// extracted from other backends.
package schemafile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses portable schema documents: schema:path.json.
const Scheme = "schema"

var features = driver.Features{
	Ops:            driver.OpWriteSchema,
	SchemaIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the schema: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "portable schema JSON documents",
		Features: features,
		Parse:    parse,
	})
}

// Locator is one schema document on disk.
type Locator struct {
	path string
}

func parse(rawURL string) (driver.Locator, error) {
	path := strings.TrimPrefix(rawURL, Scheme+":")
	if path == "" {
		return nil, driver.InvalidLocator(rawURL, "empty path")
	}
	if strings.HasSuffix(path, "/") {
		return nil, driver.InvalidLocator(rawURL, "schema: locators name a single JSON file")
	}
	return &Locator{path: path}, nil
}

// New returns a locator for a schema document, bypassing URL parsing.
func New(path string) *Locator { return &Locator{path: path} }

func (l *Locator) String() string { return Scheme + ":" + l.path }

func (l *Locator) Features() driver.Features { return features }

// Schema reads and validates the document.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	data, err := os.ReadFile(filepath.FromSlash(l.path))
	if err != nil {
		return nil, fmt.Errorf("read schema document %q: %w", l.path, err)
	}
	return schema.ParseTable(data)
}

// WriteSchema writes the document, honoring the error and overwrite
// policies.
func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	if err := ifExists.VerifySchemaWrite(features); err != nil {
		return err
	}
	if err := tbl.Validate(); err != nil {
		return err
	}
	path := filepath.FromSlash(l.path)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if ifExists.Mode() == driver.ModeError {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%q already exists and --if-exists=error", path)
		}
		return fmt.Errorf("open %q: %w", path, err)
	}
	if err := tbl.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	return nil, nil
}

func (l *Locator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	return nil, fmt.Errorf("%s carries schemas, not row data", l)
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s carries schemas, not row data", l)
}
