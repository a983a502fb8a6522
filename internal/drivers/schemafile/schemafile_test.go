package schemafile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

func sampleTable() *schema.Table {
	return &schema.Table{
		Name: "people",
		Columns: []schema.Column{
			{Name: "id", DataType: schema.Simple(schema.KindInt64)},
			{Name: "tags", DataType: schema.Array(schema.Simple(schema.KindText)), Nullable: true},
		},
	}
}

func TestParseRejectsDirectories(t *testing.T) {
	if _, err := parse("schema:out/"); !errors.Is(err, driver.ErrInvalidLocator) {
		t.Fatalf("expected invalid locator, got %v", err)
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	loc := New(path)

	if err := loc.WriteSchema(context.Background(), sampleTable(), driver.ErrorIfExists); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	got, err := loc.Schema(context.Background())
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if !got.Equal(sampleTable()) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestWriteHonorsIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	loc := New(path)

	err := loc.WriteSchema(context.Background(), sampleTable(), driver.ErrorIfExists)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", err)
	}

	err = loc.WriteSchema(context.Background(), sampleTable(), driver.Append)
	var unsupported *driver.UnsupportedOptionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected unsupported option error, got %v", err)
	}

	if err := loc.WriteSchema(context.Background(), sampleTable(), driver.Overwrite); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestLocalDataIsAbsent(t *testing.T) {
	loc := New("people.json")
	items, err := loc.LocalData(context.Background(), driver.NewSharedArgs(sampleTable(), nil), driver.NewSourceArgs(nil, ""))
	if err != nil {
		t.Fatalf("local data: %v", err)
	}
	if items != nil {
		t.Fatal("schema locators must not produce local data")
	}
}
