package csvfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

func textTable(name string, columns ...string) *schema.Table {
	cols := make([]schema.Column, 0, len(columns))
	for _, col := range columns {
		cols = append(cols, schema.Column{Name: col, DataType: schema.Simple(schema.KindText), Nullable: true})
	}
	return &schema.Table{Name: name, Columns: cols}
}

func sharedArgs(t *testing.T) driver.SharedArgs {
	t.Helper()
	return driver.NewSharedArgs(textTable("people", "id", "name"), nil)
}

func TestParseFileRequiresTrailingSlash(t *testing.T) {
	if _, err := parseFile("file:/data/out"); !errors.Is(err, driver.ErrInvalidLocator) {
		t.Fatalf("expected invalid locator, got %v", err)
	}
	loc, err := parseFile("file:/data/out/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.String() != "file:/data/out/" {
		t.Fatalf("unexpected canonical form %q", loc.String())
	}
}

func TestParseCSVShapes(t *testing.T) {
	loc, err := parseCSV("csv:./in.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.(*Locator).dir {
		t.Fatal("file path parsed as directory")
	}

	loc, err = parseCSV("csv:./out/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !loc.(*Locator).dir {
		t.Fatal("trailing slash should mean directory")
	}

	loc, err = parseCSV("csv:-")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !loc.(*Locator).stdio {
		t.Fatal("- should mean stdio")
	}

	if _, err := parseCSV("csv:"); !errors.Is(err, driver.ErrInvalidLocator) {
		t.Fatalf("expected invalid locator for empty path, got %v", err)
	}
}

func TestLocalDataRejectsDriverArgs(t *testing.T) {
	loc := NewFile("in.csv")
	args := driver.NewSourceArgs(driver.DriverArgs{"k": "v"}, "")
	_, err := loc.LocalData(context.Background(), sharedArgs(t), args)
	if err == nil || !strings.Contains(err.Error(), "this data source does not support --from-args") {
		t.Fatalf("expected unsupported option error, got %v", err)
	}
}

func TestSingleFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "people.csv")
	body := "id,name\n1,ada\n2,grace\n"
	if err := os.WriteFile(in, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	source := NewFile(in)
	items, err := source.LocalData(context.Background(), sharedArgs(t), driver.NewSourceArgs(nil, ""))
	if err != nil {
		t.Fatalf("local data: %v", err)
	}

	out := filepath.Join(dir, "copy.csv")
	dest := NewFile(out)
	results, err := dest.WriteLocalData(context.Background(), items, sharedArgs(t), driver.NewDestArgs(nil, driver.ErrorIfExists))
	if err != nil {
		t.Fatalf("write local data: %v", err)
	}
	count := 0
	for result := range results {
		count++
		if result.Err != nil {
			t.Fatalf("stream %q: %v", result.Name, result.Err)
		}
		if result.Name != "people" {
			t.Fatalf("unexpected stream name %q", result.Name)
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 result, got %d", count)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Fatalf("round trip mismatch:\n%s", got)
	}
}

func TestWriteErrorsWhenFileExists(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(out, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stream := &csvdata.Stream{Name: "out", Data: io.NopCloser(strings.NewReader("id\n2\n"))}
	dest := NewFile(out)
	results, err := dest.WriteLocalData(context.Background(), csvdata.Single(stream), sharedArgs(t), driver.NewDestArgs(nil, driver.ErrorIfExists))
	if err != nil {
		t.Fatalf("write local data: %v", err)
	}
	result := <-results
	if result.Err == nil || !strings.Contains(result.Err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", result.Err)
	}
}

func TestAppendSkipsSecondHeader(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(out, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stream := &csvdata.Stream{Name: "out", Data: io.NopCloser(strings.NewReader("id\n2\n"))}
	dest := NewFile(out)
	results, err := dest.WriteLocalData(context.Background(), csvdata.Single(stream), sharedArgs(t), driver.NewDestArgs(nil, driver.Append))
	if err != nil {
		t.Fatalf("write local data: %v", err)
	}
	if result := <-results; result.Err != nil {
		t.Fatalf("append: %v", result.Err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "id\n1\n2\n" {
		t.Fatalf("unexpected appended content %q", got)
	}
}

func TestDirectoryStreamsSortedAndNamed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), []byte("id\n2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	source := NewDirectory(dir)
	items, err := source.LocalData(context.Background(), sharedArgs(t), driver.NewSourceArgs(nil, ""))
	if err != nil {
		t.Fatalf("local data: %v", err)
	}
	var names []string
	for item := range items {
		if item.Err != nil {
			t.Fatalf("stream error: %v", item.Err)
		}
		names = append(names, item.Stream.Name)
		_ = item.Stream.Data.Close()
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected stream order %v", names)
	}
}

func TestDirectoryWriteOneFilePerStream(t *testing.T) {
	dir := t.TempDir()
	in := make(chan csvdata.StreamItem, 2)
	in <- csvdata.StreamItem{Stream: &csvdata.Stream{Name: "a", Data: io.NopCloser(strings.NewReader("id\n1\n"))}}
	in <- csvdata.StreamItem{Stream: &csvdata.Stream{Name: "b", Data: io.NopCloser(strings.NewReader("id\n2\n"))}}
	close(in)

	dest := NewDirectory(dir)
	results, err := dest.WriteLocalData(context.Background(), in, sharedArgs(t), driver.NewDestArgs(nil, driver.Overwrite))
	if err != nil {
		t.Fatalf("write local data: %v", err)
	}
	for result := range results {
		if result.Err != nil {
			t.Fatalf("stream %q: %v", result.Name, result.Err)
		}
	}
	for _, name := range []string{"a.csv", "b.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing output file %s: %v", name, err)
		}
	}
}

func TestSchemaInfersTextColumns(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "people.csv.gz")
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := csvdata.NewCompressor(f, ".gz")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte("id,name\n1,ada\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	tbl, err := NewFile(in).Schema(context.Background())
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if tbl.Name != "people" {
		t.Fatalf("unexpected table name %q", tbl.Name)
	}
	want := textTable("people", "id", "name")
	if !tbl.Equal(want) {
		t.Fatalf("unexpected schema %+v", tbl)
	}
}

func TestChildOnlyForDirectories(t *testing.T) {
	if _, err := NewFile("in.csv").Child("x"); err == nil {
		t.Fatal("expected error for file locator")
	}
	child, err := NewDirectory("/tmp/out").Child("stage")
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	if child.String() != "csv:/tmp/out/stage/" {
		t.Fatalf("unexpected child %q", child.String())
	}
}
