// Package csvfile implements the csv: and file: schemes: CSV data in
// local files, directories of files, or standard input/output.
//
// A path ending in a separator denotes a directory of CSV files, one
// stream per file. The special path "-" reads stdin or writes stdout.
// Compressed files (.gz, .bz2, .xz, .zst) are handled transparently on
// both sides, chosen by extension.
package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

const (
	// SchemeCSV addresses CSV files and directories: csv:path,
	// csv:dir/, csv:-.
	SchemeCSV = "csv"
	// SchemeFile is a directory-only alias kept for compatibility with
	// file:/path/ URLs.
	SchemeFile = "file"
)

var features = driver.Features{
	Ops:          driver.OpLocalData | driver.OpWriteLocalData,
	DestIfExists: driver.AllowError | driver.AllowOverwrite | driver.AllowAppend,
}

// Register installs the csv: and file: drivers.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   SchemeCSV,
		Summary:  "local CSV files, directories, or - for stdin/stdout",
		Features: features,
		Parse:    parseCSV,
	})
	driver.Register(&driver.Driver{
		Scheme:   SchemeFile,
		Summary:  "local directory of CSV files",
		Features: features,
		Parse:    parseFile,
	})
}

// Locator is one csv: or file: location.
type Locator struct {
	scheme string
	path   string
	stdio  bool
	dir    bool
}

func parseCSV(rawURL string) (driver.Locator, error) {
	path := strings.TrimPrefix(rawURL, SchemeCSV+":")
	if path == "" {
		return nil, driver.InvalidLocator(rawURL, "empty path")
	}
	if path == "-" {
		return &Locator{scheme: SchemeCSV, path: path, stdio: true}, nil
	}
	return &Locator{
		scheme: SchemeCSV,
		path:   path,
		dir:    strings.HasSuffix(path, "/"),
	}, nil
}

func parseFile(rawURL string) (driver.Locator, error) {
	path := strings.TrimPrefix(rawURL, SchemeFile+":")
	if path == "" {
		return nil, driver.InvalidLocator(rawURL, "empty path")
	}
	if !strings.HasSuffix(path, "/") {
		return nil, driver.InvalidLocator(rawURL, "file: locators denote directories and must end with /")
	}
	return &Locator{scheme: SchemeFile, path: path, dir: true}, nil
}

// NewFile returns a locator for a single CSV file, bypassing URL
// parsing. Tests and staging use it.
func NewFile(path string) *Locator {
	return &Locator{scheme: SchemeCSV, path: path}
}

// NewDirectory returns a locator for a directory of CSV files.
func NewDirectory(path string) *Locator {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return &Locator{scheme: SchemeCSV, path: path, dir: true}
}

func (l *Locator) String() string { return l.scheme + ":" + l.path }

func (l *Locator) Features() driver.Features { return features }

// Child carves a sub-directory out of a directory locator, so staged
// transfers can use a local scratch directory.
func (l *Locator) Child(name string) (driver.Locator, error) {
	if !l.dir {
		return nil, fmt.Errorf("%s is not a directory locator", l)
	}
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid child name %q", name)
	}
	return &Locator{scheme: l.scheme, path: l.path + name + "/", dir: true}, nil
}

// Schema infers a portable schema from the header line: every column
// comes back as nullable text, which is all a bare CSV file can say
// about itself.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	if l.stdio {
		return nil, nil
	}
	path := l.path
	if l.dir {
		files, err := l.listFiles()
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no CSV files under %s", l)
		}
		path = files[0]
	}
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	columns := make([]schema.Column, 0, len(header))
	for _, name := range header {
		columns = append(columns, schema.Column{
			Name:     name,
			DataType: schema.Simple(schema.KindText),
			Nullable: true,
		})
	}
	tbl := &schema.Table{Name: csvdata.StreamName(path), Columns: columns}
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	return tbl, nil
}

// WriteSchema is not supported: a CSV file carries its schema in its
// header line.
func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	return fmt.Errorf("%s does not support schema-only writes", l)
}

func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	if _, err := shared.Verify(features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(features); err != nil {
		return nil, err
	}

	if l.stdio {
		return csvdata.Single(&csvdata.Stream{Name: "data", Data: io.NopCloser(os.Stdin)}), nil
	}
	if !l.dir {
		stream, err := openStream(l.path)
		if err != nil {
			return csvdata.Fail(err), nil
		}
		return csvdata.Single(stream), nil
	}

	files, err := l.listFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CSV files under %s", l)
	}

	out := make(chan csvdata.StreamItem)
	go func() {
		defer close(out)
		for _, path := range files {
			stream, err := openStream(path)
			item := csvdata.StreamItem{Stream: stream, Err: err}
			select {
			case out <- item:
			case <-ctx.Done():
				if stream != nil {
					_ = stream.Data.Close()
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

func (l *Locator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	if _, err := shared.Verify(features); err != nil {
		return nil, err
	}
	verified, err := args.Verify(features)
	if err != nil {
		return nil, err
	}

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		writer := &dataWriter{loc: l, ifExists: verified.IfExists()}
		for item := range data {
			if item.Err != nil {
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				return
			}
			result := driver.WriteResult{
				Name: item.Stream.Name,
				Err:  writer.write(ctx, item.Stream),
			}
			_ = item.Stream.Data.Close()
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

// dataWriter lands incoming streams according to the locator shape.
// Directories get one file per stream; single files and stdout get the
// streams concatenated, keeping only the first header.
type dataWriter struct {
	loc      *Locator
	ifExists driver.IfExists
	started  bool
}

func (w *dataWriter) write(ctx context.Context, stream *csvdata.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.loc.dir {
		return w.writeFile(filepath.Join(filepath.FromSlash(w.loc.path), stream.Name+".csv"), stream.Data, w.ifExists, false)
	}
	if w.loc.stdio {
		body := io.Reader(stream.Data)
		if w.started {
			body = csvdata.SkipHeader(body)
		}
		w.started = true
		_, err := io.Copy(os.Stdout, body)
		return err
	}

	// Single file: the first stream applies the policy, later streams
	// append without their header line.
	if !w.started {
		w.started = true
		return w.writeFile(filepath.FromSlash(w.loc.path), stream.Data, w.ifExists, false)
	}
	return w.writeFile(filepath.FromSlash(w.loc.path), csvdata.SkipHeader(stream.Data), driver.Append, true)
}

func (w *dataWriter) writeFile(path string, body io.Reader, ifExists driver.IfExists, forceSkipDone bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %q: %w", path, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	existed := false
	if info, err := os.Stat(path); err == nil {
		existed = info.Size() > 0
	}
	switch ifExists.Mode() {
	case driver.ModeOverwrite:
		flags |= os.O_TRUNC
	case driver.ModeAppend:
		flags |= os.O_APPEND
	case driver.ModeError:
		flags |= os.O_EXCL
	default:
		return fmt.Errorf("csv files do not support --if-exists=%s", ifExists)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%q already exists and --if-exists=error", path)
		}
		return fmt.Errorf("open %q: %w", path, err)
	}
	sink, err := csvdata.NewCompressor(f, csvdata.CompressionExt(path))
	if err != nil {
		return err
	}
	// An appended file already has a header line.
	if !forceSkipDone && ifExists.Mode() == driver.ModeAppend && existed {
		body = csvdata.SkipHeader(body)
	}
	if _, err := io.Copy(sink, body); err != nil {
		_ = sink.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	return sink.Close()
}

// listFiles returns the CSV files directly under the directory, sorted
// by name so shard order is stable across runs.
func (l *Locator) listFiles() ([]string, error) {
	dir := filepath.FromSlash(l.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base := name
		if ext := csvdata.CompressionExt(base); ext != "" {
			base = base[:len(base)-len(ext)]
		}
		if strings.EqualFold(filepath.Ext(base), ".csv") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func openStream(path string) (*csvdata.Stream, error) {
	f, err := os.Open(filepath.FromSlash(path))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	body, err := csvdata.NewDecompressor(f, csvdata.CompressionExt(path))
	if err != nil {
		return nil, err
	}
	return &csvdata.Stream{Name: csvdata.StreamName(path), Data: body}, nil
}

func readHeader(path string) ([]string, error) {
	stream, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Data.Close() }()
	return csvdata.ReadHeader(stream.Data)
}
