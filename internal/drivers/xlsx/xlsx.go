// Package xlsx implements the xlsx: scheme: the first worksheet of a
// local Excel workbook, addressed as xlsx:book.xlsx.
//
// Cells hold text as the CSV streams carry it; the driver never
// interprets values. Reading walks the sheet row by row, writing goes
// through excelize's stream writer so large transfers stay flat in
// memory.
package xlsx

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses Excel workbooks: xlsx:book.xlsx.
const Scheme = "xlsx"

const sheetName = "Sheet1"

var features = driver.Features{
	Ops:          driver.OpLocalData | driver.OpWriteLocalData,
	DestIfExists: driver.AllowError | driver.AllowOverwrite,
}

// Register installs the xlsx: driver.
func Register() {
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "Excel workbooks, first worksheet",
		Features: features,
		Parse:    parse,
	})
}

// Locator is the first worksheet of one workbook.
type Locator struct {
	path string
}

func parse(rawURL string) (driver.Locator, error) {
	path, ok := strings.CutPrefix(rawURL, Scheme+":")
	if !ok || path == "" {
		return nil, driver.InvalidLocator(rawURL, "expected %s:book.xlsx", Scheme)
	}
	if strings.HasSuffix(path, "/") {
		return nil, driver.InvalidLocator(rawURL, "expected a file, not a directory")
	}
	return &Locator{path: path}, nil
}

// New builds a locator directly. Tests use it with throwaway files.
func New(path string) *Locator {
	return &Locator{path: path}
}

func (l *Locator) String() string { return Scheme + ":" + l.path }

func (l *Locator) Features() driver.Features { return features }

// Schema infers an all-text schema from the sheet's header row, every
// column nullable. Worksheet cells carry no richer type information
// worth trusting.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	book, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %q: %w", l.path, err)
	}
	defer func() { _ = book.Close() }()

	sheet, err := firstSheet(book)
	if err != nil {
		return nil, err
	}
	rows, err := book.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read header of sheet %q: %w", sheet, err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("sheet %q has an empty header row", sheet)
	}

	columns := make([]schema.Column, 0, len(header))
	for _, name := range header {
		columns = append(columns, schema.Column{
			Name:     name,
			DataType: schema.Simple(schema.KindText),
			Nullable: true,
		})
	}
	tbl := &schema.Table{Name: csvdata.StreamName(l.path), Columns: columns}
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	return tbl, nil
}

func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	return fmt.Errorf("%s does not support schema-only writes", l)
}

// LocalData produces the worksheet as a single CSV stream, short rows
// padded to the header's width.
func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	if _, err := shared.Verify(features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(features); err != nil {
		return nil, err
	}

	stream := csvdata.Pipe(csvdata.StreamName(l.path), func(w io.Writer) error {
		book, err := excelize.OpenFile(l.path)
		if err != nil {
			return fmt.Errorf("open workbook %q: %w", l.path, err)
		}
		defer func() { _ = book.Close() }()
		return l.copyOut(book, w)
	})
	return csvdata.Single(stream), nil
}

func (l *Locator) copyOut(book *excelize.File, w io.Writer) error {
	sheet, err := firstSheet(book)
	if err != nil {
		return err
	}
	rows, err := book.Rows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer func() { _ = rows.Close() }()

	out := csv.NewWriter(w)
	width := 0
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row of sheet %q: %w", sheet, err)
		}
		if width == 0 {
			if len(cells) == 0 {
				return fmt.Errorf("sheet %q has an empty header row", sheet)
			}
			width = len(cells)
		}
		for len(cells) < width {
			cells = append(cells, "")
		}
		if err := out.Write(cells[:width]); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("iterate sheet %q: %w", sheet, err)
	}
	out.Flush()
	return out.Error()
}

// WriteLocalData writes every incoming stream into one worksheet: the
// first stream's header becomes row one, later stream headers are
// dropped.
func (l *Locator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	verifiedShared, err := shared.Verify(features)
	if err != nil {
		return nil, err
	}
	verified, err := args.Verify(features)
	if err != nil {
		return nil, err
	}
	tbl := verifiedShared.Schema()

	if verified.IfExists().Mode() != driver.ModeOverwrite {
		if _, err := os.Stat(l.path); err == nil {
			return nil, fmt.Errorf("file %q already exists (pass --if-exists to change this)", l.path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	book := excelize.NewFile()
	writer, err := book.NewStreamWriter(sheetName)
	if err != nil {
		_ = book.Close()
		return nil, fmt.Errorf("create stream writer: %w", err)
	}
	if err := writeRow(writer, 1, tbl.ColumnNames()); err != nil {
		_ = book.Close()
		return nil, err
	}

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		defer func() { _ = book.Close() }()
		nextRow := 2
		failed := false
		for item := range data {
			if item.Err != nil {
				failed = true
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				break
			}
			var err error
			nextRow, err = l.writeStream(writer, nextRow, item.Stream)
			_ = item.Stream.Data.Close()
			if err != nil {
				failed = true
			}
			select {
			case out <- driver.WriteResult{Name: item.Stream.Name, Err: err}:
			case <-ctx.Done():
				failed = true
			}
			if failed {
				break
			}
		}
		if failed {
			return
		}
		err := writer.Flush()
		if err == nil {
			err = book.SaveAs(l.path)
		}
		if err != nil {
			select {
			case out <- driver.WriteResult{Name: csvdata.StreamName(l.path), Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (l *Locator) writeStream(writer *excelize.StreamWriter, nextRow int, stream *csvdata.Stream) (int, error) {
	in := csv.NewReader(stream.Data)
	in.ReuseRecord = true
	if _, err := in.Read(); err != nil {
		return nextRow, fmt.Errorf("read header of stream %q: %w", stream.Name, err)
	}
	for {
		record, err := in.Read()
		if err == io.EOF {
			return nextRow, nil
		}
		if err != nil {
			return nextRow, fmt.Errorf("read stream %q: %w", stream.Name, err)
		}
		if err := writeRow(writer, nextRow, record); err != nil {
			return nextRow, err
		}
		nextRow++
	}
}

func writeRow(writer *excelize.StreamWriter, row int, cells []string) error {
	values := make([]any, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	anchor, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := writer.SetRow(anchor, values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool { return false }

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	return fmt.Errorf("%s does not support remote writes", l)
}

func firstSheet(book *excelize.File) (string, error) {
	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no worksheets")
	}
	return sheets[0], nil
}
