package csvdata

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressionExt returns the recognized compression extension of a file
// or object path, or "" when the path is not compressed.
func CompressionExt(p string) string {
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".gz", ".bz2", ".xz", ".zst":
		return ext
	default:
		return ""
	}
}

// StreamName derives a table-ish stream name from a file or object
// path: the base name with any compression extension and the format
// extension stripped.
func StreamName(p string) string {
	base := path.Base(p)
	if ext := CompressionExt(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	if ext := path.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

// NewDecompressor wraps r with the decoder matching ext, as returned by
// CompressionExt. An empty ext returns r unchanged. Closing the result
// closes r as well.
func NewDecompressor(r io.ReadCloser, ext string) (io.ReadCloser, error) {
	switch ext {
	case "":
		return r, nil
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return &decompressReader{Reader: zr, closers: []io.Closer{zr, r}}, nil
	case ".bz2":
		return &decompressReader{Reader: bzip2.NewReader(r), closers: []io.Closer{r}}, nil
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open xz stream: %w", err)
		}
		return &decompressReader{Reader: xr, closers: []io.Closer{r}}, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return &decompressReader{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), r}}, nil
	default:
		r.Close()
		return nil, fmt.Errorf("unsupported compression extension %q", ext)
	}
}

// NewCompressor wraps w with the encoder matching ext. An empty ext
// returns w unchanged. Closing the result flushes the encoder and
// closes w. bzip2 output is not supported.
func NewCompressor(w io.WriteCloser, ext string) (io.WriteCloser, error) {
	switch ext {
	case "":
		return w, nil
	case ".gz":
		zw := gzip.NewWriter(w)
		return &compressWriter{Writer: zw, closers: []io.Closer{zw, w}}, nil
	case ".xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open xz writer: %w", err)
		}
		return &compressWriter{Writer: xw, closers: []io.Closer{xw, w}}, nil
	case ".zst":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open zstd writer: %w", err)
		}
		return &compressWriter{Writer: zw, closers: []io.Closer{zw, w}}, nil
	default:
		w.Close()
		return nil, fmt.Errorf("cannot write compression format %q", ext)
	}
}

type decompressReader struct {
	io.Reader
	closers []io.Closer
}

func (d *decompressReader) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type compressWriter struct {
	io.Writer
	closers []io.Closer
}

func (c *compressWriter) Close() error {
	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
