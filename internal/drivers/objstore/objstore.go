// Package objstore implements the directory locator shared by the gs:
// and s3: schemes. A locator names a bucket plus a key prefix ending in
// a slash; every CSV object under the prefix is one stream.
package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
	"github.com/tableport/tableport/internal/storage"
)

// StoreFactory opens the object store behind one bucket.
type StoreFactory func(ctx context.Context, bucket string) (storage.ObjectStore, error)

// Remote runs server-side transfers into this directory. The gs:
// driver installs one that drives BigQuery extract jobs; schemes
// without a remote peer leave it nil.
type Remote interface {
	Supports(source driver.Locator) bool
	Write(ctx context.Context, source driver.Locator, dest *Locator, shared driver.VerifiedSharedArgs, sourceArgs driver.VerifiedSourceArgs, destArgs driver.VerifiedDestArgs) error
}

// Options fixes the per-scheme pieces of a directory locator.
type Options struct {
	Scheme   string
	Features driver.Features
	NewStore StoreFactory
	Remote   Remote
}

// Locator is one bucket/prefix/ directory.
type Locator struct {
	opts   Options
	bucket string
	prefix string
}

// Parse builds a locator from scheme://bucket/prefix/. The URL must end
// with a slash: these locators always denote directories.
func Parse(rawURL string, opts Options) (*Locator, error) {
	head := opts.Scheme + "://"
	if !strings.HasPrefix(rawURL, head) {
		return nil, driver.InvalidLocator(rawURL, "expected %sbucket/path/", head)
	}
	if !strings.HasSuffix(rawURL, "/") {
		return nil, driver.InvalidLocator(rawURL, "object-store directories must end with /")
	}
	rest := strings.TrimPrefix(rawURL, head)
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, driver.InvalidLocator(rawURL, "missing bucket")
	}
	if strings.Contains(prefix, "//") {
		return nil, driver.InvalidLocator(rawURL, "empty path segment")
	}
	return &Locator{opts: opts, bucket: bucket, prefix: prefix}, nil
}

// New builds a locator directly. Tests use it with fake stores.
func New(bucket, prefix string, opts Options) *Locator {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Locator{opts: opts, bucket: bucket, prefix: prefix}
}

func (l *Locator) String() string {
	return l.opts.Scheme + "://" + l.bucket + "/" + l.prefix
}

// DirectoryURL is the probe surface warehouse drivers use to recognize
// an object-store directory they can load from or extract to.
func (l *Locator) DirectoryURL() string { return l.String() }

// Bucket returns the bucket name.
func (l *Locator) Bucket() string { return l.bucket }

// Prefix returns the key prefix, ending in a slash unless empty.
func (l *Locator) Prefix() string { return l.prefix }

func (l *Locator) Features() driver.Features { return l.opts.Features }

// Child carves a sub-directory for staged transfers.
func (l *Locator) Child(name string) (driver.Locator, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid child name %q", name)
	}
	child := *l
	child.prefix = l.prefix + name + "/"
	return &child, nil
}

// Schema returns nothing: a directory of CSV objects has no schema of
// its own, so transfers out of it need --schema or a schema: source.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) { return nil, nil }

func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	return fmt.Errorf("%s does not support schema-only writes", l)
}

func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	if _, err := shared.Verify(l.opts.Features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(l.opts.Features); err != nil {
		return nil, err
	}
	store, err := l.opts.NewStore(ctx, l.bucket)
	if err != nil {
		return nil, err
	}
	keys, err := l.listCSVKeys(ctx, store)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no CSV objects under %s", l)
	}

	out := make(chan csvdata.StreamItem)
	go func() {
		defer close(out)
		for _, key := range keys {
			stream, err := l.openStream(ctx, store, key)
			select {
			case out <- csvdata.StreamItem{Stream: stream, Err: err}:
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
	if _, err := shared.Verify(l.opts.Features); err != nil {
		return nil, err
	}
	verified, err := args.Verify(l.opts.Features)
	if err != nil {
		return nil, err
	}
	store, err := l.opts.NewStore(ctx, l.bucket)
	if err != nil {
		return nil, err
	}
	if err := l.prepare(ctx, store, verified.IfExists()); err != nil {
		return nil, err
	}

	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		for item := range data {
			if item.Err != nil {
				select {
				case out <- driver.WriteResult{Err: item.Err}:
				case <-ctx.Done():
				}
				return
			}
			key := l.prefix + item.Stream.Name + ".csv"
			_, err := store.Put(ctx, key, item.Stream.Data, -1, storage.PutOptions{ContentType: "text/csv"})
			_ = item.Stream.Data.Close()
			if err != nil {
				err = fmt.Errorf("put %s: %w", key, err)
			}
			select {
			case out <- driver.WriteResult{Name: item.Stream.Name, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool {
	return l.opts.Remote != nil && l.opts.Remote.Supports(source)
}

func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	if l.opts.Remote == nil || !l.opts.Remote.Supports(source) {
		return fmt.Errorf("%s cannot copy directly from %s", l, source)
	}
	verifiedShared, err := shared.Verify(l.opts.Features)
	if err != nil {
		return err
	}
	verifiedSource, err := sourceArgs.Verify(source.Features())
	if err != nil {
		return err
	}
	verifiedDest, err := destArgs.Verify(l.opts.Features)
	if err != nil {
		return err
	}
	store, err := l.opts.NewStore(ctx, l.bucket)
	if err != nil {
		return err
	}
	if err := l.prepare(ctx, store, verifiedDest.IfExists()); err != nil {
		return err
	}
	return l.opts.Remote.Write(ctx, source, l, verifiedShared, verifiedSource, verifiedDest)
}

// prepare applies the --if-exists policy to the directory before any
// objects land: error fails on a non-empty prefix, overwrite clears it,
// append leaves it alone.
func (l *Locator) prepare(ctx context.Context, store storage.ObjectStore, ifExists driver.IfExists) error {
	switch ifExists.Mode() {
	case driver.ModeAppend:
		return nil
	case driver.ModeError:
		objects, err := store.List(ctx, l.prefix)
		if err != nil {
			return err
		}
		if len(objects) > 0 {
			return fmt.Errorf("%s is not empty and --if-exists=error", l)
		}
		return nil
	case driver.ModeOverwrite:
		objects, err := store.List(ctx, l.prefix)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			if err := store.Delete(ctx, obj.Key); err != nil {
				return fmt.Errorf("clear %s: %w", l, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("object stores do not support --if-exists=%s", ifExists)
	}
}

func (l *Locator) listCSVKeys(ctx context.Context, store storage.ObjectStore) ([]string, error) {
	objects, err := store.List(ctx, l.prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, obj := range objects {
		base := obj.Key
		if ext := csvdata.CompressionExt(base); ext != "" {
			base = base[:len(base)-len(ext)]
		}
		if strings.HasSuffix(strings.ToLower(base), ".csv") {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Locator) openStream(ctx context.Context, store storage.ObjectStore, key string) (*csvdata.Stream, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	data, err := csvdata.NewDecompressor(body, csvdata.CompressionExt(key))
	if err != nil {
		return nil, err
	}
	return &csvdata.Stream{Name: csvdata.StreamName(key), Data: data}, nil
}
