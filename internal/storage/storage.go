// Package storage abstracts the object stores the cloud locators sit
// on. Drivers address whole buckets and list by prefix; the concrete
// client lives in the s3 subpackage.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore is one bucket's worth of operations. Put streams the body
// without buffering it; pass size -1 when the length is unknown.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List walks every object under prefix, in lexical key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
