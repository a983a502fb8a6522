// Package s3 implements the s3: scheme: directories of CSV objects in
// an S3 bucket. Unlike gs:, s3: has no warehouse peer for server-side
// transfers, so it moves data by streaming only.
package s3

import (
	"context"

	"github.com/tableport/tableport/internal/config"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/drivers/objstore"
	"github.com/tableport/tableport/internal/storage"
	s3store "github.com/tableport/tableport/internal/storage/s3"
)

// Scheme addresses S3 directories: s3://bucket/path/.
const Scheme = "s3"

var features = driver.Features{
	Ops:          driver.OpLocalData | driver.OpWriteLocalData,
	DestIfExists: driver.AllowError | driver.AllowOverwrite | driver.AllowAppend,
}

// Register installs the s3: driver.
func Register(cfg config.Config) {
	opts := Options(cfg)
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "S3 directories of CSV objects",
		Features: features,
		Parse: func(rawURL string) (driver.Locator, error) {
			return objstore.Parse(rawURL, opts)
		},
	})
}

// Options builds the objstore options for the s3: scheme.
func Options(cfg config.Config) objstore.Options {
	return objstore.Options{
		Scheme:   Scheme,
		Features: features,
		NewStore: func(ctx context.Context, bucket string) (storage.ObjectStore, error) {
			return s3store.New(ctx, s3store.Config{
				Endpoint:         cfg.S3.Endpoint,
				Region:           cfg.S3.Region,
				Bucket:           bucket,
				AccessKeyID:      cfg.S3.AccessKeyID,
				SecretAccessKey:  cfg.S3.SecretAccessKey,
				UseSSL:           cfg.S3.UseSSL,
				AutoCreateBucket: cfg.S3.AutoCreateBucket,
			})
		},
	}
}
