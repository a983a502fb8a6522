// Package gs implements the gs: scheme: directories of CSV objects in
// Google Cloud Storage, reached through the S3-interoperability
// endpoint with HMAC credentials.
//
// Next to plain streaming, gs: directories take part in server-side
// transfers with BigQuery: a bigquery: source is exported with an
// extract job, so table bytes never traverse this process.
package gs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tableport/tableport/internal/bq"
	"github.com/tableport/tableport/internal/config"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/drivers/objstore"
	"github.com/tableport/tableport/internal/storage"
	s3store "github.com/tableport/tableport/internal/storage/s3"
)

// Scheme addresses Cloud Storage directories: gs://bucket/path/.
const Scheme = "gs"

var features = driver.Features{
	Ops:          driver.OpLocalData | driver.OpWriteLocalData | driver.OpWriteRemoteData,
	DestIfExists: driver.AllowError | driver.AllowOverwrite | driver.AllowAppend,
}

// Register installs the gs: driver.
func Register(cfg config.Config) {
	opts := Options(cfg)
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "Cloud Storage directories of CSV objects",
		Features: features,
		Parse: func(rawURL string) (driver.Locator, error) {
			return objstore.Parse(rawURL, opts)
		},
	})
}

// Options builds the objstore options for the gs: scheme. Tests swap in
// fake stores by constructing their own.
func Options(cfg config.Config) objstore.Options {
	return objstore.Options{
		Scheme:   Scheme,
		Features: features,
		NewStore: func(ctx context.Context, bucket string) (storage.ObjectStore, error) {
			return s3store.New(ctx, s3store.Config{
				Endpoint:         cfg.GS.Endpoint,
				Region:           cfg.GS.Region,
				Bucket:           bucket,
				AccessKeyID:      cfg.GS.AccessKeyID,
				SecretAccessKey:  cfg.GS.SecretAccessKey,
				UseSSL:           cfg.GS.UseSSL,
				AutoCreateBucket: cfg.GS.AutoCreateBucket,
			})
		},
		Remote: &bigQueryRemote{
			newClient: func() (*bq.Client, error) {
				return bq.NewClient(bq.ClientConfig{
					BaseURL:      cfg.BigQuery.BaseURL,
					Token:        cfg.BigQuery.Token,
					Timeout:      cfg.BigQuery.Timeout,
					PollInterval: cfg.BigQuery.PollInterval,
				})
			},
		},
	}
}

// bigQueryRemote exports a bigquery: source into a gs: directory with
// an extract job. A WHERE clause goes through a query job into a
// scratch table first, because extract jobs cannot filter.
type bigQueryRemote struct {
	newClient func() (*bq.Client, error)
}

func (r *bigQueryRemote) Supports(source driver.Locator) bool {
	_, ok := source.(bq.TableSource)
	return ok
}

func (r *bigQueryRemote) Write(ctx context.Context, source driver.Locator, dest *objstore.Locator, shared driver.VerifiedSharedArgs, sourceArgs driver.VerifiedSourceArgs, destArgs driver.VerifiedDestArgs) error {
	table := source.(bq.TableSource).BigQueryTable()
	client, err := r.newClient()
	if err != nil {
		return err
	}

	extractFrom := table
	if where := sourceArgs.WhereClause(); where != "" {
		scratch := table.WithTable(table.Table + "_export_" + uuid.NewString()[:8])
		sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", bq.Ident(table.Dotted()), where)
		job := &bq.Job{Configuration: &bq.JobConfiguration{Query: &bq.QueryConfig{
			Query:             sql,
			DestinationTable:  ptr(scratch.Ref()),
			WriteDisposition:  bq.WriteTruncate,
			AllowLargeResults: true,
		}}}
		if _, err := client.RunJob(ctx, table.Project, job); err != nil {
			return fmt.Errorf("filter %s: %w", table, err)
		}
		defer func() { _ = client.DeleteTable(context.WithoutCancel(ctx), scratch) }()
		extractFrom = scratch
	}

	job := &bq.Job{Configuration: &bq.JobConfiguration{Extract: &bq.ExtractConfig{
		SourceTable:       extractFrom.Ref(),
		DestinationURIs:   []string{dest.DirectoryURL() + "*.csv"},
		DestinationFormat: "CSV",
	}}}
	if _, err := client.RunJob(ctx, table.Project, job); err != nil {
		return fmt.Errorf("extract %s to %s: %w", table, dest, err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
