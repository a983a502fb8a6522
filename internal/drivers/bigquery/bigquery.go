// Package bigquery implements the bigquery: scheme: warehouse tables
// addressed as bigquery:project:dataset.table.
//
// The driver never produces or consumes local CSV streams. Data moves
// with server-side jobs against gs: directories: load jobs pull CSV
// objects in, extract jobs push them out (driven by the gs: driver).
// Incompatible pairs stage through gs: temporary storage at the engine
// level.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tableport/tableport/internal/bq"
	"github.com/tableport/tableport/internal/config"
	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// Scheme addresses warehouse tables: bigquery:project:dataset.table.
const Scheme = "bigquery"

var features = driver.Features{
	Ops:            driver.OpWriteRemoteData | driver.OpWriteSchema,
	SourceOptions:  driver.SourceWhereClause,
	DestIfExists:   driver.AllowError | driver.AllowOverwrite | driver.AllowAppend | driver.AllowUpsert,
	SchemaIfExists: driver.AllowError | driver.AllowOverwrite,
}

// ClientFactory opens the REST client when an operation needs it.
type ClientFactory func() (*bq.Client, error)

// Register installs the bigquery: driver.
func Register(cfg config.Config) {
	newClient := func() (*bq.Client, error) {
		return bq.NewClient(bq.ClientConfig{
			BaseURL:      cfg.BigQuery.BaseURL,
			Token:        cfg.BigQuery.Token,
			Timeout:      cfg.BigQuery.Timeout,
			PollInterval: cfg.BigQuery.PollInterval,
		})
	}
	driver.Register(&driver.Driver{
		Scheme:   Scheme,
		Summary:  "BigQuery warehouse tables",
		Features: features,
		Parse: func(rawURL string) (driver.Locator, error) {
			return Parse(rawURL, newClient)
		},
	})
}

// Locator is one warehouse table.
type Locator struct {
	name      bq.TableName
	newClient ClientFactory
}

// Parse builds a locator from bigquery:project:dataset.table.
func Parse(rawURL string, newClient ClientFactory) (*Locator, error) {
	rest := strings.TrimPrefix(rawURL, Scheme+":")
	name, err := bq.ParseTableName(rest)
	if err != nil {
		return nil, driver.InvalidLocator(rawURL, "%s", err)
	}
	return &Locator{name: name, newClient: newClient}, nil
}

// New builds a locator directly. Tests use it with a client pointed at
// a local server.
func New(name bq.TableName, newClient ClientFactory) *Locator {
	return &Locator{name: name, newClient: newClient}
}

func (l *Locator) String() string { return Scheme + ":" + l.name.String() }

func (l *Locator) Features() driver.Features { return features }

// BigQueryTable exposes the table name to the gs: driver's remote-data
// probe.
func (l *Locator) BigQueryTable() bq.TableName { return l.name }

// Schema reads the table's schema through the tables API and converts
// it to portable form.
func (l *Locator) Schema(ctx context.Context) (*schema.Table, error) {
	client, err := l.newClient()
	if err != nil {
		return nil, err
	}
	meta, err := client.GetTable(ctx, l.name)
	if err != nil {
		return nil, err
	}
	return bq.PortableTable(l.name.Table, meta.Schema)
}

// WriteSchema creates the table without loading any rows.
func (l *Locator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	if err := ifExists.VerifySchemaWrite(features); err != nil {
		return err
	}
	mapped, err := bq.TableFor(l.name, tbl, bq.UsageFinalTable)
	if err != nil {
		return err
	}
	client, err := l.newClient()
	if err != nil {
		return err
	}
	if ifExists.Mode() == driver.ModeOverwrite {
		if err := client.DeleteTable(ctx, l.name); err != nil && !isNotFound(err) {
			return err
		}
	}
	if err := client.CreateTable(ctx, l.name, &bq.TableSchema{Fields: mapped.Columns()}); err != nil {
		return fmt.Errorf("create table %s: %w", l.name, err)
	}
	return nil
}

// LocalData is absent: the warehouse only moves data server-side.
func (l *Locator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	return nil, nil
}

func (l *Locator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	return nil, fmt.Errorf("%s does not accept local data; stage through gs:// temporary storage", l)
}

func (l *Locator) SupportsWriteRemoteData(source driver.Locator) bool {
	dir, ok := source.(bq.ObjectDirectory)
	return ok && strings.HasPrefix(dir.DirectoryURL(), "gs://")
}

// WriteRemoteData loads CSV objects from a gs: directory into the
// table. CSV-importable tables load directly with the right write
// disposition; everything else lands in a scratch table first and is
// coerced (or merged, for upsert) with generated SQL.
func (l *Locator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	dir, ok := source.(bq.ObjectDirectory)
	if !ok || !strings.HasPrefix(dir.DirectoryURL(), "gs://") {
		return fmt.Errorf("%s can only load from gs:// directories, not %s", l, source)
	}
	verifiedShared, err := shared.Verify(features)
	if err != nil {
		return err
	}
	if _, err := sourceArgs.Verify(source.Features()); err != nil {
		return err
	}
	verifiedDest, err := destArgs.Verify(features)
	if err != nil {
		return err
	}
	tbl := verifiedShared.Schema()
	ifExists := verifiedDest.IfExists()
	if err := ifExists.VerifyUpsertColumns(tbl); err != nil {
		return err
	}

	client, err := l.newClient()
	if err != nil {
		return err
	}
	sourceURI := dir.DirectoryURL() + "*.csv"

	if bq.TableCanImportFromCSV(tbl) && ifExists.Mode() != driver.ModeUpsert {
		return l.loadDirect(ctx, client, tbl, sourceURI, ifExists)
	}
	return l.loadStaged(ctx, client, tbl, sourceURI, ifExists)
}

func (l *Locator) loadDirect(ctx context.Context, client *bq.Client, tbl *schema.Table, sourceURI string, ifExists driver.IfExists) error {
	mapped, err := bq.TableFor(l.name, tbl, bq.UsageFinalTable)
	if err != nil {
		return err
	}
	disposition, err := l.disposition(ctx, client, ifExists)
	if err != nil {
		return err
	}
	job := &bq.Job{Configuration: &bq.JobConfiguration{Load: loadConfig(l.name, mapped, sourceURI, disposition)}}
	if _, err := client.RunJob(ctx, l.name.Project, job); err != nil {
		return fmt.Errorf("load %s: %w", l.name, err)
	}
	return nil
}

// loadStaged lands the CSV objects in a scratch table with every
// non-importable column as STRING, then runs the generated import or
// merge SQL to produce the final shape.
func (l *Locator) loadStaged(ctx context.Context, client *bq.Client, tbl *schema.Table, sourceURI string, ifExists driver.IfExists) error {
	scratchName := l.name.WithTable(l.name.Table + "_temp_" + uuid.NewString()[:8])
	scratch, err := bq.TableFor(scratchName, tbl, bq.UsageCSVTempTable)
	if err != nil {
		return err
	}
	final, err := bq.TableFor(l.name, tbl, bq.UsageFinalTable)
	if err != nil {
		return err
	}

	loadJob := &bq.Job{Configuration: &bq.JobConfiguration{Load: loadConfig(scratchName, scratch, sourceURI, bq.WriteTruncate)}}
	if _, err := client.RunJob(ctx, l.name.Project, loadJob); err != nil {
		return fmt.Errorf("load scratch table %s: %w", scratchName, err)
	}
	defer func() { _ = client.DeleteTable(context.WithoutCancel(ctx), scratchName) }()

	var sql strings.Builder
	queryConfig := &bq.QueryConfig{AllowLargeResults: true}
	if ifExists.Mode() == driver.ModeUpsert {
		if err := final.WriteMergeSQL(scratchName, scratch.ColumnNames(), ifExists.UpsertColumns(), &sql); err != nil {
			return err
		}
	} else {
		disposition, err := l.disposition(ctx, client, ifExists)
		if err != nil {
			return err
		}
		if err := final.WriteImportSQL(scratchName, scratch.ColumnNames(), &sql); err != nil {
			return err
		}
		queryConfig.DestinationTable = &bq.TableReference{
			ProjectID: l.name.Project, DatasetID: l.name.Dataset, TableID: l.name.Table,
		}
		queryConfig.WriteDisposition = disposition
	}
	queryConfig.Query = sql.String()

	queryJob := &bq.Job{Configuration: &bq.JobConfiguration{Query: queryConfig}}
	if _, err := client.RunJob(ctx, l.name.Project, queryJob); err != nil {
		return fmt.Errorf("import into %s: %w", l.name, err)
	}
	return nil
}

// disposition maps --if-exists onto a load/query write disposition.
// The error policy is checked here, against the live table, because
// WRITE_EMPTY only rejects tables with rows, not empty ones.
func (l *Locator) disposition(ctx context.Context, client *bq.Client, ifExists driver.IfExists) (string, error) {
	switch ifExists.Mode() {
	case driver.ModeAppend:
		return bq.WriteAppend, nil
	case driver.ModeOverwrite:
		return bq.WriteTruncate, nil
	case driver.ModeError:
		exists, err := client.TableExists(ctx, l.name)
		if err != nil {
			return "", err
		}
		if exists {
			return "", fmt.Errorf("table %s already exists and --if-exists=error", l.name)
		}
		return bq.WriteTruncate, nil
	default:
		return "", fmt.Errorf("unsupported --if-exists=%s", ifExists)
	}
}

func loadConfig(name bq.TableName, mapped *bq.Table, sourceURI, disposition string) *bq.LoadConfig {
	return &bq.LoadConfig{
		SourceURIs:          []string{sourceURI},
		DestinationTable:    name.Ref(),
		Schema:              &bq.TableSchema{Fields: mapped.Columns()},
		SourceFormat:        "CSV",
		SkipLeadingRows:     1,
		AllowQuotedNewlines: true,
		WriteDisposition:    disposition,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, bq.ErrTableNotFound)
}
