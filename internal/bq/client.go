package bq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public BigQuery v2 REST endpoint.
const DefaultBaseURL = "https://bigquery.googleapis.com/bigquery/v2"

// ErrTableNotFound reports a 404 from the tables API.
var ErrTableNotFound = errors.New("bigquery: table not found")

// Write dispositions for load and query jobs.
const (
	WriteTruncate = "WRITE_TRUNCATE"
	WriteAppend   = "WRITE_APPEND"
	WriteEmpty    = "WRITE_EMPTY"
)

// TableReference is the REST form of a table name.
type TableReference struct {
	ProjectID string `json:"projectId"`
	DatasetID string `json:"datasetId"`
	TableID   string `json:"tableId"`
}

// Ref converts a TableName into its REST form.
func (n TableName) Ref() TableReference {
	return TableReference{ProjectID: n.Project, DatasetID: n.Dataset, TableID: n.Table}
}

// Name converts a REST reference back into a TableName.
func (r TableReference) Name() TableName {
	return TableName{Project: r.ProjectID, Dataset: r.DatasetID, Table: r.TableID}
}

// TableSchema is the REST schema document: a list of field descriptors.
type TableSchema struct {
	Fields []Column `json:"fields"`
}

// JobReference identifies a job for polling.
type JobReference struct {
	ProjectID string `json:"projectId"`
	JobID     string `json:"jobId,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Job is the subset of the jobs API resource the drivers use.
type Job struct {
	JobReference  *JobReference     `json:"jobReference,omitempty"`
	Configuration *JobConfiguration `json:"configuration,omitempty"`
	Status        *JobStatus        `json:"status,omitempty"`
}

type JobConfiguration struct {
	Load    *LoadConfig    `json:"load,omitempty"`
	Extract *ExtractConfig `json:"extract,omitempty"`
	Query   *QueryConfig   `json:"query,omitempty"`
}

// LoadConfig describes a CSV load from object storage into a table.
type LoadConfig struct {
	SourceURIs          []string       `json:"sourceUris"`
	DestinationTable    TableReference `json:"destinationTable"`
	Schema              *TableSchema   `json:"schema,omitempty"`
	SourceFormat        string         `json:"sourceFormat,omitempty"`
	SkipLeadingRows     int            `json:"skipLeadingRows,omitempty"`
	AllowQuotedNewlines bool           `json:"allowQuotedNewlines,omitempty"`
	WriteDisposition    string         `json:"writeDisposition,omitempty"`
}

// ExtractConfig describes a CSV export from a table to object storage.
type ExtractConfig struct {
	SourceTable       TableReference `json:"sourceTable"`
	DestinationURIs   []string       `json:"destinationUris"`
	DestinationFormat string         `json:"destinationFormat,omitempty"`
	Compression       string         `json:"compression,omitempty"`
}

// QueryConfig describes a standard SQL query job. UseLegacySQL is always
// serialized because the API defaults it to true.
type QueryConfig struct {
	Query             string          `json:"query"`
	DestinationTable  *TableReference `json:"destinationTable,omitempty"`
	WriteDisposition  string          `json:"writeDisposition,omitempty"`
	UseLegacySQL      bool            `json:"useLegacySql"`
	AllowLargeResults bool            `json:"allowLargeResults,omitempty"`
}

type JobStatus struct {
	State       string     `json:"state"`
	ErrorResult *JobError  `json:"errorResult,omitempty"`
	Errors      []JobError `json:"errors,omitempty"`
}

type JobError struct {
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TableMetadata is the subset of the tables API resource the drivers
// use.
type TableMetadata struct {
	TableReference TableReference `json:"tableReference"`
	Schema         *TableSchema   `json:"schema,omitempty"`
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL defaults to the public endpoint; tests point it at a local
	// server.
	BaseURL string
	// Token is an OAuth2 bearer token with BigQuery scope.
	Token string
	// Timeout bounds a single HTTP request, not a whole job.
	Timeout time.Duration
	// PollInterval is the starting delay between job status checks.
	PollInterval time.Duration
}

// Client is a minimal BigQuery v2 REST client covering jobs and tables.
type Client struct {
	baseURL      string
	token        string
	client       *http.Client
	pollInterval time.Duration
}

// NewClient builds a REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("bigquery access token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Client{
		baseURL:      base,
		token:        strings.TrimSpace(cfg.Token),
		client:       &http.Client{Timeout: timeout},
		pollInterval: poll,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, result any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal bigquery request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build bigquery request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read bigquery response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound && isTablesPath(path) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, path)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("bigquery request %s failed status=%d body=%s", path, resp.StatusCode, truncateBody(raw))
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode bigquery response: %w", err)
		}
	}
	return nil
}

// isTablesPath reports whether a request path addresses the tables API,
// the only endpoints whose 404 means a missing table.
func isTablesPath(path string) bool {
	return strings.Contains(path, "/tables")
}

func truncateBody(raw []byte) string {
	const max = 2048
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}

// InsertJob submits a job and returns the server's view of it,
// including the assigned job reference.
func (c *Client) InsertJob(ctx context.Context, projectID string, job *Job) (*Job, error) {
	var created Job
	path := fmt.Sprintf("/projects/%s/jobs", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, nil, job, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetJob fetches a job's current state.
func (c *Client) GetJob(ctx context.Context, ref JobReference) (*Job, error) {
	var job Job
	path := fmt.Sprintf("/projects/%s/jobs/%s", url.PathEscape(ref.ProjectID), url.PathEscape(ref.JobID))
	query := url.Values{}
	if ref.Location != "" {
		query.Set("location", ref.Location)
	}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitJob polls a job until it reaches the DONE state, then surfaces
// the job's error result, if any.
func (c *Client) WaitJob(ctx context.Context, ref JobReference) (*Job, error) {
	delay := c.pollInterval
	for {
		job, err := c.GetJob(ctx, ref)
		if err != nil {
			return nil, err
		}
		if jobDone(job) {
			return finishedJob(job, ref.JobID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 8*time.Second {
			delay *= 2
		}
	}
}

// RunJob submits a job and waits for it to finish. The jobs.insert
// response carries the job's current status, so a job that already
// reached DONE is never polled.
func (c *Client) RunJob(ctx context.Context, projectID string, job *Job) (*Job, error) {
	created, err := c.InsertJob(ctx, projectID, job)
	if err != nil {
		return nil, err
	}
	if created.JobReference == nil || created.JobReference.JobID == "" {
		return nil, fmt.Errorf("bigquery did not assign a job id")
	}
	if jobDone(created) {
		return finishedJob(created, created.JobReference.JobID)
	}
	return c.WaitJob(ctx, *created.JobReference)
}

func jobDone(job *Job) bool {
	return job.Status != nil && job.Status.State == "DONE"
}

// finishedJob surfaces a DONE job's error result, if any.
func finishedJob(job *Job, id string) (*Job, error) {
	if job.Status.ErrorResult != nil {
		return nil, fmt.Errorf("bigquery job %s failed: %s", id, job.Status.ErrorResult.Message)
	}
	return job, nil
}

// GetTable fetches a table's metadata, including its schema.
func (c *Client) GetTable(ctx context.Context, name TableName) (*TableMetadata, error) {
	var meta TableMetadata
	path := fmt.Sprintf("/projects/%s/datasets/%s/tables/%s",
		url.PathEscape(name.Project), url.PathEscape(name.Dataset), url.PathEscape(name.Table))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateTable creates a table with the given schema. The API responds
// with 409 when the table already exists, surfaced as an ordinary
// request failure.
func (c *Client) CreateTable(ctx context.Context, name TableName, ts *TableSchema) error {
	payload := &TableMetadata{TableReference: name.Ref(), Schema: ts}
	path := fmt.Sprintf("/projects/%s/datasets/%s/tables",
		url.PathEscape(name.Project), url.PathEscape(name.Dataset))
	return c.do(ctx, http.MethodPost, path, nil, payload, nil)
}

// TableExists reports whether a table exists.
func (c *Client) TableExists(ctx context.Context, name TableName) (bool, error) {
	_, err := c.GetTable(ctx, name)
	if errors.Is(err, ErrTableNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTable drops a table. Deleting a table that does not exist
// returns ErrTableNotFound.
func (c *Client) DeleteTable(ctx context.Context, name TableName) error {
	path := fmt.Sprintf("/projects/%s/datasets/%s/tables/%s",
		url.PathEscape(name.Project), url.PathEscape(name.Dataset), url.PathEscape(name.Table))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}
