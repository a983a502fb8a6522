package bq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		BaseURL:      server.URL,
		Token:        "test-token",
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client, server
}

func TestRunJobPollsUntilDone(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects/p/jobs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		var job Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			t.Errorf("decode job: %v", err)
		}
		if job.Configuration == nil || job.Configuration.Load == nil {
			t.Errorf("expected a load configuration, got %+v", job.Configuration)
		}
		json.NewEncoder(w).Encode(Job{
			JobReference: &JobReference{ProjectID: "p", JobID: "job_1", Location: "US"},
			Status:       &JobStatus{State: "PENDING"},
		})
	})
	mux.HandleFunc("GET /projects/p/jobs/job_1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("location"); got != "US" {
			t.Errorf("location = %q", got)
		}
		polls++
		state := "RUNNING"
		if polls >= 2 {
			state = "DONE"
		}
		json.NewEncoder(w).Encode(Job{
			JobReference: &JobReference{ProjectID: "p", JobID: "job_1", Location: "US"},
			Status:       &JobStatus{State: state},
		})
	})
	client, _ := newTestClient(t, mux)

	job := &Job{Configuration: &JobConfiguration{Load: &LoadConfig{
		SourceURIs:       []string{"gs://b/tmp/*.csv"},
		DestinationTable: TableReference{ProjectID: "p", DatasetID: "d", TableID: "t"},
		SourceFormat:     "CSV",
	}}}
	done, err := client.RunJob(context.Background(), "p", job)
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if done.Status.State != "DONE" {
		t.Fatalf("state = %q", done.Status.State)
	}
	if polls < 2 {
		t.Fatalf("expected at least two polls, got %d", polls)
	}
}

func TestRunJobSkipsPollingWhenInsertReportsDone(t *testing.T) {
	// Only the insert endpoint exists; polling a finished job would 404.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects/p/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{
			JobReference: &JobReference{ProjectID: "p", JobID: "job_2"},
			Status:       &JobStatus{State: "DONE"},
		})
	})
	client, _ := newTestClient(t, mux)

	done, err := client.RunJob(context.Background(), "p", &Job{})
	if err != nil {
		t.Fatalf("run job: %v", err)
	}
	if done.Status.State != "DONE" {
		t.Fatalf("state = %q", done.Status.State)
	}
}

func TestRunJobSurfacesInsertErrorResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects/p/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{
			JobReference: &JobReference{ProjectID: "p", JobID: "job_3"},
			Status: &JobStatus{
				State:       "DONE",
				ErrorResult: &JobError{Reason: "invalid", Message: "no such dataset"},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.RunJob(context.Background(), "p", &Job{})
	if err == nil || !strings.Contains(err.Error(), "no such dataset") {
		t.Fatalf("err = %v, want the job's error message", err)
	}
}

func TestMissingJobIsNotATableError(t *testing.T) {
	// An empty mux 404s every path.
	client, _ := newTestClient(t, http.NewServeMux())

	_, err := client.GetJob(context.Background(), JobReference{ProjectID: "p", JobID: "absent"})
	if err == nil || errors.Is(err, ErrTableNotFound) {
		t.Fatalf("err = %v, want a plain status error", err)
	}
	if !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunJobSurfacesJobError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects/p/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{
			JobReference: &JobReference{ProjectID: "p", JobID: "job_9"},
			Status:       &JobStatus{State: "PENDING"},
		})
	})
	mux.HandleFunc("GET /projects/p/jobs/job_9", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{
			Status: &JobStatus{
				State:       "DONE",
				ErrorResult: &JobError{Reason: "invalid", Message: "CSV table encountered too many errors"},
			},
		})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.RunJob(context.Background(), "p", &Job{})
	if err == nil || !strings.Contains(err.Error(), "too many errors") {
		t.Fatalf("err = %v, want the job's error message", err)
	}
}

func TestGetTableAndNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/p/datasets/d/tables/events", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TableMetadata{
			TableReference: TableReference{ProjectID: "p", DatasetID: "d", TableID: "events"},
			Schema: &TableSchema{Fields: []Column{
				{Name: "id", Type: "INTEGER", Mode: "REQUIRED"},
			}},
		})
	})
	mux.HandleFunc("GET /projects/p/datasets/d/tables/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Not found"}}`, http.StatusNotFound)
	})
	client, _ := newTestClient(t, mux)

	meta, err := client.GetTable(context.Background(), TableName{Project: "p", Dataset: "d", Table: "events"})
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if len(meta.Schema.Fields) != 1 {
		t.Fatalf("schema = %+v", meta.Schema)
	}

	_, err = client.GetTable(context.Background(), TableName{Project: "p", Dataset: "d", Table: "missing"})
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("err = %v, want ErrTableNotFound", err)
	}

	ok, err := client.TableExists(context.Background(), TableName{Project: "p", Dataset: "d", Table: "missing"})
	if err != nil || ok {
		t.Fatalf("TableExists = %v, %v", ok, err)
	}
}

func TestWaitJobHonorsCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/p/jobs/slow", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Job{Status: &JobStatus{State: "RUNNING"}})
	})
	client, _ := newTestClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := client.WaitJob(ctx, JobReference{ProjectID: "p", JobID: "slow"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
