package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/schema"
)

// fakeLocator is a scriptable locator: features decide which paths
// qualify, and the hooks record what the engine actually ran.
type fakeLocator struct {
	name     string
	features driver.Features

	// source side
	streams []string
	readErr error

	// destination side
	written      []string
	writeErr     map[string]error
	remoteFrom   string
	acceptRemote func(source driver.Locator) bool
}

func (f *fakeLocator) String() string            { return f.name }
func (f *fakeLocator) Features() driver.Features { return f.features }

func (f *fakeLocator) Schema(ctx context.Context) (*schema.Table, error) { return nil, nil }

func (f *fakeLocator) WriteSchema(ctx context.Context, tbl *schema.Table, ifExists driver.IfExists) error {
	return nil
}

func (f *fakeLocator) LocalData(ctx context.Context, shared driver.SharedArgs, args driver.SourceArgs) (<-chan csvdata.StreamItem, error) {
	if _, err := shared.Verify(f.features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(f.features); err != nil {
		return nil, err
	}
	out := make(chan csvdata.StreamItem, len(f.streams)+1)
	for _, name := range f.streams {
		out <- csvdata.StreamItem{Stream: &csvdata.Stream{
			Name: name,
			Data: io.NopCloser(strings.NewReader("id\n1\n")),
		}}
	}
	if f.readErr != nil {
		out <- csvdata.StreamItem{Err: f.readErr}
	}
	close(out)
	return out, nil
}

func (f *fakeLocator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	if _, err := shared.Verify(f.features); err != nil {
		return nil, err
	}
	if _, err := args.Verify(f.features); err != nil {
		return nil, err
	}
	out := make(chan driver.WriteResult)
	go func() {
		defer close(out)
		for item := range data {
			if item.Err != nil {
				out <- driver.WriteResult{Err: item.Err}
				return
			}
			_, _ = io.Copy(io.Discard, item.Stream.Data)
			_ = item.Stream.Data.Close()
			err := f.writeErr[item.Stream.Name]
			if err == nil {
				f.written = append(f.written, item.Stream.Name)
			}
			out <- driver.WriteResult{Name: item.Stream.Name, Err: err}
		}
	}()
	return out, nil
}

func (f *fakeLocator) SupportsWriteRemoteData(source driver.Locator) bool {
	if f.acceptRemote == nil {
		return false
	}
	return f.acceptRemote(source)
}

func (f *fakeLocator) WriteRemoteData(ctx context.Context, source driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	f.remoteFrom = source.String()
	return nil
}

// fakeDirectory adds Child on top of fakeLocator so staged plans carve
// a per-transfer area. Children share the parent's stream script.
type fakeDirectory struct {
	fakeLocator
	children []string
}

func (f *fakeDirectory) Child(name string) (driver.Locator, error) {
	f.children = append(f.children, name)
	child := f.fakeLocator
	child.name = f.name + name + "/"
	return &childLocator{fakeLocator: child, parent: f}, nil
}

// childLocator forwards writes back to the parent directory so leg two
// of a staged transfer sees what leg one wrote.
type childLocator struct {
	fakeLocator
	parent *fakeDirectory
}

func (c *childLocator) WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared driver.SharedArgs, args driver.DestArgs) (<-chan driver.WriteResult, error) {
	return c.parent.WriteLocalData(ctx, data, shared, args)
}

var (
	sourceFeatures = driver.Features{Ops: driver.OpLocalData}
	destFeatures   = driver.Features{
		Ops:          driver.OpWriteLocalData,
		DestIfExists: driver.AllowError | driver.AllowOverwrite,
	}
	remoteFeatures = driver.Features{
		Ops:          driver.OpLocalData | driver.OpWriteRemoteData,
		DestIfExists: driver.AllowError | driver.AllowOverwrite,
	}
)

func testTable() *schema.Table {
	return &schema.Table{Name: "t", Columns: []schema.Column{
		{Name: "id", DataType: schema.Simple(schema.KindInt64)},
	}}
}

func transfer(t *testing.T, source, dest driver.Locator, temp driver.TemporaryStorage) error {
	t.Helper()
	e := &Engine{}
	return e.Transfer(context.Background(), source, dest,
		driver.NewSharedArgs(testTable(), temp),
		driver.NewSourceArgs(nil, ""),
		driver.NewDestArgs(nil, driver.Overwrite))
}

func TestPlanPrefersRemote(t *testing.T) {
	source := &fakeLocator{name: "src", features: remoteFeatures, streams: []string{"a"}}
	dest := &fakeLocator{
		name:         "dst",
		features:     driver.Features{Ops: driver.OpWriteLocalData | driver.OpWriteRemoteData, DestIfExists: driver.AllowOverwrite},
		acceptRemote: func(driver.Locator) bool { return true },
	}

	if err := transfer(t, source, dest, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if dest.remoteFrom != "src" {
		t.Fatalf("expected remote write from src, got %q", dest.remoteFrom)
	}
	if len(dest.written) != 0 {
		t.Fatalf("remote path must not stream, wrote %v", dest.written)
	}
}

func TestPlanFallsBackToStreaming(t *testing.T) {
	// The destination could pull remotely but rejects this source, so
	// the pair streams instead.
	source := &fakeLocator{name: "src", features: remoteFeatures, streams: []string{"a", "b"}}
	dest := &fakeLocator{
		name:         "dst",
		features:     driver.Features{Ops: driver.OpWriteLocalData | driver.OpWriteRemoteData, DestIfExists: driver.AllowOverwrite},
		acceptRemote: func(driver.Locator) bool { return false },
	}

	if err := transfer(t, source, dest, nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if dest.remoteFrom != "" {
		t.Fatal("remote write should not have run")
	}
	if len(dest.written) != 2 || dest.written[0] != "a" || dest.written[1] != "b" {
		t.Fatalf("streams written %v", dest.written)
	}
}

func TestStreamingReportsFirstError(t *testing.T) {
	source := &fakeLocator{name: "src", features: sourceFeatures, streams: []string{"a", "b", "c"}}
	dest := &fakeLocator{
		name:     "dst",
		features: destFeatures,
		writeErr: map[string]error{
			"b": errors.New("shard b exploded"),
			"c": errors.New("shard c exploded"),
		},
	}

	err := transfer(t, source, dest, nil)
	if err == nil || !strings.Contains(err.Error(), `stream "b"`) {
		t.Fatalf("expected the first failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "shard b exploded") {
		t.Fatalf("error should carry the cause, got %v", err)
	}
}

func TestStagedUsesFirstViableTemporary(t *testing.T) {
	source := &fakeLocator{name: "src", features: sourceFeatures, streams: []string{"a"}}
	// The destination cannot read local data, so the pair has no direct
	// path and must stage.
	dest := &fakeLocator{
		name:         "dst",
		features:     driver.Features{Ops: driver.OpWriteRemoteData, DestIfExists: driver.AllowOverwrite},
		acceptRemote: func(driver.Locator) bool { return true },
	}
	// First candidate cannot accept writes; second one qualifies.
	tempFeatures := driver.Features{
		Ops:          driver.OpLocalData | driver.OpWriteLocalData | driver.OpWriteRemoteData,
		DestIfExists: driver.AllowError | driver.AllowOverwrite,
	}
	badTemp := &fakeDirectory{fakeLocator: fakeLocator{name: "bad/", features: sourceFeatures}}
	goodTemp := &fakeDirectory{fakeLocator: fakeLocator{name: "good/", features: tempFeatures}}

	err := transfer(t, source, dest, driver.TemporaryStorage{badTemp, goodTemp})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(badTemp.children) != 0 {
		t.Fatalf("unusable temporary was staged into: %v", badTemp.children)
	}
	if len(goodTemp.children) != 1 || !strings.HasPrefix(goodTemp.children[0], "tableport-") {
		t.Fatalf("staging area names %v", goodTemp.children)
	}
	if len(goodTemp.written) != 1 || goodTemp.written[0] != "a" {
		t.Fatalf("staging leg wrote %v", goodTemp.written)
	}
	if !strings.HasPrefix(dest.remoteFrom, "good/tableport-") {
		t.Fatalf("final leg should pull from the staging area, got %q", dest.remoteFrom)
	}
}

func TestNoPathError(t *testing.T) {
	source := &fakeLocator{name: "src", features: sourceFeatures}
	dest := &fakeLocator{name: "dst", features: driver.Features{Ops: driver.OpWriteRemoteData}}

	before := transferCount(t, "none", "incompatible")
	err := transfer(t, source, dest, nil)
	var noPath *driver.NoPathError
	if !errors.As(err, &noPath) {
		t.Fatalf("expected NoPathError, got %v", err)
	}
	if got := transferCount(t, "none", "incompatible"); got != before+1 {
		t.Fatalf("transfers_total{path=none,status=incompatible} = %v, want %v", got, before+1)
	}
	if got := transferCount(t, "streaming", "incompatible"); got != 0 {
		t.Fatalf("a planning failure was attributed to the streaming path (%v samples)", got)
	}
}

// transferCount reads one labeled sample of the transfers counter from
// the default registry.
func transferCount(t *testing.T, path, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "tableport_transfers_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["path"] == path && labels["status"] == status {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestSourceErrorPropagates(t *testing.T) {
	source := &fakeLocator{name: "src", features: sourceFeatures, readErr: errors.New("listing failed")}
	dest := &fakeLocator{name: "dst", features: destFeatures}

	err := transfer(t, source, dest, nil)
	if err == nil || !strings.Contains(err.Error(), "listing failed") {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestUnsupportedOptionFailsBeforeData(t *testing.T) {
	source := &fakeLocator{name: "src", features: sourceFeatures, streams: []string{"a"}}
	dest := &fakeLocator{name: "dst", features: destFeatures}

	e := &Engine{}
	err := e.Transfer(context.Background(), source, dest,
		driver.NewSharedArgs(testTable(), nil),
		driver.NewSourceArgs(nil, "id > 1"),
		driver.NewDestArgs(nil, driver.Overwrite))
	var optErr *driver.UnsupportedOptionError
	if !errors.As(err, &optErr) {
		t.Fatalf("expected unsupported option error, got %v", err)
	}
	if len(dest.written) != 0 {
		t.Fatalf("no data should move, wrote %v", dest.written)
	}
}

func TestCancelledTransferCollapsesToCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeLocator{name: "src", features: sourceFeatures, readErr: ctx.Err()}
	dest := &fakeLocator{name: "dst", features: destFeatures}

	e := &Engine{}
	err := e.Transfer(ctx, source, dest,
		driver.NewSharedArgs(testTable(), nil),
		driver.NewSourceArgs(nil, ""),
		driver.NewDestArgs(nil, driver.Overwrite))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
