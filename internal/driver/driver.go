// Package driver defines the contract every storage backend implements
// and the registry the engine uses to find them.
//
// A backend contributes a Driver describing its URL scheme, a Features
// set describing what it can do, and a parser producing Locators. All
// data operations verify their argument bundles before touching any
// remote system, so unsupported options fail fast with a precise
// message instead of surfacing mid-transfer.
package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tableport/tableport/internal/csvdata"
	"github.com/tableport/tableport/internal/schema"
)

// WriteResult reports the outcome of writing one CSV stream. Results
// arrive in the same order as the input streams.
type WriteResult struct {
	// Name is the stream's table-ish name, as it arrived.
	Name string
	// Err is nil when the stream was written completely.
	Err error
}

// Locator is one parsed data location. Implementations advertise what
// they support through Features; calling an operation the features do
// not include is a programming error and may return an error or panic.
type Locator interface {
	// String renders the locator back into URL form.
	String() string

	// Features describes the operations and options this locator
	// supports.
	Features() Features

	// Schema reads the table schema stored at (or implied by) the
	// location. It returns (nil, nil) when the backend has no schema to
	// offer.
	Schema(ctx context.Context) (*schema.Table, error)

	// WriteSchema persists a schema at the location without writing any
	// row data. The ifExists policy is checked against
	// Features().SchemaIfExists.
	WriteSchema(ctx context.Context, tbl *schema.Table, ifExists IfExists) error

	// LocalData produces the location's rows as CSV streams. It returns
	// (nil, nil) when the locator cannot produce local data. The channel
	// is lazy: streams are created as the consumer advances, and
	// unconsumed stream bodies hold back their producers.
	LocalData(ctx context.Context, shared SharedArgs, args SourceArgs) (<-chan csvdata.StreamItem, error)

	// WriteLocalData consumes CSV streams and writes them to the
	// location, reporting one WriteResult per input stream, in order.
	WriteLocalData(ctx context.Context, data <-chan csvdata.StreamItem, shared SharedArgs, args DestArgs) (<-chan WriteResult, error)

	// SupportsWriteRemoteData reports whether WriteRemoteData can copy
	// directly from the given source.
	SupportsWriteRemoteData(source Locator) bool

	// WriteRemoteData copies data directly from source to this location
	// inside the backend, without local streaming. Only valid when
	// SupportsWriteRemoteData(source) is true.
	WriteRemoteData(ctx context.Context, source Locator, shared SharedArgs, sourceArgs SourceArgs, destArgs DestArgs) error
}

// DirectoryLocator is implemented by locators that denote a directory of
// CSV files rather than a single table or file.
type DirectoryLocator interface {
	Locator

	// Child returns a locator for a sub-directory with the given name.
	Child(name string) (Locator, error)
}

// Driver ties a URL scheme to a locator parser.
type Driver struct {
	// Scheme is the URL scheme, without the trailing colon.
	Scheme string
	// Summary is a one-line human description for driver listings.
	Summary string
	// Features describes what the driver's locators support.
	Features Features
	// Parse builds a locator from a raw URL known to carry Scheme.
	Parse func(rawURL string) (Locator, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Driver)
)

// Register makes a driver available under its scheme. It panics when the
// scheme is empty or already taken, so a duplicate registration shows up
// the first time the binary starts.
func Register(d *Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d == nil || d.Scheme == "" || d.Parse == nil {
		panic("driver: Register called with an incomplete driver")
	}
	if _, dup := registry[d.Scheme]; dup {
		panic(fmt.Sprintf("driver: Register called twice for scheme %q", d.Scheme))
	}
	registry[d.Scheme] = d
}

// Lookup returns the driver registered for a scheme.
func Lookup(scheme string) (*Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[scheme]
	return d, ok
}

// Drivers lists all registered drivers, sorted by scheme.
func Drivers() []*Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()
	all := make([]*Driver, 0, len(registry))
	for _, d := range registry {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Scheme < all[j].Scheme })
	return all
}

// Parse resolves a raw URL to a locator using the registered drivers.
func Parse(rawURL string) (Locator, error) {
	scheme, _, ok := strings.Cut(rawURL, ":")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: %q has no scheme, expected something like csv:path or postgres://...", ErrUnsupportedScheme, rawURL)
	}
	d, found := Lookup(scheme)
	if !found {
		return nil, fmt.Errorf("%w %q in %q", ErrUnsupportedScheme, scheme+":", rawURL)
	}
	loc, err := d.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return loc, nil
}
