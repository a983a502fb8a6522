// Package tableport implements the tableport command line: a thin
// front end that parses locators and flags, then hands the transfer to
// the engine.
package tableport

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tableport/tableport/internal/config"
	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/engine"
	"github.com/tableport/tableport/internal/observability"
	"github.com/tableport/tableport/internal/schema"
)

// Exit codes. User mistakes and backend failures separate so scripts
// can tell a typo from an outage.
const (
	exitOK        = 0
	exitUserError = 1
	exitFailure   = 2
	exitCancelled = 130
)

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes one command and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(opts.Config, stderr)
	}

	if len(args) < 1 {
		writeUsage(stderr)
		return exitUserError
	}

	var err error
	switch command := strings.TrimSpace(args[0]); command {
	case "cp":
		err = runCopy(ctx, args[1:], opts.Config, logger, stderr)
	case "schema":
		err = runSchema(ctx, args[1:], stdout, stderr)
	case "drivers":
		err = runDrivers(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return exitUserError
	}

	if err != nil {
		// The bare sentinel means the usage text already went out.
		if err != errUsage {
			_, _ = fmt.Fprintf(stderr, "tableport: %v\n", err)
		}
		return exitCode(err)
	}
	return exitOK
}

// errUsage marks failures whose message was already printed as usage
// text.
var errUsage = errors.New("usage")

// exitCode classifies an error: anything the user can fix by editing
// the command is a user error, cancellation is 130, and the rest are
// transfer failures.
func exitCode(err error) int {
	var optErr *driver.UnsupportedOptionError
	var noPath *driver.NoPathError
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, errUsage),
		errors.Is(err, driver.ErrUnsupportedScheme),
		errors.Is(err, driver.ErrInvalidLocator),
		errors.As(err, &optErr),
		errors.As(err, &noPath):
		return exitUserError
	default:
		return exitFailure
	}
}

// stringList collects a repeatable string flag in order.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func runCopy(ctx context.Context, args []string, cfg config.Config, logger *slog.Logger, stderr io.Writer) error {
	fs := flag.NewFlagSet("tableport cp", flag.ContinueOnError)
	fs.SetOutput(stderr)

	schemaURL := fs.String("schema", "", "locator supplying the table schema (e.g. schema:table.json)")
	where := fs.String("where", "", "row filter pushed down to the source")
	ifExistsRaw := fs.String("if-exists", "error", "existing-destination policy: error, overwrite, append, or upsert-on:col1,col2")
	metricsAddr := fs.String("metrics-addr", cfg.Observability.MetricsAddr, "expose Prometheus metrics on this address while the transfer runs")
	var fromArgs, toArgs, temporary stringList
	fs.Var(&fromArgs, "from-args", "source driver option key=value (repeatable)")
	fs.Var(&toArgs, "to-args", "destination driver option key=value (repeatable)")
	fs.Var(&temporary, "temporary", "scratch locator for staged transfers (repeatable)")

	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		_, _ = fmt.Fprintln(stderr, "usage: tableport cp [flags] SOURCE DEST")
		return errUsage
	}

	source, err := driver.Parse(fs.Arg(0))
	if err != nil {
		return err
	}
	dest, err := driver.Parse(fs.Arg(1))
	if err != nil {
		return err
	}

	ifExists, err := driver.ParseIfExists(*ifExistsRaw)
	if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	sourceDriverArgs, err := driver.ParseDriverArgs(fromArgs)
	if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	destDriverArgs, err := driver.ParseDriverArgs(toArgs)
	if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}

	tempURLs := []string(temporary)
	if len(tempURLs) == 0 {
		tempURLs = cfg.Temporary.Storage
	}
	var tempStorage driver.TemporaryStorage
	for _, raw := range tempURLs {
		loc, err := driver.Parse(raw)
		if err != nil {
			return fmt.Errorf("temporary storage: %w", err)
		}
		tempStorage = append(tempStorage, loc)
	}

	tbl, err := resolveSchema(ctx, *schemaURL, source)
	if err != nil {
		return err
	}

	if *metricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := observability.ServeMetrics(metricsCtx, *metricsAddr, logger); err != nil {
				logger.Warn("metrics listener failed", slog.Any("error", err))
			}
		}()
	}

	e := &engine.Engine{Logger: logger}
	return e.Transfer(ctx, source, dest,
		driver.NewSharedArgs(tbl, tempStorage),
		driver.NewSourceArgs(sourceDriverArgs, *where),
		driver.NewDestArgs(destDriverArgs, ifExists))
}

// resolveSchema finds the table schema for a transfer: from --schema
// when given, otherwise from the source itself.
func resolveSchema(ctx context.Context, schemaURL string, source driver.Locator) (*schema.Table, error) {
	if schemaURL != "" {
		loc, err := driver.Parse(schemaURL)
		if err != nil {
			return nil, err
		}
		tbl, err := loc.Schema(ctx)
		if err != nil {
			return nil, fmt.Errorf("read schema from %s: %w", loc, err)
		}
		if tbl == nil {
			return nil, fmt.Errorf("%s carries no schema", loc)
		}
		return tbl, nil
	}
	tbl, err := source.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema from %s: %w", source, err)
	}
	if tbl == nil {
		return nil, fmt.Errorf("%s cannot supply a schema; pass --schema", source)
	}
	return tbl, nil
}

func runSchema(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tableport schema", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: tableport schema LOCATOR")
		return errUsage
	}

	loc, err := driver.Parse(fs.Arg(0))
	if err != nil {
		return err
	}
	tbl, err := loc.Schema(ctx)
	if err != nil {
		return fmt.Errorf("read schema from %s: %w", loc, err)
	}
	if tbl == nil {
		return fmt.Errorf("%s carries no schema", loc)
	}
	return tbl.WriteJSON(stdout)
}

func runDrivers(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tableport drivers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	for _, d := range driver.Drivers() {
		_, _ = fmt.Fprintf(stdout, "%-12s %-24s %s\n", d.Scheme+":", d.Features.Describe(), d.Summary)
	}
	return nil
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tableport <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  cp SOURCE DEST   copy a table between two locators")
	_, _ = fmt.Fprintln(w, "  schema LOCATOR   print a locator's portable schema as JSON")
	_, _ = fmt.Fprintln(w, "  drivers          list locator schemes and capabilities")
}
