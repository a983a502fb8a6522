// Package engine coordinates one transfer between two locators. It
// picks the fastest path the pair supports, re-verifies the user's
// argument bundles against every driver that will touch them, and
// surfaces the first failure while preserving stream order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tableport/tableport/internal/driver"
	"github.com/tableport/tableport/internal/observability"
)

// Path names the transfer strategy chosen for a source/destination pair.
type Path string

const (
	// PathRemote copies data inside the backends; no bytes traverse this
	// process.
	PathRemote Path = "remote"
	// PathStreaming pulls CSV streams from the source through this
	// process into the destination.
	PathStreaming Path = "streaming"
	// PathStaged bridges an incompatible pair through temporary storage,
	// one leg at a time.
	PathStaged Path = "staged"
)

// Engine runs transfers. The zero value works; Logger and Clock are
// filled with defaults on first use.
type Engine struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

func (e *Engine) ensureDefaults() {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
}

// Transfer moves one table of rows from source to dest. The argument
// bundles arrive unverified; every driver that participates gets them
// re-verified against its own features before any data moves.
func (e *Engine) Transfer(ctx context.Context, source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	e.ensureDefaults()

	transferID := uuid.NewString()
	ctx = observability.ContextWithTransferID(ctx, transferID)
	start := e.Clock()

	pl, err := e.plan(source, dest, shared.TemporaryStorage())
	if err != nil {
		// No path was chosen, so the failure is not attributed to one.
		observability.ObserveTransfer("none", "incompatible", 0, e.Clock().Sub(start))
		return err
	}

	e.Logger.InfoContext(ctx, "transfer started",
		slog.String("transfer_id", transferID),
		slog.String("source", source.String()),
		slog.String("dest", dest.String()),
		slog.String("path", string(pl.path)),
	)

	streams, err := e.run(ctx, pl, source, dest, shared, sourceArgs, destArgs)
	err = collapseCancel(ctx, err)
	elapsed := e.Clock().Sub(start)
	observability.ObserveTransfer(string(pl.path), statusOf(err), streams, elapsed)

	if err != nil {
		e.Logger.ErrorContext(ctx, "transfer failed",
			slog.String("transfer_id", transferID),
			slog.String("path", string(pl.path)),
			slog.Int("streams", streams),
			slog.String("duration", elapsed.String()),
			slog.Any("error", err),
		)
		return err
	}
	e.Logger.InfoContext(ctx, "transfer finished",
		slog.String("transfer_id", transferID),
		slog.String("path", string(pl.path)),
		slog.Int("streams", streams),
		slog.String("duration", elapsed.String()),
	)
	return nil
}

type plan struct {
	path Path
	// temp is the temporary-storage locator backing a staged plan.
	temp driver.Locator
}

// directPath applies rules 1 and 2 of the path predicate: remote when
// the destination can pull straight from the source and both sides
// declare it, otherwise streaming when the source produces local data
// and the destination consumes it.
func directPath(source, dest driver.Locator) (Path, bool) {
	sourceOps := source.Features().Ops
	destOps := dest.Features().Ops
	if dest.SupportsWriteRemoteData(source) &&
		sourceOps.Has(driver.OpWriteRemoteData) && destOps.Has(driver.OpWriteRemoteData) {
		return PathRemote, true
	}
	if sourceOps.Has(driver.OpLocalData) && destOps.Has(driver.OpWriteLocalData) {
		return PathStreaming, true
	}
	return "", false
}

// plan picks remote before streaming before staged. A temporary
// location qualifies when both of its legs resolve by the direct rules;
// the first qualifying entry in declaration order wins.
func (e *Engine) plan(source, dest driver.Locator, temp driver.TemporaryStorage) (plan, error) {
	if path, ok := directPath(source, dest); ok {
		return plan{path: path}, nil
	}
	for _, t := range temp {
		if _, ok := directPath(source, t); !ok {
			continue
		}
		if _, ok := directPath(t, dest); !ok {
			continue
		}
		return plan{path: PathStaged, temp: t}, nil
	}
	return plan{}, &driver.NoPathError{Source: source.String(), Dest: dest.String()}
}

func (e *Engine) run(ctx context.Context, pl plan, source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) (int, error) {
	switch pl.path {
	case PathRemote:
		return 0, e.runRemote(ctx, source, dest, shared, sourceArgs, destArgs)
	case PathStaged:
		return e.runStaged(ctx, pl.temp, source, dest, shared, sourceArgs, destArgs)
	default:
		return e.runStreaming(ctx, source, dest, shared, sourceArgs, destArgs)
	}
}

// verifyPair checks every bundle against the driver that will consume
// it. Drivers verify again at operation entry; doing it here as well
// means an unsupported option fails before either end is touched.
func verifyPair(source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	if _, err := shared.Verify(source.Features()); err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}
	if _, err := shared.Verify(dest.Features()); err != nil {
		return fmt.Errorf("destination %s: %w", dest, err)
	}
	if _, err := sourceArgs.Verify(source.Features()); err != nil {
		return err
	}
	if _, err := destArgs.Verify(dest.Features()); err != nil {
		return err
	}
	return nil
}

func (e *Engine) runRemote(ctx context.Context, source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) error {
	if err := verifyPair(source, dest, shared, sourceArgs, destArgs); err != nil {
		return err
	}
	if err := dest.WriteRemoteData(ctx, source, shared, sourceArgs, destArgs); err != nil {
		return fmt.Errorf("remote write from %s to %s: %w", source, dest, err)
	}
	return nil
}

func (e *Engine) runStreaming(ctx context.Context, source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) (int, error) {
	if err := verifyPair(source, dest, shared, sourceArgs, destArgs); err != nil {
		return 0, err
	}

	items, err := source.LocalData(ctx, shared, sourceArgs)
	if err != nil {
		return 0, fmt.Errorf("read from %s: %w", source, err)
	}
	if items == nil {
		return 0, fmt.Errorf("%s cannot produce local data", source)
	}

	results, err := dest.WriteLocalData(ctx, items, shared, destArgs)
	if err != nil {
		return 0, fmt.Errorf("write to %s: %w", dest, err)
	}

	// One result per stream, in input order. The first failure wins;
	// later ones are logged so a wedged shard does not hide behind the
	// error we report.
	streams := 0
	var firstErr error
	for result := range results {
		streams++
		if result.Err == nil {
			e.Logger.DebugContext(ctx, "stream written",
				slog.String("stream", result.Name),
				slog.String("dest", dest.String()),
			)
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("write stream %q to %s: %w", result.Name, dest, result.Err)
			continue
		}
		e.Logger.WarnContext(ctx, "stream failed after first error",
			slog.String("stream", result.Name),
			slog.Any("error", result.Err),
		)
	}
	return streams, firstErr
}

func (e *Engine) runStaged(ctx context.Context, temp driver.Locator, source, dest driver.Locator, shared driver.SharedArgs, sourceArgs driver.SourceArgs, destArgs driver.DestArgs) (int, error) {
	stage, err := e.stagingArea(temp)
	if err != nil {
		return 0, err
	}
	e.Logger.InfoContext(ctx, "staging transfer",
		slog.String("via", stage.String()),
	)

	// Leg 1: source -> staging, keeping the user's source options so a
	// WHERE clause filters before anything lands in scratch space.
	legPath, ok := directPath(source, stage)
	if !ok {
		return 0, &driver.NoPathError{Source: source.String(), Dest: stage.String()}
	}
	streams, err := e.run(ctx, plan{path: legPath}, source, stage, shared, sourceArgs, driver.DestArgsForTemporary())
	if err != nil {
		return streams, fmt.Errorf("staging leg to %s: %w", stage, err)
	}

	// Leg 2: staging -> destination with the user's destination options.
	legPath, ok = directPath(stage, dest)
	if !ok {
		return streams, &driver.NoPathError{Source: stage.String(), Dest: dest.String()}
	}
	more, err := e.run(ctx, plan{path: legPath}, stage, dest, shared, driver.SourceArgsForTemporary(), destArgs)
	streams += more
	if err != nil {
		return streams, fmt.Errorf("final leg from %s: %w", stage, err)
	}
	return streams, nil
}

// stagingArea carves a transfer-unique directory out of the temporary
// location so concurrent transfers sharing one scratch URL cannot mix
// shards. Staged data is left behind on failure for diagnosis.
func (e *Engine) stagingArea(temp driver.Locator) (driver.Locator, error) {
	dir, ok := temp.(driver.DirectoryLocator)
	if !ok {
		return temp, nil
	}
	child, err := dir.Child("tableport-" + uuid.NewString()[:8])
	if err != nil {
		return nil, fmt.Errorf("carve staging area under %s: %w", temp, err)
	}
	return child, nil
}

// collapseCancel maps any failure that happened under a cancelled
// context onto a single context.Canceled so callers see cancellation
// exactly once, regardless of how many streams died with it.
func collapseCancel(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return fmt.Errorf("transfer cancelled: %w", context.Canceled)
	}
	return err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
