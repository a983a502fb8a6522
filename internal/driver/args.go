package driver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tableport/tableport/internal/schema"
)

// DriverArgs carries opaque key=value options for a single driver.
type DriverArgs map[string]string

// IsEmpty reports whether no options were given.
func (a DriverArgs) IsEmpty() bool { return len(a) == 0 }

// ParseDriverArgs parses CLI "key=value" pairs.
func ParseDriverArgs(pairs []string) (DriverArgs, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(DriverArgs, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid driver argument %q: expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

// TemporaryStorage lists scratch locations in the order the user supplied
// them. The engine tries them in that order when a transfer must stage.
type TemporaryStorage []Locator

// SharedArgs carries the options both sides of a transfer need. Call
// Verify against a driver's features to unlock the accessors.
type SharedArgs struct {
	schema      *schema.Table
	tempStorage TemporaryStorage
}

// NewSharedArgs builds the shared bundle for a transfer.
func NewSharedArgs(tbl *schema.Table, temp TemporaryStorage) SharedArgs {
	return SharedArgs{schema: tbl, tempStorage: temp}
}

// TemporaryStorage is readable before verification: the engine needs it
// to plan a route, and it is never interpreted by a driver.
func (a SharedArgs) TemporaryStorage() TemporaryStorage { return a.tempStorage }

// Verify checks the bundle against a driver's features.
func (a SharedArgs) Verify(f Features) (VerifiedSharedArgs, error) {
	if a.schema == nil {
		return VerifiedSharedArgs{}, errors.New("missing table schema")
	}
	return VerifiedSharedArgs{schema: a.schema, tempStorage: a.tempStorage}, nil
}

// VerifiedSharedArgs is a SharedArgs bundle that passed verification for
// a particular driver.
type VerifiedSharedArgs struct {
	schema      *schema.Table
	tempStorage TemporaryStorage
}

// Schema returns the table schema for the transfer. Never nil.
func (a VerifiedSharedArgs) Schema() *schema.Table { return a.schema }

// TemporaryStorage returns the scratch locations, possibly empty.
func (a VerifiedSharedArgs) TemporaryStorage() TemporaryStorage { return a.tempStorage }

// SourceArgs carries the source-side options of a transfer.
type SourceArgs struct {
	driverArgs DriverArgs
	where      string
}

// NewSourceArgs builds the source bundle. An empty where means no row
// filter.
func NewSourceArgs(args DriverArgs, where string) SourceArgs {
	return SourceArgs{driverArgs: args, where: where}
}

// SourceArgsForTemporary builds the bundle used when reading back from a
// staging location: no driver arguments and no row filter.
func SourceArgsForTemporary() SourceArgs { return SourceArgs{} }

// Verify checks the bundle against a source driver's features, rejecting
// options the driver does not honor.
func (a SourceArgs) Verify(f Features) (VerifiedSourceArgs, error) {
	if !a.driverArgs.IsEmpty() && !f.SourceOptions.Has(SourceDriverArgs) {
		return VerifiedSourceArgs{}, &UnsupportedOptionError{Subject: "this data source", Option: "--from-args"}
	}
	if a.where != "" && !f.SourceOptions.Has(SourceWhereClause) {
		return VerifiedSourceArgs{}, &UnsupportedOptionError{Subject: "this data source", Option: "--where"}
	}
	return VerifiedSourceArgs{driverArgs: a.driverArgs, where: a.where}, nil
}

// VerifiedSourceArgs is a SourceArgs bundle that passed verification for
// a particular driver.
type VerifiedSourceArgs struct {
	driverArgs DriverArgs
	where      string
}

// DriverArgs returns the source driver options, possibly empty.
func (a VerifiedSourceArgs) DriverArgs() DriverArgs { return a.driverArgs }

// WhereClause returns the row filter, or "" when none was given.
func (a VerifiedSourceArgs) WhereClause() string { return a.where }

// DestArgs carries the destination-side options of a transfer.
type DestArgs struct {
	driverArgs DriverArgs
	ifExists   IfExists
}

// NewDestArgs builds the destination bundle.
func NewDestArgs(args DriverArgs, ifExists IfExists) DestArgs {
	return DestArgs{driverArgs: args, ifExists: ifExists}
}

// DestArgsForTemporary builds the bundle used when writing to a staging
// location: no driver arguments, and overwrite whatever is there.
func DestArgsForTemporary() DestArgs {
	return DestArgs{ifExists: Overwrite}
}

// Verify checks the bundle against a destination driver's features,
// rejecting options and policies the driver does not honor.
func (a DestArgs) Verify(f Features) (VerifiedDestArgs, error) {
	if !a.driverArgs.IsEmpty() && !f.DestOptions.Has(DestDriverArgs) {
		return VerifiedDestArgs{}, &UnsupportedOptionError{Subject: "this data destination", Option: "--to-args"}
	}
	if err := a.ifExists.verify(f.DestIfExists, "this data destination"); err != nil {
		return VerifiedDestArgs{}, err
	}
	return VerifiedDestArgs{driverArgs: a.driverArgs, ifExists: a.ifExists}, nil
}

// VerifiedDestArgs is a DestArgs bundle that passed verification for a
// particular driver.
type VerifiedDestArgs struct {
	driverArgs DriverArgs
	ifExists   IfExists
}

// DriverArgs returns the destination driver options, possibly empty.
func (a VerifiedDestArgs) DriverArgs() DriverArgs { return a.driverArgs }

// IfExists returns the policy for an existing destination.
func (a VerifiedDestArgs) IfExists() IfExists { return a.ifExists }

// VerifyUpsertColumns checks every upsert key column against the table's
// columns. Destinations call this before generating merge statements.
func (ie IfExists) VerifyUpsertColumns(tbl *schema.Table) error {
	if ie.Mode() != ModeUpsert {
		return nil
	}
	for _, col := range ie.upsertOn {
		if _, ok := tbl.Column(col); !ok {
			return fmt.Errorf("upsert column %q does not exist in table %q", col, tbl.Name)
		}
	}
	return nil
}
