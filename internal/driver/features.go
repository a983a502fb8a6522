package driver

import "strings"

// Ops is a bit set of the data operations a locator implements.
type Ops uint8

const (
	// OpLocalData marks locators that can produce CSV streams.
	OpLocalData Ops = 1 << iota
	// OpWriteLocalData marks locators that can consume CSV streams.
	OpWriteLocalData
	// OpWriteRemoteData marks locators that can pull directly from (or be
	// pulled into) a compatible remote peer without local streaming.
	OpWriteRemoteData
	// OpWriteSchema marks locators that can persist a table schema on its
	// own, without any row data.
	OpWriteSchema
)

// Has reports whether every bit in flag is set.
func (o Ops) Has(flag Ops) bool { return o&flag == flag }

// SourceOptions is a bit set of the per-source options a driver honors.
type SourceOptions uint8

const (
	// SourceDriverArgs allows --from-args key=value pairs.
	SourceDriverArgs SourceOptions = 1 << iota
	// SourceWhereClause allows a --where row filter.
	SourceWhereClause
)

// Has reports whether every bit in flag is set.
func (o SourceOptions) Has(flag SourceOptions) bool { return o&flag == flag }

// DestOptions is a bit set of the per-destination options a driver honors.
type DestOptions uint8

const (
	// DestDriverArgs allows --to-args key=value pairs.
	DestDriverArgs DestOptions = 1 << iota
)

// Has reports whether every bit in flag is set.
func (o DestOptions) Has(flag DestOptions) bool { return o&flag == flag }

// Features describes everything a driver can do. The engine consults it
// to pick a transfer path and to reject unsupported options before any
// data moves.
type Features struct {
	// Ops are the locator-level operations the driver implements.
	Ops Ops
	// SourceOptions are accepted when the locator is used as a source.
	SourceOptions SourceOptions
	// DestOptions are accepted when the locator is used as a destination.
	DestOptions DestOptions
	// DestIfExists lists the --if-exists policies accepted when writing
	// row data.
	DestIfExists IfExistsSet
	// SchemaIfExists lists the --if-exists policies accepted when writing
	// a bare schema.
	SchemaIfExists IfExistsSet
}

// Describe renders the feature set for human consumption, one capability
// token per entry.
func (f Features) Describe() string {
	var caps []string
	if f.Ops.Has(OpLocalData) {
		caps = append(caps, "read")
	}
	if f.Ops.Has(OpWriteLocalData) {
		caps = append(caps, "write")
	}
	if f.Ops.Has(OpWriteRemoteData) {
		caps = append(caps, "remote")
	}
	if f.Ops.Has(OpWriteSchema) {
		caps = append(caps, "schema")
	}
	if len(caps) == 0 {
		return "none"
	}
	return strings.Join(caps, ",")
}
