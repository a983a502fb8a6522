package driver

import (
	"fmt"
	"strings"
)

// IfExistsMode names a policy for handling a destination that already
// exists.
type IfExistsMode string

const (
	ModeError     IfExistsMode = "error"
	ModeOverwrite IfExistsMode = "overwrite"
	ModeAppend    IfExistsMode = "append"
	ModeUpsert    IfExistsMode = "upsert"
)

// IfExists is the fully parsed --if-exists policy. The zero value is
// ModeError, matching the CLI default.
type IfExists struct {
	mode     IfExistsMode
	upsertOn []string
}

var (
	// ErrorIfExists fails the transfer when the destination exists.
	ErrorIfExists = IfExists{mode: ModeError}
	// Overwrite replaces the destination completely.
	Overwrite = IfExists{mode: ModeOverwrite}
	// Append adds rows to an existing destination.
	Append = IfExists{mode: ModeAppend}
)

// UpsertOn merges incoming rows into the destination, matching existing
// rows on the named key columns.
func UpsertOn(columns ...string) IfExists {
	return IfExists{mode: ModeUpsert, upsertOn: append([]string(nil), columns...)}
}

// ParseIfExists parses the CLI form of the policy: one of "error",
// "overwrite", "append", or "upsert-on:col1,col2,...".
func ParseIfExists(s string) (IfExists, error) {
	switch s {
	case "", string(ModeError):
		return ErrorIfExists, nil
	case string(ModeOverwrite):
		return Overwrite, nil
	case string(ModeAppend):
		return Append, nil
	}
	if cols, ok := strings.CutPrefix(s, "upsert-on:"); ok {
		var keys []string
		for _, col := range strings.Split(cols, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				return IfExists{}, fmt.Errorf("invalid --if-exists value %q: empty upsert column", s)
			}
			keys = append(keys, col)
		}
		if len(keys) == 0 {
			return IfExists{}, fmt.Errorf("invalid --if-exists value %q: no upsert columns", s)
		}
		return UpsertOn(keys...), nil
	}
	return IfExists{}, fmt.Errorf("invalid --if-exists value %q", s)
}

// Mode returns the policy's mode.
func (ie IfExists) Mode() IfExistsMode {
	if ie.mode == "" {
		return ModeError
	}
	return ie.mode
}

// UpsertColumns returns the key columns of a ModeUpsert policy, or nil.
func (ie IfExists) UpsertColumns() []string {
	return append([]string(nil), ie.upsertOn...)
}

func (ie IfExists) String() string {
	if ie.Mode() == ModeUpsert {
		return "upsert-on:" + strings.Join(ie.upsertOn, ",")
	}
	return string(ie.Mode())
}

func (ie IfExists) flag() IfExistsSet {
	switch ie.Mode() {
	case ModeOverwrite:
		return AllowOverwrite
	case ModeAppend:
		return AllowAppend
	case ModeUpsert:
		return AllowUpsert
	default:
		return AllowError
	}
}

// VerifySchemaWrite checks the policy against the set a driver accepts
// for schema-only writes.
func (ie IfExists) VerifySchemaWrite(f Features) error {
	return ie.verify(f.SchemaIfExists, "this schema destination")
}

// IfExistsSet is a bit set of the policies a driver accepts.
type IfExistsSet uint8

const (
	AllowError IfExistsSet = 1 << iota
	AllowOverwrite
	AllowAppend
	AllowUpsert
)

// Has reports whether every bit in flag is set.
func (s IfExistsSet) Has(flag IfExistsSet) bool { return s&flag == flag }

// verify checks the policy against the set a destination allows.
func (ie IfExists) verify(allowed IfExistsSet, subject string) error {
	if allowed.Has(ie.flag()) {
		return nil
	}
	return &UnsupportedOptionError{
		Subject: subject,
		Option:  fmt.Sprintf("--if-exists=%s", ie),
	}
}
