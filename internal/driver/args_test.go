package driver

import (
	"errors"
	"testing"

	"github.com/tableport/tableport/internal/schema"
)

func testTable() *schema.Table {
	return &schema.Table{
		Name: "widgets",
		Columns: []schema.Column{
			{Name: "id", DataType: schema.Simple(schema.KindInt64)},
			{Name: "name", DataType: schema.Simple(schema.KindText), Nullable: true},
		},
	}
}

func TestSourceArgsVerify(t *testing.T) {
	full := Features{SourceOptions: SourceDriverArgs | SourceWhereClause}

	args := NewSourceArgs(DriverArgs{"partition": "7"}, "id > 10")
	verified, err := args.Verify(full)
	if err != nil {
		t.Fatalf("verify against permissive features: %v", err)
	}
	if verified.WhereClause() != "id > 10" {
		t.Fatalf("where = %q", verified.WhereClause())
	}
	if verified.DriverArgs()["partition"] != "7" {
		t.Fatalf("driver args = %v", verified.DriverArgs())
	}

	_, err = args.Verify(Features{SourceOptions: SourceWhereClause})
	var unsupported *UnsupportedOptionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedOptionError", err)
	}
	if got, want := unsupported.Error(), "this data source does not support --from-args"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}

	_, err = NewSourceArgs(nil, "id > 10").Verify(Features{})
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedOptionError", err)
	}
	if got, want := unsupported.Error(), "this data source does not support --where"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
}

func TestSourceArgsVerifyIsIdempotent(t *testing.T) {
	args := NewSourceArgs(nil, "x = 1")
	features := Features{SourceOptions: SourceWhereClause}
	first, err := args.Verify(features)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	second, err := args.Verify(features)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if first.WhereClause() != second.WhereClause() {
		t.Fatal("verification should not change the bundle")
	}
}

func TestDestArgsVerify(t *testing.T) {
	args := NewDestArgs(DriverArgs{"billing": "team-a"}, Append)

	_, err := args.Verify(Features{DestIfExists: AllowAppend})
	var unsupported *UnsupportedOptionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedOptionError", err)
	}
	if got, want := unsupported.Error(), "this data destination does not support --to-args"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}

	_, err = args.Verify(Features{DestOptions: DestDriverArgs, DestIfExists: AllowOverwrite | AllowError})
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedOptionError", err)
	}
	if got, want := unsupported.Error(), "this data destination does not support --if-exists=append"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}

	verified, err := args.Verify(Features{DestOptions: DestDriverArgs, DestIfExists: AllowAppend})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.IfExists().Mode() != ModeAppend {
		t.Fatalf("mode = %v", verified.IfExists().Mode())
	}
}

func TestTemporaryBundles(t *testing.T) {
	src := SourceArgsForTemporary()
	verified, err := src.Verify(Features{})
	if err != nil {
		t.Fatalf("temporary source args must verify against any driver: %v", err)
	}
	if verified.WhereClause() != "" || !verified.DriverArgs().IsEmpty() {
		t.Fatal("temporary source args should be empty")
	}

	dst := DestArgsForTemporary()
	vdst, err := dst.Verify(Features{DestIfExists: AllowOverwrite})
	if err != nil {
		t.Fatalf("temporary dest args: %v", err)
	}
	if vdst.IfExists().Mode() != ModeOverwrite {
		t.Fatalf("temporary dest policy = %v, want overwrite", vdst.IfExists().Mode())
	}
}

func TestSharedArgsVerify(t *testing.T) {
	shared := NewSharedArgs(testTable(), nil)
	verified, err := shared.Verify(Features{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Schema().Name != "widgets" {
		t.Fatalf("schema name = %q", verified.Schema().Name)
	}

	if _, err := NewSharedArgs(nil, nil).Verify(Features{}); err == nil {
		t.Fatal("missing schema should fail verification")
	}
}

func TestParseDriverArgs(t *testing.T) {
	args, err := ParseDriverArgs([]string{"a=1", "b=x=y"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if args["a"] != "1" || args["b"] != "x=y" {
		t.Fatalf("args = %v", args)
	}

	if _, err := ParseDriverArgs([]string{"novalue"}); err == nil {
		t.Fatal("expected an error for a pair without '='")
	}
	if _, err := ParseDriverArgs([]string{"=v"}); err == nil {
		t.Fatal("expected an error for an empty key")
	}
}

func TestVerifyUpsertColumns(t *testing.T) {
	tbl := testTable()
	if err := UpsertOn("id").VerifyUpsertColumns(tbl); err != nil {
		t.Fatalf("existing column rejected: %v", err)
	}
	if err := UpsertOn("id", "nope").VerifyUpsertColumns(tbl); err == nil {
		t.Fatal("missing column accepted")
	}
	if err := Overwrite.VerifyUpsertColumns(tbl); err != nil {
		t.Fatalf("non-upsert policy should not check columns: %v", err)
	}
}
