package schema

import (
	"bytes"
	"errors"
	"testing"
)

func sampleTable() *Table {
	return &Table{
		Name: "events",
		Columns: []Column{
			{Name: "id", DataType: Simple(KindInt64)},
			{Name: "payload", DataType: Simple(KindJSON), Nullable: true},
			{Name: "created_at", DataType: Simple(KindTimestampTZ)},
		},
	}
}

func TestTableValidate(t *testing.T) {
	tbl := sampleTable()
	if err := tbl.Validate(); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}

	dup := &Table{Columns: []Column{
		{Name: "id", DataType: Simple(KindInt64)},
		{Name: "id", DataType: Simple(KindText)},
	}}
	if err := dup.Validate(); !errors.Is(err, ErrInvalidColumn) {
		t.Fatalf("duplicate column error = %v, want ErrInvalidColumn", err)
	}

	empty := &Table{Name: "nothing"}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidColumn) {
		t.Fatalf("empty table error = %v, want ErrInvalidColumn", err)
	}
}

func TestTableJSONRoundTrip(t *testing.T) {
	tbl := sampleTable()

	var buf bytes.Buffer
	if err := tbl.WriteJSON(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("}\n")) {
		t.Fatalf("document should end with a newline, got %q", buf.String())
	}

	back, err := ParseTable(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !back.Equal(tbl) {
		t.Fatalf("round trip changed table:\n%#v\n!=\n%#v", back, tbl)
	}
}

func TestTableWriteJSONShape(t *testing.T) {
	tbl := &Table{
		Name: "points",
		Columns: []Column{
			{Name: "loc", DataType: Simple(KindGeoJSON), Nullable: true},
		},
	}
	var buf bytes.Buffer
	if err := tbl.WriteJSON(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := `{
  "name": "points",
  "columns": [
    {
      "name": "loc",
      "data_type": "geo_json",
      "is_nullable": true
    }
  ]
}
`
	if buf.String() != want {
		t.Fatalf("document =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestParseTableRejectsBadTypes(t *testing.T) {
	_, err := ParseTable([]byte(`{"columns":[{"name":"a","data_type":"varchar","is_nullable":false}]}`))
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("err = %v, want ErrInvalidType", err)
	}
}

func TestColumnLookup(t *testing.T) {
	tbl := sampleTable()
	col, ok := tbl.Column("payload")
	if !ok || col.DataType.Kind != KindJSON {
		t.Fatalf("Column(payload) = %v, %v", col, ok)
	}
	if _, ok := tbl.Column("missing"); ok {
		t.Fatal("Column(missing) should not be found")
	}
}
