package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDataTypeJSONSimple(t *testing.T) {
	dt := Simple(KindTimestampTZ)
	raw, err := json.Marshal(dt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(raw), `"timestamp_with_time_zone"`; got != want {
		t.Fatalf("marshal = %s, want %s", got, want)
	}

	var back DataType
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(dt) {
		t.Fatalf("round trip changed type: %v != %v", back, dt)
	}
}

func TestDataTypeJSONNested(t *testing.T) {
	dt := Array(Struct(
		StructField{Name: "id", DataType: Simple(KindUUID)},
		StructField{Name: "tags", DataType: Array(Simple(KindText)), Nullable: true},
	))
	raw, err := json.Marshal(dt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"array":{"struct":[{"name":"id","data_type":"uuid","is_nullable":false},{"name":"tags","data_type":{"array":"text"},"is_nullable":true}]}}`
	if string(raw) != want {
		t.Fatalf("marshal =\n%s\nwant\n%s", raw, want)
	}

	var back DataType
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(dt) {
		t.Fatalf("round trip changed type: %v != %v", back, dt)
	}
}

func TestDataTypeUnmarshalRejectsUnknownKind(t *testing.T) {
	var dt DataType
	err := json.Unmarshal([]byte(`"varchar"`), &dt)
	if err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
	if !strings.Contains(err.Error(), "varchar") {
		t.Fatalf("error should name the unknown kind, got: %v", err)
	}
}

func TestDataTypeValidate(t *testing.T) {
	cases := []struct {
		name    string
		dt      DataType
		wantErr bool
	}{
		{"simple", Simple(KindInt64), false},
		{"array", Array(Simple(KindFloat64)), false},
		{"struct", Struct(StructField{Name: "a", DataType: Simple(KindBool)}), false},
		{"unknown kind", DataType{Kind: "varchar"}, true},
		{"array without element", DataType{Kind: KindArray}, true},
		{"struct without fields", DataType{Kind: KindStruct}, true},
		{"simple with element", DataType{Kind: KindText, Elem: &DataType{Kind: KindText}}, true},
		{"struct with unnamed field", Struct(StructField{DataType: Simple(KindText)}), true},
		{"nested invalid", Array(DataType{Kind: KindArray}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.dt.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDataTypeString(t *testing.T) {
	dt := Array(Array(Simple(KindDecimal)))
	if got, want := dt.String(), "array<array<decimal>>"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
