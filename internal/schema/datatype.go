package schema

import (
	"encoding/json"
	"fmt"
)

// Kind names a portable logical type. The set is closed: drivers map
// every kind to a native type or reject the column.
type Kind string

const (
	KindBool        Kind = "bool"
	KindDate        Kind = "date"
	KindDecimal     Kind = "decimal"
	KindFloat32     Kind = "float32"
	KindFloat64     Kind = "float64"
	KindGeoJSON     Kind = "geo_json"
	KindInt16       Kind = "int16"
	KindInt32       Kind = "int32"
	KindInt64       Kind = "int64"
	KindJSON        Kind = "json"
	KindText        Kind = "text"
	KindTimestamp   Kind = "timestamp_without_time_zone"
	KindTimestampTZ Kind = "timestamp_with_time_zone"
	KindUUID        Kind = "uuid"
	KindArray       Kind = "array"
	KindStruct      Kind = "struct"
)

// DataType is a portable column type. Simple kinds carry no payload;
// KindArray carries Elem and KindStruct carries Fields. Values are
// finitely nested by construction.
type DataType struct {
	Kind   Kind
	Elem   *DataType
	Fields []StructField
}

type StructField struct {
	Name     string
	DataType DataType
	Nullable bool
}

func Simple(kind Kind) DataType {
	return DataType{Kind: kind}
}

func Array(elem DataType) DataType {
	return DataType{Kind: KindArray, Elem: &elem}
}

func Struct(fields ...StructField) DataType {
	return DataType{Kind: KindStruct, Fields: fields}
}

func (dt DataType) Validate() error {
	switch dt.Kind {
	case KindBool, KindDate, KindDecimal, KindFloat32, KindFloat64,
		KindGeoJSON, KindInt16, KindInt32, KindInt64, KindJSON,
		KindText, KindTimestamp, KindTimestampTZ, KindUUID:
		if dt.Elem != nil || len(dt.Fields) > 0 {
			return fmt.Errorf("%w: %q carries nested types", ErrInvalidType, dt.Kind)
		}
		return nil
	case KindArray:
		if dt.Elem == nil {
			return fmt.Errorf("%w: array without element type", ErrInvalidType)
		}
		if len(dt.Fields) > 0 {
			return fmt.Errorf("%w: array carries struct fields", ErrInvalidType)
		}
		return dt.Elem.Validate()
	case KindStruct:
		if dt.Elem != nil {
			return fmt.Errorf("%w: struct carries an element type", ErrInvalidType)
		}
		if len(dt.Fields) == 0 {
			return fmt.Errorf("%w: struct without fields", ErrInvalidType)
		}
		seen := make(map[string]bool, len(dt.Fields))
		for _, field := range dt.Fields {
			if field.Name == "" {
				return fmt.Errorf("%w: struct field without a name", ErrInvalidType)
			}
			if seen[field.Name] {
				return fmt.Errorf("%w: duplicate struct field %q", ErrInvalidType, field.Name)
			}
			seen[field.Name] = true
			if err := field.DataType.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidType, dt.Kind)
	}
}

func (dt DataType) Equal(other DataType) bool {
	if dt.Kind != other.Kind {
		return false
	}
	switch dt.Kind {
	case KindArray:
		if dt.Elem == nil || other.Elem == nil {
			return dt.Elem == other.Elem
		}
		return dt.Elem.Equal(*other.Elem)
	case KindStruct:
		if len(dt.Fields) != len(other.Fields) {
			return false
		}
		for i, field := range dt.Fields {
			if field.Name != other.Fields[i].Name ||
				field.Nullable != other.Fields[i].Nullable ||
				!field.DataType.Equal(other.Fields[i].DataType) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (dt DataType) String() string {
	switch dt.Kind {
	case KindArray:
		if dt.Elem == nil {
			return "array"
		}
		return fmt.Sprintf("array<%s>", dt.Elem.String())
	case KindStruct:
		return "struct"
	default:
		return string(dt.Kind)
	}
}

// Simple kinds serialize as bare strings, array as {"array": elem} and
// struct as {"struct": [fields]}, matching the portable schema files the
// command line reads and writes.
func (dt DataType) MarshalJSON() ([]byte, error) {
	switch dt.Kind {
	case KindArray:
		if dt.Elem == nil {
			return nil, fmt.Errorf("%w: array without element type", ErrInvalidType)
		}
		return json.Marshal(map[string]DataType{"array": *dt.Elem})
	case KindStruct:
		return json.Marshal(map[string][]StructField{"struct": dt.Fields})
	default:
		return json.Marshal(string(dt.Kind))
	}
}

func (dt *DataType) UnmarshalJSON(data []byte) error {
	var simple string
	if err := json.Unmarshal(data, &simple); err == nil {
		*dt = DataType{Kind: Kind(simple)}
		return dt.Validate()
	}

	var tagged struct {
		Array  *DataType     `json:"array"`
		Struct []StructField `json:"struct"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidType, string(data))
	}
	switch {
	case tagged.Array != nil:
		*dt = DataType{Kind: KindArray, Elem: tagged.Array}
	case tagged.Struct != nil:
		*dt = DataType{Kind: KindStruct, Fields: tagged.Struct}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidType, string(data))
	}
	return dt.Validate()
}

func (f StructField) MarshalJSON() ([]byte, error) {
	return json.Marshal(structFieldJSON{
		Name:     f.Name,
		DataType: f.DataType,
		Nullable: f.Nullable,
	})
}

func (f *StructField) UnmarshalJSON(data []byte) error {
	var raw structFieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.DataType = raw.DataType
	f.Nullable = raw.Nullable
	return nil
}

type structFieldJSON struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`
	Nullable bool     `json:"is_nullable"`
}
