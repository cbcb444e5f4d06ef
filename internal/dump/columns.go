package dump

import (
	"strings"
)

// Kind is the closed set of storage categories a column value is serialized by.
type Kind int

const (
	// KindNull marks a column whose declared type is unknown; values are
	// serialized by their runtime type alone.
	KindNull Kind = iota
	KindBoolean
	KindNumber
	KindTemporal
	KindArray
	KindJSON
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindTemporal:
		return "temporal"
	case KindArray:
		return "array"
	case KindJSON:
		return "json"
	case KindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// ColumnType is decided once when column metadata is read.
type ColumnType struct {
	Kind Kind
	// Name is the declared type, e.g. "integer", "jsonb" or "text[]".
	Name string
	// Base is the element type of an array column.
	Base string
	// Clock is set for time-of-day columns (time, timetz).
	Clock bool
	// Binary is set for bytea columns.
	Binary bool
}

// Column is a named column descriptor in physical order.
type Column struct {
	Name string
	Type ColumnType
}

var numberTypes = map[string]bool{
	"smallint": true, "integer": true, "bigint": true,
	"int2": true, "int4": true, "int8": true, "int": true,
	"numeric": true, "decimal": true,
	"real": true, "double precision": true, "float4": true, "float8": true,
	"smallserial": true, "serial": true, "bigserial": true,
	"oid": true,
}

var temporalTypes = map[string]bool{
	"date":      true,
	"timestamp": true, "timestamp without time zone": true,
	"timestamptz": true, "timestamp with time zone": true,
}

var clockTypes = map[string]bool{
	"time": true, "time without time zone": true,
	"timetz": true, "time with time zone": true,
}

// ParseColumnType builds a ColumnType from information_schema.columns
// data_type and udt_name.
func ParseColumnType(dataType, udtName string) ColumnType {
	dataType = strings.ToLower(strings.TrimSpace(dataType))
	udtName = strings.ToLower(strings.TrimSpace(udtName))

	if dataType == "array" || (dataType == "" && strings.HasPrefix(udtName, "_")) {
		base := strings.TrimPrefix(udtName, "_")
		if base == "" {
			base = "text"
		}
		return ColumnType{Kind: KindArray, Name: base + "[]", Base: base}
	}

	if dataType == "user-defined" && udtName != "" {
		return ColumnType{Kind: KindScalar, Name: udtName}
	}

	if dataType == "" {
		dataType = udtName
	}
	return classify(dataType)
}

// ParseStorageType parses a declared type name as written in a snapshot
// document, e.g. "text[]" or "timestamp with time zone".
func ParseStorageType(name string) ColumnType {
	name = strings.ToLower(strings.TrimSpace(name))
	if base, ok := strings.CutSuffix(name, "[]"); ok {
		if base == "" {
			base = "text"
		}
		return ColumnType{Kind: KindArray, Name: base + "[]", Base: base}
	}
	if strings.HasPrefix(name, "_") {
		return ParseColumnType("ARRAY", name)
	}
	return classify(name)
}

func classify(name string) ColumnType {
	switch {
	case name == "":
		return ColumnType{Kind: KindNull}
	case name == "boolean" || name == "bool":
		return ColumnType{Kind: KindBoolean, Name: name}
	case name == "json" || name == "jsonb":
		return ColumnType{Kind: KindJSON, Name: name}
	case numberTypes[name]:
		return ColumnType{Kind: KindNumber, Name: name}
	case temporalTypes[name]:
		return ColumnType{Kind: KindTemporal, Name: name}
	case clockTypes[name]:
		return ColumnType{Kind: KindTemporal, Name: name, Clock: true}
	case name == "bytea":
		return ColumnType{Kind: KindScalar, Name: name, Binary: true}
	default:
		return ColumnType{Kind: KindScalar, Name: name}
	}
}

// CastSuffix returns the explicit cast appended to literals of this type,
// or an empty string when the engine infers the type on its own.
func (c ColumnType) CastSuffix() string {
	switch c.Kind {
	case KindJSON:
		return "::" + c.Name
	case KindArray:
		return "::" + c.Base + "[]"
	default:
		return ""
	}
}

// PreservesText reports a json (not jsonb) column. Its stored text keeps
// whitespace, key order and duplicate keys, so values travel as strings.
func (c ColumnType) PreservesText() bool {
	return c.Kind == KindJSON && c.Name == "json"
}

func (c ColumnType) String() string {
	return c.Name
}
