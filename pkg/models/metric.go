// Package models defines the canonical in-memory representation of a
// time-series point shared by the parser and the record builder.
package models

import "strconv"

// Tag is a single key/value pair from a line protocol tag set.
// Tags keep their insertion order and are never deduplicated.
type Tag struct {
	Key   string
	Value string
}

// Field is a single key/value pair from a line protocol field set.
type Field struct {
	Key   string
	Value FieldValue
}

// FieldType identifies the concrete type held by a FieldValue.
type FieldType int

const (
	FieldTypeBool FieldType = iota
	FieldTypeInt
	FieldTypeUint
	FieldTypeFloat
	FieldTypeString
)

// FieldValue is a tagged union over the five line protocol value types.
// Exactly one of the value members is meaningful, selected by Type.
type FieldValue struct {
	Type   FieldType
	Bool   bool
	Int    int64
	Uint   uint64
	Float  float64
	String string
}

// BoolValue returns a boolean FieldValue.
func BoolValue(v bool) FieldValue { return FieldValue{Type: FieldTypeBool, Bool: v} }

// IntValue returns a signed 64-bit integer FieldValue.
func IntValue(v int64) FieldValue { return FieldValue{Type: FieldTypeInt, Int: v} }

// UintValue returns an unsigned 64-bit integer FieldValue.
func UintValue(v uint64) FieldValue { return FieldValue{Type: FieldTypeUint, Uint: v} }

// FloatValue returns a 64-bit float FieldValue.
func FloatValue(v float64) FieldValue { return FieldValue{Type: FieldTypeFloat, Float: v} }

// StringValue returns a string FieldValue.
func StringValue(v string) FieldValue { return FieldValue{Type: FieldTypeString, String: v} }

// Render returns the canonical textual form of the value: "true"/"false"
// for booleans, plain decimal for numbers (no exponent notation), and the
// raw string for strings.
func (v FieldValue) Render() string {
	switch v.Type {
	case FieldTypeBool:
		return strconv.FormatBool(v.Bool)
	case FieldTypeInt:
		return strconv.FormatInt(v.Int, 10)
	case FieldTypeUint:
		return strconv.FormatUint(v.Uint, 10)
	case FieldTypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.String
	}
}

// Metric is one parsed line protocol point. It is created once by the
// parser, never mutated afterward, and consumed exactly once by the record
// builder. The timestamp unit is determined externally by the request's
// precision parameter.
type Metric struct {
	Name      string
	Tags      []Tag
	Fields    []Field
	Timestamp int64
}
