// Package document models schema-less JSON documents as returned by remote
// endpoints.
//
// Values are a tagged union over the JSON kinds. Objects keep the key order
// of the source and numbers keep their literal text, so a document can be
// re-encoded without loss. Canonical produces the sorted-key encoding used
// for content hashing.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the JSON type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrNotObject is returned when an object was required but another kind was found.
var ErrNotObject = errors.New("document is not a JSON object")

// Value is one JSON value.
type Value struct {
	kind Kind
	b    bool
	s    string // string contents or number literal
	obj  *Object
	arr  []Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number literal.
func Number(n json.Number) Value { return Value{kind: KindNumber, s: string(n)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// ObjectValue wraps an object.
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

// Array wraps a list of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Kind reports the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// Object returns the object held by v, or nil.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Items returns the elements of an array value.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Text renders v the way PostgreSQL's ->> operator does: strings unquoted,
// numbers and booleans as literals, null as absent, containers as JSON.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindNull:
		return "", false
	case KindBool:
		if v.b {
			return "true", true
		}
		return "false", true
	case KindNumber, KindString:
		return v.s, true
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// MarshalJSON encodes v preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf []byte
	return appendValue(buf, v, false)
}
