package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Decode parses one JSON value from data.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("decode document: trailing data after value")
	}
	return v, nil
}

// DecodeObject parses data and requires the top-level value to be an object.
func DecodeObject(data []byte) (*Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindObject {
		return nil, fmt.Errorf("%w: got %s", ErrNotObject, v.Kind())
	}
	return v.Object(), nil
}

// UnmarshalJSON implements json.Unmarshaler so Values can sit inside
// ordinary structs.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("decode document: %w", err)
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("decode document: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("decode document: object key is %T", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decode document: %w", err)
			}
			return ObjectValue(obj), nil
		case '[':
			items := []Value{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decode document: %w", err)
			}
			return Array(items...), nil
		}
	}
	return Value{}, fmt.Errorf("decode document: unexpected token %v", tok)
}

func appendValue(buf []byte, v Value, sorted bool) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(buf, "null"...), nil
	case KindBool:
		if v.b {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case KindNumber:
		return append(buf, v.s...), nil
	case KindString:
		return appendString(buf, v.s)
	case KindObject:
		return appendObject(buf, v.obj, sorted)
	case KindArray:
		buf = append(buf, '[')
		for i, item := range v.arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendValue(buf, item, sorted); err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	default:
		return nil, fmt.Errorf("encode document: unknown kind %s", v.kind)
	}
}

func appendObject(buf []byte, o *Object, sorted bool) ([]byte, error) {
	if o == nil {
		return append(buf, "null"...), nil
	}

	keys := o.keys
	if sorted {
		keys = o.Keys()
		sort.Strings(keys)
	}

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		if buf, err = appendString(buf, k); err != nil {
			return nil, err
		}
		buf = append(buf, ':')
		if buf, err = appendValue(buf, o.values[k], sorted); err != nil {
			return nil, err
		}
	}
	return append(buf, '}'), nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(buf, bytes.TrimRight(b.Bytes(), "\n")...), nil
}
