package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind identifies which member of a Value is populated.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a tagged field value: null, string, number, or an ordered list of
// strings. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	list []string
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value. Blank strings become null.
func String(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{}
	}
	return Value{kind: KindString, str: s}
}

// Number returns a numeric Value.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// List returns a list Value holding a copy of items. Blank items are dropped
// and an empty list becomes null.
func List(items []string) Value {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return Value{}
	}
	return Value{kind: KindList, list: out}
}

// Kind returns the populated kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string member and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric member and whether v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Items returns a copy of the list member, or nil when v is not a list.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// Display renders v for humans.
func (v Value) Display() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindList:
		return strings.Join(v.list, ", ")
	default:
		return "null"
	}
}

// MarshalJSON encodes v as null, a string, a number, or an array of strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindList:
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the forms produced by MarshalJSON and rejects anything
// else (objects, booleans, nested arrays).
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode string value")
		}
		*v = String(s)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return eris.Wrap(err, "model: decode list value")
		}
		*v = List(items)
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return eris.Errorf("model: unsupported value %s", string(data))
		}
		*v = Number(n)
	}
	return nil
}
