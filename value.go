package mvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ValueKind enumerates the dynamic types a property slot can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindBool
	KindString
	KindFloat
	KindLink
	KindList
	KindSet
	KindDict
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindLink:
		return "link"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindDict:
		return "dict"
	}
	return "unknown"
}

// Link references an object in another (or the same) table by stable keys.
type Link struct {
	Table TableKey
	Obj   ObjKey
}

// Value is the dynamically typed property value model. Collections nest:
// a list element or dictionary entry may itself be a list or dictionary.
type Value struct {
	Kind    ValueKind
	Int     int64
	Float   float64
	Str     string
	Bool    bool
	Link    Link
	Elems   []Value          // list and set elements
	Entries map[string]Value // dictionary entries
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IntValue wraps an int64.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// FloatValue wraps a float64.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// LinkValue wraps an object reference.
func LinkValue(table TableKey, obj ObjKey) Value {
	return Value{Kind: KindLink, Link: Link{Table: table, Obj: obj}}
}

// ListValue wraps a list of values.
func ListValue(elems ...Value) Value { return Value{Kind: KindList, Elems: elems} }

// SetValue wraps a set of values.
func SetValue(elems ...Value) Value { return Value{Kind: KindSet, Elems: elems} }

// DictValue wraps a string-keyed dictionary of values.
func DictValue(entries map[string]Value) Value {
	if entries == nil {
		entries = make(map[string]Value)
	}
	return Value{Kind: KindDict, Entries: entries}
}

// SortedKeys returns the dictionary keys in deterministic order.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.Entries))
	for k := range v.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	return bytes.Equal(encodeValue(v), encodeValue(o))
}

// encodeValue serializes a value into the leaf-node payload format.
func encodeValue(v Value) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case KindLink:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Link.Table))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Link.Obj))
	case KindList, KindSet:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Elems)))
		for _, el := range v.Elems {
			buf = appendValue(buf, el)
		}
	case KindDict:
		keys := v.SortedKeys()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
			buf = append(buf, k...)
			buf = appendValue(buf, v.Entries[k])
		}
	}
	return buf
}

// decodeValue deserializes a leaf-node payload back into a value.
func decodeValue(data []byte) (Value, error) {
	v, rest, err := readValue(data)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, fmt.Errorf("value payload has %d trailing bytes", len(rest))
	}
	return v, nil
}

func readValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, fmt.Errorf("value payload truncated")
	}
	kind := ValueKind(data[0])
	data = data[1:]
	var v Value
	v.Kind = kind
	switch kind {
	case KindNull:
	case KindInt:
		if len(data) < 8 {
			return Value{}, nil, fmt.Errorf("int value truncated")
		}
		v.Int = int64(binary.LittleEndian.Uint64(data))
		data = data[8:]
	case KindBool:
		if len(data) < 1 {
			return Value{}, nil, fmt.Errorf("bool value truncated")
		}
		v.Bool = data[0] != 0
		data = data[1:]
	case KindString:
		if len(data) < 4 {
			return Value{}, nil, fmt.Errorf("string value truncated")
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < n {
			return Value{}, nil, fmt.Errorf("string value truncated")
		}
		v.Str = string(data[:n])
		data = data[n:]
	case KindFloat:
		if len(data) < 8 {
			return Value{}, nil, fmt.Errorf("float value truncated")
		}
		v.Float = math.Float64frombits(binary.LittleEndian.Uint64(data))
		data = data[8:]
	case KindLink:
		if len(data) < 12 {
			return Value{}, nil, fmt.Errorf("link value truncated")
		}
		v.Link.Table = TableKey(binary.LittleEndian.Uint32(data))
		v.Link.Obj = ObjKey(binary.LittleEndian.Uint64(data[4:]))
		data = data[12:]
	case KindList, KindSet:
		if len(data) < 4 {
			return Value{}, nil, fmt.Errorf("collection value truncated")
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		v.Elems = make([]Value, 0, n)
		for i := 0; i < n; i++ {
			el, rest, err := readValue(data)
			if err != nil {
				return Value{}, nil, err
			}
			v.Elems = append(v.Elems, el)
			data = rest
		}
	case KindDict:
		if len(data) < 4 {
			return Value{}, nil, fmt.Errorf("dict value truncated")
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		v.Entries = make(map[string]Value, n)
		for i := 0; i < n; i++ {
			if len(data) < 4 {
				return Value{}, nil, fmt.Errorf("dict key truncated")
			}
			kl := int(binary.LittleEndian.Uint32(data))
			data = data[4:]
			if len(data) < kl {
				return Value{}, nil, fmt.Errorf("dict key truncated")
			}
			key := string(data[:kl])
			data = data[kl:]
			el, rest, err := readValue(data)
			if err != nil {
				return Value{}, nil, err
			}
			v.Entries[key] = el
			data = rest
		}
	default:
		return Value{}, nil, fmt.Errorf("unknown value kind %d", kind)
	}
	return v, data, nil
}
