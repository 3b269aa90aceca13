// Package props implements the typed property list stored at the head of
// every texture object.
//
// Entries are encoded in order as a u16-prefixed name, a type byte and the
// value, and the list ends with an entry named "None" that has no type or
// value. Unknown properties are preserved byte for byte.
package props

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed indicates a property list that cannot be decoded.
var ErrMalformed = errors.New("malformed property list")

const terminator = "None"

// Kind is the type of a property value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindBool
	KindName
	KindGUID
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindName:
		return "name"
	case KindGUID:
		return "guid"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Key names a property the texture code reads or writes.
type Key uint8

const (
	Format Key = iota
	CompressionSettings
	SizeX
	SizeY
	TextureFileCacheName
	TFCFileGuid
	MipTailBaseIdx
	NeverStream
)

var keyNames = [...]string{
	Format:               "Format",
	CompressionSettings:  "CompressionSettings",
	SizeX:                "SizeX",
	SizeY:                "SizeY",
	TextureFileCacheName: "TextureFileCacheName",
	TFCFileGuid:          "TFCFileGuid",
	MipTailBaseIdx:       "MipTailBaseIdx",
	NeverStream:          "NeverStream",
}

// String returns the property name as stored.
func (k Key) String() string {
	if int(k) < len(keyNames) {
		return keyNames[k]
	}
	return fmt.Sprintf("key(%d)", uint8(k))
}

// GUID is a 16-byte identifier.
type GUID [16]byte

// Value is a typed property value.
type Value struct {
	Kind Kind
	Int  int32
	Bool bool
	Name string
	GUID GUID
}

// IntValue returns an int value.
func IntValue(v int32) Value { return Value{Kind: KindInt, Int: v} }

// BoolValue returns a bool value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// NameValue returns a name value.
func NameValue(v string) Value { return Value{Kind: KindName, Name: v} }

// GUIDValue returns a GUID value.
func GUIDValue(v GUID) Value { return Value{Kind: KindGUID, GUID: v} }

type entry struct {
	name  string
	value Value
}

// List is an ordered property list.
type List struct {
	entries []entry
}

func (l *List) index(name string) int {
	for i, e := range l.entries {
		if e.name == name {
			return i
		}
	}
	return -1
}

// Get returns the value stored under k.
func (l *List) Get(k Key) (Value, bool) {
	if i := l.index(k.String()); i >= 0 {
		return l.entries[i].value, true
	}
	return Value{}, false
}

// Exists reports whether k is present.
func (l *List) Exists(k Key) bool {
	return l.index(k.String()) >= 0
}

// Set stores v under k, replacing an existing value in place or appending.
func (l *List) Set(k Key, v Value) {
	if i := l.index(k.String()); i >= 0 {
		l.entries[i].value = v
		return
	}
	l.entries = append(l.entries, entry{name: k.String(), value: v})
}

// Remove deletes k if present.
func (l *List) Remove(k Key) {
	if i := l.index(k.String()); i >= 0 {
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
	}
}

// Len returns the number of properties.
func (l *List) Len() int { return len(l.entries) }

// Int returns the int stored under k.
func (l *List) Int(k Key) (int32, bool) {
	v, ok := l.Get(k)
	if !ok || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// Bool returns the bool stored under k, false when absent.
func (l *List) Bool(k Key) bool {
	v, ok := l.Get(k)
	return ok && v.Kind == KindBool && v.Bool
}

// Name returns the name stored under k, "" when absent.
func (l *List) Name(k Key) string {
	v, ok := l.Get(k)
	if !ok || v.Kind != KindName {
		return ""
	}
	return v.Name
}

// GUID returns the GUID stored under k.
func (l *List) GUID(k Key) (GUID, bool) {
	v, ok := l.Get(k)
	if !ok || v.Kind != KindGUID {
		return GUID{}, false
	}
	return v.GUID, true
}

// SetInt stores an int under k.
func (l *List) SetInt(k Key, v int32) { l.Set(k, IntValue(v)) }

// SetBool stores a bool under k.
func (l *List) SetBool(k Key, v bool) { l.Set(k, BoolValue(v)) }

// SetName stores a name under k.
func (l *List) SetName(k Key, v string) { l.Set(k, NameValue(v)) }

// SetGUID stores a GUID under k.
func (l *List) SetGUID(k Key, v GUID) { l.Set(k, GUIDValue(v)) }

// Clone returns a deep copy of l.
func (l *List) Clone() *List {
	return &List{entries: append([]entry(nil), l.entries...)}
}

// Parse decodes a property list from the start of data and returns it with
// the number of bytes consumed.
func Parse(data []byte) (*List, int, error) {
	l := &List{}
	pos := 0
	for {
		name, n, err := readString(data, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = n
		if name == terminator {
			return l, pos, nil
		}
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("%w: %q: missing type", ErrMalformed, name)
		}
		v := Value{Kind: Kind(data[pos])}
		pos++
		switch v.Kind {
		case KindInt:
			if pos+4 > len(data) {
				return nil, 0, fmt.Errorf("%w: %q: truncated int", ErrMalformed, name)
			}
			v.Int = int32(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		case KindBool:
			if pos+1 > len(data) {
				return nil, 0, fmt.Errorf("%w: %q: truncated bool", ErrMalformed, name)
			}
			v.Bool = data[pos] != 0
			pos++
		case KindName:
			if v.Name, pos, err = readString(data, pos); err != nil {
				return nil, 0, err
			}
		case KindGUID:
			if pos+16 > len(data) {
				return nil, 0, fmt.Errorf("%w: %q: truncated guid", ErrMalformed, name)
			}
			copy(v.GUID[:], data[pos:pos+16])
			pos += 16
		default:
			return nil, 0, fmt.Errorf("%w: %q: unknown type %d", ErrMalformed, name, v.Kind)
		}
		l.entries = append(l.entries, entry{name: name, value: v})
	}
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", 0, fmt.Errorf("%w: truncated string length at %d", ErrMalformed, pos)
	}
	n := int(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2
	if pos+n > len(data) {
		return "", 0, fmt.Errorf("%w: truncated string at %d", ErrMalformed, pos)
	}
	return string(data[pos : pos+n]), pos + n, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// Bytes encodes the list, terminator included.
func (l *List) Bytes() []byte {
	var out []byte
	for _, e := range l.entries {
		out = appendString(out, e.name)
		out = append(out, byte(e.value.Kind))
		switch e.value.Kind {
		case KindInt:
			out = binary.LittleEndian.AppendUint32(out, uint32(e.value.Int))
		case KindBool:
			b := byte(0)
			if e.value.Bool {
				b = 1
			}
			out = append(out, b)
		case KindName:
			out = appendString(out, e.value.Name)
		case KindGUID:
			out = append(out, e.value.GUID[:]...)
		}
	}
	return appendString(out, terminator)
}
