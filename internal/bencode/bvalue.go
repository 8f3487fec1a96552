// Package bencode implements a byte-exact bencode codec: decode arbitrary
// bencoded bytes into a BValue, and re-encode a BValue back to bytes such
// that the round trip is identical to the input. Byte-exactness is not a
// nicety here — the torrent info-hash is the SHA-1 of a canonical
// re-encoding, so a decoder that loses fidelity (e.g. by routing byte
// strings through a UTF-8 string, or a dict that doesn't sort on encode)
// silently produces the wrong info-hash.
package bencode

import "sort"

// Kind tags which of the four bencode value kinds a BValue holds.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// BValue is a tagged union over the four bencode value kinds. Exactly one
// of the fields below is meaningful, selected by Kind.
type BValue struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []BValue
	Dict  map[string]BValue
}

// Int64 constructs an Int BValue.
func Int64(v int64) BValue { return BValue{Kind: KindInt, Int: v} }

// Str constructs a Bytes BValue from raw bytes.
func Str(b []byte) BValue { return BValue{Kind: KindBytes, Bytes: b} }

// ListOf constructs a List BValue.
func ListOf(items ...BValue) BValue { return BValue{Kind: KindList, List: items} }

// DictOf constructs a Dict BValue.
func DictOf(m map[string]BValue) BValue { return BValue{Kind: KindDict, Dict: m} }

// IsInt, IsBytes, IsList, IsDict report the value's kind.
func (v BValue) IsInt() bool   { return v.Kind == KindInt }
func (v BValue) IsBytes() bool { return v.Kind == KindBytes }
func (v BValue) IsList() bool  { return v.Kind == KindList }
func (v BValue) IsDict() bool  { return v.Kind == KindDict }

// GetString returns the string value of a dict field, and whether it was
// present and was a byte string.
func (v BValue) GetString(key string) (string, bool) {
	if v.Kind != KindDict {
		return "", false
	}
	field, ok := v.Dict[key]
	if !ok || field.Kind != KindBytes {
		return "", false
	}
	return string(field.Bytes), true
}

// GetBytes returns the raw byte value of a dict field.
func (v BValue) GetBytes(key string) ([]byte, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	field, ok := v.Dict[key]
	if !ok || field.Kind != KindBytes {
		return nil, false
	}
	return field.Bytes, true
}

// GetInt returns the integer value of a dict field.
func (v BValue) GetInt(key string) (int64, bool) {
	if v.Kind != KindDict {
		return 0, false
	}
	field, ok := v.Dict[key]
	if !ok || field.Kind != KindInt {
		return 0, false
	}
	return field.Int, true
}

// GetDict returns a dict-valued dict field.
func (v BValue) GetDict(key string) (BValue, bool) {
	if v.Kind != KindDict {
		return BValue{}, false
	}
	field, ok := v.Dict[key]
	if !ok || field.Kind != KindDict {
		return BValue{}, false
	}
	return field, true
}

// sortedKeys returns the dict's keys in ascending lexicographic byte order,
// the canonicality requirement §4.1 depends on.
func sortedKeys(m map[string]BValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
