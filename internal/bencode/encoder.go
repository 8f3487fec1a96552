package bencode

import (
	"strconv"
)

// Encode serializes v in canonical bencode form. Dict keys are emitted in
// ascending lexicographic byte order regardless of the map's iteration
// order, which is the canonicality requirement the info-hash depends on.
// Encode(Decode(b)) == b for every b that Decode accepts whose dicts list
// their keys in ascending order without repeats. Decode does not reject
// unsorted or repeated dict keys: such input re-encodes with its keys
// sorted and, for a repeated key, only the last value kept.
func Encode(v BValue) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v BValue) []byte {
	switch v.Kind {
	case KindInt:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.Int, 10)
		buf = append(buf, 'e')
	case KindBytes:
		buf = strconv.AppendInt(buf, int64(len(v.Bytes)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.Bytes...)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		for _, key := range sortedKeys(v.Dict) {
			buf = appendValue(buf, Str([]byte(key)))
			buf = appendValue(buf, v.Dict[key])
		}
		buf = append(buf, 'e')
	}
	return buf
}
