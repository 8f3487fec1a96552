package bencode

import "strconv"

// decoder walks raw bytes, not characters: bencode is byte-oriented, and
// dict keys / byte strings must survive the round trip unmolested by any
// text encoding.
type decoder struct {
	input []byte
	pos   int
}

// Decode parses b as a single bencode value. The entire input must be
// consumed; trailing bytes after a well-formed top-level value are an
// error (TrailingDataError), distinct from the decode errors themselves.
func Decode(b []byte) (BValue, error) {
	d := &decoder{input: b}
	v, err := d.parseValue()
	if err != nil {
		return BValue{}, err
	}
	if d.pos != len(d.input) {
		return BValue{}, &TrailingDataError{Remaining: len(d.input) - d.pos}
	}
	return v, nil
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.input) {
		return 0, false
	}
	return d.input[d.pos], true
}

func (d *decoder) parseValue() (BValue, error) {
	c, ok := d.peek()
	if !ok {
		return BValue{}, &UnexpectedEOFError{}
	}
	switch {
	case c == 'i':
		n, err := d.parseInt()
		if err != nil {
			return BValue{}, err
		}
		return Int64(n), nil
	case c == 'l':
		return d.parseList()
	case c == 'd':
		return d.parseDict()
	case c >= '0' && c <= '9':
		s, err := d.parseBytes()
		if err != nil {
			return BValue{}, err
		}
		return Str(s), nil
	default:
		return BValue{}, &UnhandledPrefixError{Byte: c}
	}
}

// parseInt consumes "i" ASCII_DIGITS "e", including an optional leading
// minus, and returns the parsed value.
func (d *decoder) parseInt() (int64, error) {
	d.pos++ // consume 'i'
	start := d.pos
	for {
		c, ok := d.peek()
		if !ok {
			return 0, &UnexpectedEOFError{}
		}
		if c == 'e' {
			break
		}
		d.pos++
	}
	literal := d.input[start:d.pos]
	d.pos++ // consume 'e'

	if len(literal) == 0 {
		return 0, &BadDigitError{}
	}
	neg := false
	digits := literal
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return 0, &BadDigitError{}
	}
	if digits[0] == '0' && len(digits) > 1 {
		return 0, &BadDigitError{Got: digits[0]}
	}
	if neg && digits[0] == '0' {
		// "-0" is not a canonical integer literal.
		return 0, &BadDigitError{Got: '0'}
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, &BadDigitError{Got: byte(c)}
		}
	}

	n, err := strconv.ParseInt(string(literal), 10, 64)
	if err != nil {
		return 0, &IntOverflowError{Literal: string(literal)}
	}
	return n, nil
}

// parseBytes consumes ASCII_DIGITS ":" <n bytes>.
func (d *decoder) parseBytes() ([]byte, error) {
	start := d.pos
	for {
		c, ok := d.peek()
		if !ok {
			return nil, &UnexpectedEOFError{}
		}
		if c == ':' {
			break
		}
		if c < '0' || c > '9' {
			return nil, &BadLengthPrefixError{Literal: string(d.input[start:d.pos+1])}
		}
		d.pos++
	}
	lenLiteral := d.input[start:d.pos]
	d.pos++ // consume ':'

	if len(lenLiteral) == 0 {
		return nil, &BadLengthPrefixError{Literal: ""}
	}
	if lenLiteral[0] == '0' && len(lenLiteral) > 1 {
		return nil, &BadLengthPrefixError{Literal: string(lenLiteral)}
	}

	var length int
	for _, c := range lenLiteral {
		length = length*10 + int(c-'0')
	}

	if d.pos+length > len(d.input) {
		return nil, &UnexpectedEOFError{}
	}
	b := d.input[d.pos : d.pos+length]
	d.pos += length
	return b, nil
}

func (d *decoder) parseList() (BValue, error) {
	d.pos++ // consume 'l'
	var items []BValue
	for {
		c, ok := d.peek()
		if !ok {
			return BValue{}, &UnterminatedContainerError{Kind: "list"}
		}
		if c == 'e' {
			d.pos++
			return BValue{Kind: KindList, List: items}, nil
		}
		v, err := d.parseValue()
		if err != nil {
			return BValue{}, err
		}
		items = append(items, v)
	}
}

func (d *decoder) parseDict() (BValue, error) {
	d.pos++ // consume 'd'
	m := make(map[string]BValue)
	for {
		c, ok := d.peek()
		if !ok {
			return BValue{}, &UnterminatedContainerError{Kind: "dict"}
		}
		if c == 'e' {
			d.pos++
			return BValue{Kind: KindDict, Dict: m}, nil
		}
		if c < '0' || c > '9' {
			return BValue{}, &NonStringDictKeyError{}
		}
		key, err := d.parseBytes()
		if err != nil {
			return BValue{}, err
		}
		val, err := d.parseValue()
		if err != nil {
			return BValue{}, err
		}
		m[string(key)] = val
	}
}
