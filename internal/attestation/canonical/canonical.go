// Package canonical serializes attestation payloads to a byte-stable JSON
// form (RFC 8785 style): object keys sorted by UTF-16 code units, numbers in
// their shortest round-trip form, no insignificant whitespace.
//
// Signing and verification both run over Marshal output, so re-serializing a
// stored payload always reproduces the signed bytes.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	ErrInvalidJSON   = errors.New("invalid JSON")
	ErrInvalidNumber = errors.New("number has no canonical form")
)

// Marshal encodes v with encoding/json and canonicalizes the result.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Canonicalize(raw)
}

// Canonicalize rewrites one JSON document into canonical form.
func Canonicalize(input []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}

	var e encoder
	if err := e.value(value); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) value(v any) error {
	switch v := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		e.buf.WriteString(strconv.FormatBool(v))
	case string:
		e.string(v)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidNumber, v)
		}
		num, err := formatNumber(f)
		if err != nil {
			return err
		}
		e.buf.WriteString(num)
	case map[string]any:
		return e.object(v)
	case []any:
		return e.array(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidJSON, v)
	}
	return nil
}

func (e *encoder) object(obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })

	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.string(k)
		e.buf.WriteByte(':')
		if err := e.value(obj[k]); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(arr []any) error {
	e.buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(item); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

const hexDigits = "0123456789abcdef"

// string writes s with only the escapes JSON requires.
func (e *encoder) string(s string) {
	e.buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch r {
		case '"':
			e.buf.WriteString(`\"`)
		case '\\':
			e.buf.WriteString(`\\`)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				e.buf.WriteString(`\u00`)
				e.buf.WriteByte(hexDigits[r>>4])
				e.buf.WriteByte(hexDigits[r&0x0f])
				continue
			}
			e.buf.WriteRune(r)
		}
	}
	e.buf.WriteByte('"')
}

func lessUTF16(a, b string) bool {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// formatNumber renders f the way ECMAScript Number.prototype.toString does.
func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrInvalidNumber
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, ok := strings.Cut(sci, "e")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidNumber, sci)
	}
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidNumber, sci)
	}
	digits := strings.ReplaceAll(mantissa, ".", "")

	if exp <= -7 || exp >= 21 {
		expStr := strconv.Itoa(exp)
		if exp > 0 {
			expStr = "+" + expStr
		}
		if len(digits) == 1 {
			return sign + digits + "e" + expStr, nil
		}
		return sign + digits[:1] + "." + digits[1:] + "e" + expStr, nil
	}

	point := exp + 1
	switch {
	case point >= len(digits):
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	case point <= 0:
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	default:
		return sign + digits[:point] + "." + digits[point:], nil
	}
}
