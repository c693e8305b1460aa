package document

import (
	"bytes"
	"encoding/json"
	"sort"
)

// canonicalMarshal renders v with map keys sorted ascending and a two-space
// indent, matching data.py's dump_json(sort_keys=True, indent=2,
// check_circular=False). It is total and injective: identical trees always
// produce identical bytes, and distinct trees never collide (barring an MD5
// collision on the resulting bytes, which is a checksum tie-break concern,
// not a serialisation one).
func canonicalMarshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value, depth int) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case *OrderedMap:
		return writeCanonicalMap(buf, t, depth)
	case []Value:
		return writeCanonicalSeq(buf, t, depth)
	default:
		// Fallback for raw Go scalars constructed in-process (e.g. tests
		// building a Document literal with plain float64/int/bool).
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func writeCanonicalMap(buf *bytes.Buffer, m *OrderedMap, depth int) error {
	keys := m.Keys()
	sort.Strings(keys)

	if len(keys) == 0 {
		buf.WriteString("{}")
		return nil
	}

	buf.WriteString("{\n")
	indent := indentAt(depth + 1)
	for i, k := range keys {
		buf.WriteString(indent)
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteString(": ")
		val, _ := m.Get(k)
		if err := writeCanonical(buf, val, depth+1); err != nil {
			return err
		}
		if i < len(keys)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString(indentAt(depth))
	buf.WriteString("}")
	return nil
}

func writeCanonicalSeq(buf *bytes.Buffer, seq []Value, depth int) error {
	if len(seq) == 0 {
		buf.WriteString("[]")
		return nil
	}

	buf.WriteString("[\n")
	indent := indentAt(depth + 1)
	for i, v := range seq {
		buf.WriteString(indent)
		if err := writeCanonical(buf, v, depth+1); err != nil {
			return err
		}
		if i < len(seq)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString(indentAt(depth))
	buf.WriteString("]")
	return nil
}

func indentAt(depth int) string {
	return string(bytes.Repeat([]byte("  "), depth))
}
