// Package document implements the nested, path-addressable value tree that
// Lighthouse replicates: scalars, ordered maps, and ordered sequences, with
// a canonical serialisation used both for the MD5 checksum and for the
// bytes shipped over the wire and to snapshot files.
//
// Grounded on original_source/lighthouse/data.py's Data.traverse/get/set/
// delete and its dump_json(sort_keys=True, indent=2, check_circular=False).
package document

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/rapid7/lighthouse/internal/lherr"
)

// Value is any node in the document tree: nil, bool, json.Number, string,
// *OrderedMap, or []Value.
type Value any

// Path is a (possibly empty) list of path segments. The empty path refers
// to the document root.
type Path []string

// Document is a single immutable-once-published value tree. Every commit
// replaces Root with a newly built Document (see internal/store); readers
// never observe a Document mutate.
type Document struct {
	Root Value
}

// New returns an empty document: an empty ordered map at the root.
func New() *Document {
	return &Document{Root: NewOrderedMap()}
}

// Clone returns a deep copy of d, safe to mutate independently.
func (d *Document) Clone() *Document {
	return &Document{Root: CloneValue(d.Root)}
}

// CloneValue deep-copies a Value of any supported kind.
func CloneValue(v Value) Value {
	switch t := v.(type) {
	case *OrderedMap:
		return t.Clone()
	case []Value:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		// nil, bool, json.Number and string are immutable already.
		return v
	}
}

// traverse walks root along path, returning the node reached or a NotFound
// error. It never mutates root.
func traverse(root Value, path Path) (Value, error) {
	node := root
	for _, elem := range path {
		switch n := node.(type) {
		case *OrderedMap:
			v, ok := n.Get(elem)
			if !ok {
				return nil, lherr.New(lherr.NotFound, "path segment "+elem+" not found")
			}
			node = v
		case []Value:
			idx, err := parseIndex(elem, len(n))
			if err != nil {
				return nil, err
			}
			node = n[idx]
		default:
			return nil, lherr.New(lherr.NotFound, "path segment "+elem+" traverses a scalar")
		}
	}
	return node, nil
}

func parseIndex(elem string, length int) (int, error) {
	idx := 0
	if elem == "" {
		return 0, lherr.New(lherr.NotFound, "empty sequence index")
	}
	for _, c := range elem {
		if c < '0' || c > '9' {
			return 0, lherr.New(lherr.NotFound, "sequence index "+elem+" is not a non-negative integer")
		}
		idx = idx*10 + int(c-'0')
	}
	if idx < 0 || idx >= length {
		return 0, lherr.New(lherr.NotFound, "sequence index "+elem+" out of range")
	}
	return idx, nil
}

// Get performs a pure traversal of path and returns the value found.
func (d *Document) Get(path Path) (Value, error) {
	return traverse(d.Root, path)
}

// Set replaces the value at path. Setting the empty path replaces the
// whole root. The parent of the last segment must already exist and be a
// map or sequence; missing intermediate parents are never created.
//
// Per spec.md §9's Open Question resolution, setting an in-range sequence
// index succeeds.
func (d *Document) Set(path Path, value Value) error {
	if len(path) == 0 {
		d.Root = value
		return nil
	}

	parent, err := traverse(d.Root, path[:len(path)-1])
	if err != nil {
		return err
	}
	last := path[len(path)-1]

	switch p := parent.(type) {
	case *OrderedMap:
		p.Set(last, value)
		return nil
	case []Value:
		idx, err := parseIndex(last, len(p))
		if err != nil {
			return err
		}
		p[idx] = value
		return nil
	default:
		return lherr.New(lherr.NotFound, "parent of path is not a map or sequence")
	}
}

// Delete removes the value at path. Deleting the empty path replaces the
// root with an empty map. Otherwise the parent must exist and the key or
// index is removed, shifting sequence tails left.
func (d *Document) Delete(path Path) error {
	if len(path) == 0 {
		d.Root = NewOrderedMap()
		return nil
	}

	parent, err := traverse(d.Root, path[:len(path)-1])
	if err != nil {
		return err
	}
	last := path[len(path)-1]

	switch p := parent.(type) {
	case *OrderedMap:
		if !p.Delete(last) {
			return lherr.New(lherr.NotFound, "key "+last+" not found")
		}
		return nil
	case []Value:
		idx, err := parseIndex(last, len(p))
		if err != nil {
			return err
		}
		return setSequenceParent(d, path[:len(path)-1], append(p[:idx], p[idx+1:]...))
	default:
		return lherr.New(lherr.NotFound, "parent of path is not a map or sequence")
	}
}

// setSequenceParent re-installs a mutated sequence at parentPath, needed
// because deleting from a []Value by re-slicing produces a new slice
// header that must be written back into its own parent.
func setSequenceParent(d *Document, parentPath Path, seq []Value) error {
	if len(parentPath) == 0 {
		d.Root = seq
		return nil
	}
	grandparent, err := traverse(d.Root, parentPath[:len(parentPath)-1])
	if err != nil {
		return err
	}
	last := parentPath[len(parentPath)-1]
	switch gp := grandparent.(type) {
	case *OrderedMap:
		gp.Set(last, seq)
		return nil
	case []Value:
		idx, err := parseIndex(last, len(gp))
		if err != nil {
			return err
		}
		gp[idx] = seq
		return nil
	default:
		return lherr.New(lherr.NotFound, "parent of path is not a map or sequence")
	}
}

// Checksum returns the hex MD5 of the document's canonical serialisation.
func (d *Document) Checksum() (string, error) {
	b, err := d.Serialize()
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// Serialize returns the canonical byte representation: map keys sorted
// ascending, two-space indent, total and injective on value identity.
func (d *Document) Serialize() ([]byte, error) {
	return canonicalMarshal(d.Root)
}

// MarshalValue renders v using the document's canonical form; used by the
// HTTP facade and snapshot writer so wire and checksum bytes agree.
func MarshalValue(v Value) ([]byte, error) {
	return canonicalMarshal(v)
}

// ParseValue decodes JSON bytes into a Value tree, preserving number
// formatting via json.Number and object key order via OrderedMap (the
// canonical serialiser re-sorts keys regardless, but the in-memory tree
// keeps source order like the spec's "ordered map" data model).
func ParseValue(b []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, lherr.Wrap(lherr.BadRequest, err)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			om := NewOrderedMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, lherr.New(lherr.BadRequest, "object key is not a string")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				om.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return om, nil
		case '[':
			seq := []Value{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				seq = append(seq, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return seq, nil
		default:
			return nil, lherr.New(lherr.BadRequest, "unexpected JSON delimiter")
		}
	case nil, bool, json.Number, string:
		return Value(t), nil
	default:
		return nil, lherr.New(lherr.BadRequest, "unexpected JSON token")
	}
}
