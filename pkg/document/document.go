// Package document provides an ordered JSON document model. Every node of a
// document is one of three kinds: a scalar, a sequence or a nested document.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrNotObject is returned when a document is parsed from JSON that is not an object.
	ErrNotObject = errors.New("document must be a JSON object")

	// ErrEmptyValue is returned when a node is parsed from blank input.
	ErrEmptyValue = errors.New("empty JSON value")
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindScalar Kind = iota
	KindSequence
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is a tagged union of Scalar, Sequence and Nested values.
// Scalars and sequences keep their compact JSON text; nested nodes keep an
// ordered Document.
type Node struct {
	kind   Kind
	raw    json.RawMessage
	length int
	doc    *Document
}

// Nested wraps a document as a node. A nil document is treated as empty.
func Nested(doc *Document) Node {
	if doc == nil {
		doc = New()
	}

	return Node{kind: KindNested, doc: doc}
}

// FromValue marshals a Go value and parses the result into a Node.
// Go maps marshal with sorted keys, so nested documents built this way are
// ordered alphabetically.
func FromValue(v any) (Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Node{}, fmt.Errorf("failed to marshal value: %w", err)
	}

	return ParseNode(data)
}

// MustValue is like FromValue but panics on error. Intended for fixtures.
func MustValue(v any) Node {
	n, err := FromValue(v)
	if err != nil {
		panic(err)
	}

	return n
}

// ParseNode parses JSON literal text into a Node. Objects become nested
// documents with their key order preserved.
func ParseNode(data []byte) (Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Node{}, ErrEmptyValue
	}

	if !json.Valid(trimmed) {
		// Decode once more to surface the syntax error with its offset.
		var discard any

		err := json.Unmarshal(trimmed, &discard)
		if err == nil {
			err = errors.New("invalid JSON")
		}

		return Node{}, err
	}

	switch trimmed[0] {
	case '{':
		doc, err := parseObject(trimmed)
		if err != nil {
			return Node{}, err
		}

		return Nested(doc), nil
	case '[':
		var elems []json.RawMessage

		err := json.Unmarshal(trimmed, &elems)
		if err != nil {
			return Node{}, err
		}

		raw, err := compact(trimmed)
		if err != nil {
			return Node{}, err
		}

		return Node{kind: KindSequence, raw: raw, length: len(elems)}, nil
	default:
		raw, err := compact(trimmed)
		if err != nil {
			return Node{}, err
		}

		return Node{kind: KindScalar, raw: raw}, nil
	}
}

// Kind reports which variant the node holds.
func (n Node) Kind() Kind { return n.kind }

// Raw returns the compact JSON text of a scalar or sequence node.
func (n Node) Raw() json.RawMessage { return n.raw }

// Len returns the number of elements of a sequence node, or zero.
func (n Node) Len() int { return n.length }

// Document returns the nested document of a nested node, or nil.
func (n Node) Document() *Document { return n.doc }

// Indented renders the node as two-space indented JSON.
func (n Node) Indented() (string, error) {
	data, err := n.MarshalJSON()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer

	err = json.Indent(&buf, data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to indent value: %w", err)
	}

	return buf.String(), nil
}

// Equal compares two nodes by content. Nested documents are compared without
// regard to key order; scalars and sequences are compared by compact JSON text.
func (n Node) Equal(other Node) bool {
	if n.kind != other.kind {
		return false
	}

	if n.kind == KindNested {
		return n.doc.Equal(other.doc)
	}

	return bytes.Equal(n.raw, other.raw)
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.kind == KindNested {
		return n.doc.MarshalJSON()
	}

	if len(n.raw) == 0 {
		return []byte("null"), nil
	}

	return n.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}

	*n = parsed

	return nil
}

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value Node
}

// Document is an ordered collection of fields. The zero value is not usable;
// use New or Parse.
type Document struct {
	fields []Field
	index  map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// Parse decodes a JSON object into a Document preserving key order.
func Parse(data []byte) (*Document, error) {
	node, err := ParseNode(data)
	if err != nil {
		return nil, err
	}

	if node.kind != KindNested {
		return nil, ErrNotObject
	}

	return node.doc, nil
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}

	return len(d.fields)
}

// Set stores a value under key. An existing key keeps its position.
func (d *Document) Set(key string, value Node) {
	if i, ok := d.index[key]; ok {
		d.fields[i].Value = value

		return
	}

	d.index[key] = len(d.fields)
	d.fields = append(d.fields, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (Node, bool) {
	if d == nil {
		return Node{}, false
	}

	i, ok := d.index[key]
	if !ok {
		return Node{}, false
	}

	return d.fields[i].Value, true
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.Len())
	for key := range d.All() {
		keys = append(keys, key)
	}

	return keys
}

// All iterates the fields in insertion order.
func (d *Document) All() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		if d == nil {
			return
		}

		for _, f := range d.fields {
			if !yield(f.Key, f.Value) {
				return
			}
		}
	}
}

// Equal reports whether both documents hold the same keys with equal values,
// ignoring key order.
func (d *Document) Equal(other *Document) bool {
	if d.Len() != other.Len() {
		return false
	}

	for key, value := range d.All() {
		otherValue, ok := other.Get(key)
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}

	return true
}

// MarshalJSON implements json.Marshaler, writing fields in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	first := true
	for key, value := range d.All() {
		if !first {
			buf.WriteByte(',')
		}

		first = false

		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		buf.Write(keyJSON)
		buf.WriteByte(':')

		valueJSON, err := value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %q: %w", key, err)
		}

		buf.Write(valueJSON)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*d = *parsed

	return nil
}

func parseObject(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	_, err := dec.Token() // opening brace
	if err != nil {
		return nil, err
	}

	doc := New()

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key token %v", tok)
		}

		var raw json.RawMessage

		err = dec.Decode(&raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", key, err)
		}

		value, err := ParseNode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse field %q: %w", key, err)
		}

		doc.Set(key, value)
	}

	_, err = dec.Token() // closing brace
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func compact(data []byte) (json.RawMessage, error) {
	var buf bytes.Buffer

	err := json.Compact(&buf, data)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(buf.Bytes()), nil
}
