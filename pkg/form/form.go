// Package form projects a document into editable text fields and rebuilds a
// document from submitted field values.
package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/pathcodec"
)

const (
	scalarRows   = 4
	sequencePad  = 2
	maxFieldRows = 10
)

// FieldModel is one editable field: a path entry plus presentation hints.
type FieldModel struct {
	Name  string   `json:"name"`
	Label string   `json:"label"`
	Group []string `json:"group"`
	Depth int      `json:"depth"`
	Rows  int      `json:"rows"`
	Value string   `json:"value"`
}

// Project flattens doc into fields, preserving traversal order so that fields
// sharing a parent are contiguous.
func Project(doc *document.Document) []FieldModel {
	entries := pathcodec.Flatten(doc)
	fields := make([]FieldModel, 0, len(entries))

	for _, entry := range entries {
		last := len(entry.Path) - 1

		fields = append(fields, FieldModel{
			Name:  entry.Key(),
			Label: entry.Path[last],
			Group: entry.Path[:last],
			Depth: last,
			Rows:  rowsFor(doc, entry.Path),
			Value: entry.Value,
		})
	}

	return fields
}

func rowsFor(doc *document.Document, path []string) int {
	node, ok := lookup(doc, path)
	if !ok || node.Kind() != document.KindSequence {
		return scalarRows
	}

	return min(node.Len()+sequencePad, maxFieldRows)
}

func lookup(doc *document.Document, path []string) (document.Node, bool) {
	current := doc

	for i, segment := range path {
		node, ok := current.Get(segment)
		if !ok {
			return document.Node{}, false
		}

		if i == len(path)-1 {
			return node, true
		}

		current = node.Document()
	}

	return document.Node{}, false
}

// Values returns the name/text mapping a form would submit for fields.
func Values(fields []FieldModel) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Name] = f.Value
	}

	return values
}

// Pair is one submitted field in arrival order.
type Pair struct {
	Name string
	Text string
}

// Reconstruct rebuilds a document from a path to text mapping. Keys are
// decoded in sorted order so the first reported error is stable; the result
// does not depend on arrival order. No document is returned on error.
func Reconstruct(values map[string]string) (*document.Document, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	pairs := make([]Pair, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, Pair{Name: name, Text: values[name]})
	}

	return ReconstructPairs(pairs)
}

// ReconstructPairs rebuilds a document from pairs, keeping the order in
// which keys first appear.
func ReconstructPairs(pairs []Pair) (*document.Document, error) {
	entries := make([]pathcodec.Entry, 0, len(pairs))
	for _, p := range pairs {
		entries = append(entries, pathcodec.NewEntry(strings.TrimSpace(p.Name), p.Text))
	}

	return pathcodec.Unflatten(entries)
}

// ReconstructForm rebuilds a document from a form submission, taking the
// first value of each field.
func ReconstructForm(form url.Values) (*document.Document, error) {
	values := make(map[string]string, len(form))

	for name, texts := range form {
		if len(texts) == 0 {
			continue
		}

		values[name] = texts[0]
	}

	return Reconstruct(values)
}

// ErrNestedField is returned when a submitted field value is a JSON object.
var ErrNestedField = errors.New("field value must be text or a JSON literal")

// PairsFromDocument reads a submission encoded as a JSON object of field
// name to text, keeping key order. String values are the field text itself;
// any other literal stands for its own JSON text.
func PairsFromDocument(fields *document.Document) ([]Pair, error) {
	pairs := make([]Pair, 0, fields.Len())

	for name, node := range fields.All() {
		switch {
		case node.Kind() == document.KindNested:
			return nil, fmt.Errorf("%w: %s", ErrNestedField, name)
		case node.Kind() == document.KindScalar && len(node.Raw()) > 0 && node.Raw()[0] == '"':
			var text string
			if err := json.Unmarshal(node.Raw(), &text); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}

			pairs = append(pairs, Pair{Name: name, Text: text})
		default:
			pairs = append(pairs, Pair{Name: name, Text: string(node.Raw())})
		}
	}

	return pairs, nil
}
