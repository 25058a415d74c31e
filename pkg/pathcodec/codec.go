// Package pathcodec converts between a nested document and a flat list of
// dot-delimited path entries whose values are JSON literal text.
package pathcodec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/amhsctl/pkg/document"
)

// Separator joins path segments. Document keys must not contain it.
const Separator = "."

// Entry is one leaf of a flattened document.
type Entry struct {
	Path  []string
	Value string
}

// Key returns the path joined with Separator.
func (e Entry) Key() string {
	return strings.Join(e.Path, Separator)
}

// NewEntry builds an entry from a joined key.
func NewEntry(key, value string) Entry {
	return Entry{Path: SplitKey(key), Value: value}
}

// SplitKey splits a joined key into its segments.
func SplitKey(key string) []string {
	return strings.Split(key, Separator)
}

// Flatten walks doc depth-first in key order and emits one entry per leaf.
// Nested documents produce no entry of their own, except an empty nested
// document below the root which is emitted as "{}" so it survives Unflatten.
func Flatten(doc *document.Document) []Entry {
	entries := make([]Entry, 0, doc.Len())

	return flatten(doc, nil, entries)
}

func flatten(doc *document.Document, prefix []string, entries []Entry) []Entry {
	for key, node := range doc.All() {
		path := make([]string, len(prefix)+1)
		copy(path, prefix)
		path[len(prefix)] = key

		if node.Kind() == document.KindNested && node.Document().Len() > 0 {
			entries = flatten(node.Document(), path, entries)

			continue
		}

		entries = append(entries, Entry{Path: path, Value: leafText(node)})
	}

	return entries
}

func leafText(node document.Node) string {
	text, err := node.Indented()
	if err != nil {
		// Nodes only hold text that already passed json.Valid.
		return string(node.Raw())
	}

	return text
}

// Unflatten rebuilds a document from entries. The result does not depend on
// entry order beyond the order keys first appear in. Any leaf that fails to
// parse aborts the whole operation with a *MalformedLeafError.
func Unflatten(entries []Entry) (*document.Document, error) {
	err := checkPaths(entries)
	if err != nil {
		return nil, err
	}

	root := document.New()

	for _, entry := range entries {
		node, err := document.ParseNode([]byte(entry.Value))
		if err != nil {
			return nil, &MalformedLeafError{Path: entry.Key(), RawText: entry.Value, Err: err}
		}

		current := root
		last := len(entry.Path) - 1

		for _, segment := range entry.Path[:last] {
			child, ok := current.Get(segment)
			if !ok {
				child = document.Nested(document.New())
				current.Set(segment, child)
			}

			current = child.Document()
		}

		current.Set(entry.Path[last], node)
	}

	return root, nil
}

// checkPaths rejects paths without segments, duplicates and leaf/prefix
// overlaps. Empty segments are valid keys.
func checkPaths(entries []Entry) error {
	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		if len(entry.Path) == 0 {
			return ErrEmptyPath
		}

		keys = append(keys, entry.Key())
	}

	sort.Strings(keys)

	for i := 1; i < len(keys); i++ {
		prev, cur := keys[i-1], keys[i]
		if prev == cur {
			return fmt.Errorf("%w: %q appears more than once", ErrPathConflict, cur)
		}
	}

	leaves := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		leaves[key] = struct{}{}
	}

	for _, entry := range entries {
		for i := 1; i < len(entry.Path); i++ {
			prefix := strings.Join(entry.Path[:i], Separator)
			if _, ok := leaves[prefix]; ok {
				return fmt.Errorf("%w: %q is a value and a parent of %q", ErrPathConflict, prefix, entry.Key())
			}
		}
	}

	return nil
}
