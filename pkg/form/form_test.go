package form_test

import (
	"net/url"
	"testing"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/form"
	"github.com/dukex/amhsctl/pkg/pathcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, input string) *document.Document {
	t.Helper()

	doc, err := document.Parse([]byte(input))
	require.NoError(t, err)

	return doc
}

func TestProject_RowsAndGroups(t *testing.T) {
	doc := parse(t, `{
		"layout": {
			"short": [1, 2, 3],
			"long": [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12],
			"empty": []
		},
		"title": "seed",
		"count": 7
	}`)

	fields := form.Project(doc)
	require.Len(t, fields, 5)

	tests := []struct {
		name  string
		label string
		group []string
		depth int
		rows  int
	}{
		{name: "layout.short", label: "short", group: []string{"layout"}, depth: 1, rows: 5},
		{name: "layout.long", label: "long", group: []string{"layout"}, depth: 1, rows: 10},
		{name: "layout.empty", label: "empty", group: []string{"layout"}, depth: 1, rows: 2},
		{name: "title", label: "title", group: []string{}, depth: 0, rows: 4},
		{name: "count", label: "count", group: []string{}, depth: 0, rows: 4},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fields[i]
			assert.Equal(t, tt.name, f.Name)
			assert.Equal(t, tt.label, f.Label)
			assert.Equal(t, tt.group, f.Group)
			assert.Equal(t, tt.depth, f.Depth)
			assert.Equal(t, tt.rows, f.Rows)
		})
	}
}

func TestProject_ReconstructRoundTrip(t *testing.T) {
	doc := parse(t, `{"a": {"b": {"c": [1, {"d": "x"}]}, "e": 2.5}, "f": null, "g": {}}`)

	rebuilt, err := form.Reconstruct(form.Values(form.Project(doc)))
	require.NoError(t, err)
	assert.True(t, doc.Equal(rebuilt))
}

func TestReconstructPairs_ReversedOrder(t *testing.T) {
	doc := parse(t, `{"a": {"x": 1, "y": [true]}, "b": "text"}`)
	fields := form.Project(doc)

	pairs := make([]form.Pair, 0, len(fields))
	for i := len(fields) - 1; i >= 0; i-- {
		pairs = append(pairs, form.Pair{Name: fields[i].Name, Text: fields[i].Value})
	}

	rebuilt, err := form.ReconstructPairs(pairs)
	require.NoError(t, err)
	assert.True(t, doc.Equal(rebuilt))
	assert.Equal(t, []string{"b", "a"}, rebuilt.Keys())
}

func TestReconstruct_MalformedLeaf(t *testing.T) {
	doc, err := form.Reconstruct(map[string]string{
		"a.b": "not json",
		"a.c": "1",
	})

	require.Error(t, err)
	assert.Nil(t, doc)

	var malformed *pathcodec.MalformedLeafError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "a.b", malformed.Path)
	assert.Equal(t, "not json", malformed.RawText)
}

func TestReconstructForm(t *testing.T) {
	submitted := url.Values{}
	submitted.Set("layers.z6022.rows", "4")
	submitted.Add("layers.z6022.bays", "[[0, 1]]")
	submitted.Add("layers.z6022.bays", "ignored")
	submitted.Set("name", `"sample"`)

	doc, err := form.ReconstructForm(submitted)
	require.NoError(t, err)

	expected := parse(t, `{"layers": {"z6022": {"rows": 4, "bays": [[0, 1]]}}, "name": "sample"}`)
	assert.True(t, expected.Equal(doc))
}

func TestPairsFromDocument(t *testing.T) {
	fields := parse(t, `{
		"grid.y": "20",
		"grid.x": 10,
		"layers": ["z6022"],
		"title": "\"seed\""
	}`)

	pairs, err := form.PairsFromDocument(fields)
	require.NoError(t, err)

	assert.Equal(t, []form.Pair{
		{Name: "grid.y", Text: "20"},
		{Name: "grid.x", Text: "10"},
		{Name: "layers", Text: `["z6022"]`},
		{Name: "title", Text: `"seed"`},
	}, pairs)

	doc, err := form.ReconstructPairs(pairs)
	require.NoError(t, err)
	assert.Equal(t, []string{"grid", "layers", "title"}, doc.Keys())
}

func TestPairsFromDocument_NestedValue(t *testing.T) {
	_, err := form.PairsFromDocument(parse(t, `{"grid": {"x": 1}}`))
	assert.ErrorIs(t, err, form.ErrNestedField)
}
