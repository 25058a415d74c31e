package store_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/remote"
	"github.com/dukex/amhsctl/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, handler http.HandlerFunc, opts ...store.Option) *store.Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append(opts, store.WithLogger(log.NewNop()))

	return store.New(remote.NewClient(server.URL), opts...)
}

func TestStore_Load(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, store.LoadEndpoint, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		_, _ = w.Write([]byte(`{"success": true, "data": {"z": 1, "a": {"b": [1, 2]}}}`))
	})

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, doc.Keys())
}

func TestStore_Load_NotFound(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "message": "layout_seed.input not found in DB"}`))
	})

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsBusinessError(err))
	assert.Contains(t, err.Error(), "layout_seed.input not found in DB")
}

func TestStore_Load_NoData(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true}`))
	})

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, store.ErrNoData)
}

func TestStore_LoadSample(t *testing.T) {
	var hits atomic.Int32

	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/get-sample-data/2", r.URL.Path)

		_, _ = w.Write([]byte(`{"success": true, "data": {"layers": ["z6022"]}}`))
	})

	doc, err := s.LoadSample(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"layers"}, doc.Keys())

	for _, number := range []int{0, 4, -1} {
		_, err := s.LoadSample(context.Background(), number)
		require.ErrorIs(t, err, store.ErrInvalidSample)
	}

	assert.Equal(t, int32(1), hits.Load())
}

func TestStore_Save_PreservesKeyOrder(t *testing.T) {
	var body string

	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, store.SaveEndpoint, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		data, _ := io.ReadAll(r.Body)
		body = string(data)

		_, _ = w.Write([]byte(`{"success": true}`))
	})

	doc, err := document.Parse([]byte(`{"z": 1, "a": true}`))
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), doc))
	assert.JSONEq(t, `{"z": 1, "a": true}`, body)
	assert.Less(t, strings.Index(body, `"z"`), strings.Index(body, `"a"`))
}

func TestStore_Save_SchemaRejection(t *testing.T) {
	var hits atomic.Int32

	schema, err := store.NewSchema([]byte(`{
		"type": "object",
		"required": ["layers"],
		"properties": {"layers": {"type": "array"}}
	}`))
	require.NoError(t, err)

	s := newStore(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"success": true}`))
	}, store.WithSchema(schema))

	bad, err := document.Parse([]byte(`{"layers": "z6022"}`))
	require.NoError(t, err)

	err = s.Save(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, store.IsSchemaError(err))

	var schemaErr *store.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.NotEmpty(t, schemaErr.Violations)
	assert.Zero(t, hits.Load())

	good, err := document.Parse([]byte(`{"layers": ["z6022"]}`))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), good))
	assert.Equal(t, int32(1), hits.Load())
}

func TestStore_Status(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, store.StatusEndpoint, r.URL.Path)

		_, _ = w.Write([]byte(`{"success": true, "data": {"userId": "demo", "tableExists": true, "hasInput": true, "lineCount": 42}}`))
	})

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", status.UserID)
	assert.True(t, status.TableExists)
	assert.True(t, status.HasInput)
	assert.False(t, status.HasOHTLog)
	assert.Equal(t, 42, status.LineCount)
}

func TestStore_Clear(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, store.ClearEndpoint, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		_, _ = w.Write([]byte(`{"success": true, "message": "cleared"}`))
	})

	message, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cleared", message)
}

func TestStore_RemoteError(t *testing.T) {
	s := newStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := s.Status(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsRemoteCallError(err))
}
