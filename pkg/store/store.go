// Package store reads and writes the layout seed input held by the layout
// server's JSON store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/remote"
)

const (
	LoadEndpoint   = "/api/get-input-data"
	SaveEndpoint   = "/api/update-input-json"
	SampleEndpoint = "/api/get-sample-data/"
	StatusEndpoint = "/api/db-status"
	ClearEndpoint  = "/api/clear-user-data"

	LoadTimeout  = 10 * time.Second
	SaveTimeout  = 15 * time.Second
	AdminTimeout = 10 * time.Second

	MinSample = 1
	MaxSample = 3
)

// Caller performs one remote call.
type Caller interface {
	Call(ctx context.Context, req remote.Request) (*remote.Envelope, error)
}

// Status describes what the store currently holds for the user.
type Status struct {
	UserID       string `json:"userId"`
	TableExists  bool   `json:"tableExists"`
	TableName    string `json:"tableName,omitempty"`
	HasInput     bool   `json:"hasInput"`
	HasOutput    bool   `json:"hasOutput"`
	HasOHTLog    bool   `json:"hasOhtLog"`
	AddressCount int    `json:"addressCount,omitempty"`
	LineCount    int    `json:"lineCount,omitempty"`
	StationCount int    `json:"stationCount,omitempty"`
	ParseError   string `json:"parseError,omitempty"`
}

type Store struct {
	caller Caller
	schema *Schema
	logger *slog.Logger
}

type Option func(*Store)

// WithSchema validates documents before every save.
func WithSchema(schema *Schema) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(caller Caller, opts ...Option) *Store {
	s := &Store{caller: caller, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "store")

	return s
}

// Load fetches the current layout seed input.
func (s *Store) Load(ctx context.Context) (*document.Document, error) {
	return s.fetch(ctx, LoadEndpoint)
}

// LoadSample fetches one of the bundled sample inputs. It does not save it.
func (s *Store) LoadSample(ctx context.Context, number int) (*document.Document, error) {
	if number < MinSample || number > MaxSample {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSample, number)
	}

	return s.fetch(ctx, SampleEndpoint+strconv.Itoa(number))
}

func (s *Store) fetch(ctx context.Context, endpoint string) (*document.Document, error) {
	envelope, err := s.caller.Call(ctx, remote.Request{
		Endpoint: endpoint,
		Method:   http.MethodGet,
		Timeout:  LoadTimeout,
	})
	if err != nil {
		return nil, err
	}

	if err := envelope.Failure(endpoint); err != nil {
		return nil, err
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNoData)
	}

	doc, err := document.Parse(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s data: %w", endpoint, err)
	}

	s.loggerFor(ctx).DebugContext(ctx, "Loaded layout seed input", "endpoint", endpoint, "keys", doc.Len())

	return doc, nil
}

// loggerFor prefers the logger of the pipeline run that issued the call.
func (s *Store) loggerFor(ctx context.Context) *slog.Logger {
	return log.FromContext(ctx, s.logger)
}

// Save replaces the stored input with doc. The server also resets the
// generated output.
func (s *Store) Save(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		doc = document.New()
	}

	if s.schema != nil {
		if err := s.schema.Validate(doc); err != nil {
			s.loggerFor(ctx).WarnContext(ctx, "Rejected document before save", "error", err)

			return err
		}
	}

	envelope, err := s.caller.Call(ctx, remote.Request{
		Endpoint: SaveEndpoint,
		Method:   http.MethodPost,
		Body:     doc,
		Timeout:  SaveTimeout,
	})
	if err != nil {
		return err
	}

	if err := envelope.Failure(SaveEndpoint); err != nil {
		return err
	}

	s.loggerFor(ctx).InfoContext(ctx, "Saved layout seed input", "fields", doc.Len())

	return nil
}

func (s *Store) Status(ctx context.Context) (*Status, error) {
	envelope, err := s.caller.Call(ctx, remote.Request{
		Endpoint: StatusEndpoint,
		Method:   http.MethodGet,
		Timeout:  AdminTimeout,
	})
	if err != nil {
		return nil, err
	}

	if err := envelope.Failure(StatusEndpoint); err != nil {
		return nil, err
	}

	var status Status
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &status); err != nil {
			return nil, fmt.Errorf("failed to decode store status: %w", err)
		}
	}

	return &status, nil
}

// Clear drops everything stored for the user and returns the server message.
func (s *Store) Clear(ctx context.Context) (string, error) {
	envelope, err := s.caller.Call(ctx, remote.Request{
		Endpoint: ClearEndpoint,
		Method:   http.MethodPost,
		Timeout:  AdminTimeout,
	})
	if err != nil {
		return "", err
	}

	if err := envelope.Failure(ClearEndpoint); err != nil {
		return "", err
	}

	s.loggerFor(ctx).InfoContext(ctx, "Cleared user data", "message", envelope.Message)

	return envelope.Message, nil
}
