package cmd_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/amhsctl/pkg/channels/kafka"
	"github.com/dukex/amhsctl/pkg/cmd"
	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/eventbus"
	"github.com/dukex/amhsctl/pkg/lock"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBus(t *testing.T) {
	logger := log.NewNop()

	bus, err := cmd.NewEventBus("none", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, eventbus.Nop{}, bus)

	bus, err = cmd.NewEventBus("gochannel", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &eventbus.WatermillEventBus{}, bus)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", nil, logger)
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = cmd.NewEventBus("nats", nil, logger)
	require.ErrorIs(t, err, cmd.ErrUnsupportedProvider)
}

func TestNewLocker(t *testing.T) {
	locker, closeFn, err := cmd.NewLocker("", 0)
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, locker)
	require.NoError(t, closeFn())

	_, _, err = cmd.NewLocker("postgres://nope", 0)
	require.Error(t, err)

	server := miniredis.RunT(t)

	locker, closeFn, err = cmd.NewLocker("redis://"+server.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	unlock, err := locker.TryLock(context.Background(), "pipeline")
	require.NoError(t, err)
	assert.True(t, server.Exists("amhsctl:lock:pipeline"))
	require.NoError(t, unlock(context.Background()))
	assert.False(t, server.Exists("amhsctl:lock:pipeline"))
}

type seedLoader struct {
	doc *document.Document
	err error
}

func (s seedLoader) Load(context.Context) (*document.Document, error) {
	return s.doc, s.err
}

func TestNewRegistry(t *testing.T) {
	doc, err := document.Parse([]byte(`{"layers": ["z6022"], "grid": {"x": 10, "y": 20}}`))
	require.NoError(t, err)

	reg, err := cmd.NewRegistry(log.NewNop(), seedLoader{doc: doc})
	require.NoError(t, err)

	step, err := reg.Step(cmd.LoadSeedStep)
	require.NoError(t, err)

	message, err := step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Loaded 3 fields", message)

	body, err := reg.Body(cmd.DefaultTracksBody)
	require.NoError(t, err)

	tracks, err := body(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.TrackRequests(pipeline.DefaultOHTPairs()), tracks)

	def, err := pipeline.DefaultDefinition()
	require.NoError(t, err)

	plan, err := def.Compile(reg)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 6)
}

func TestNewRegistry_LoadSeedFailure(t *testing.T) {
	failure := errors.New("layout_seed.input not found in DB")

	reg, err := cmd.NewRegistry(log.NewNop(), seedLoader{err: failure})
	require.NoError(t, err)

	step, err := reg.Step(cmd.LoadSeedStep)
	require.NoError(t, err)

	_, err = step(context.Background())
	assert.ErrorIs(t, err, failure)
}
