package replay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-chat/aegis/pkg/replay"
)

func TestNewMessageAccepted(t *testing.T) {
	g := replay.New()
	require.NoError(t, g.Check(1, time.Now()))
	assert.EqualValues(t, 1, g.LastSequence())
}

func TestDuplicateRejected(t *testing.T) {
	g := replay.New()
	now := time.Now()
	require.NoError(t, g.Check(1, now))
	err := g.Check(1, now)
	assert.ErrorIs(t, err, replay.ErrDuplicate)
}

func TestOutOfOrderWithinWindowAccepted(t *testing.T) {
	g := replay.New()
	now := time.Now()
	require.NoError(t, g.Check(3, now))
	require.NoError(t, g.Check(1, now))
	require.NoError(t, g.Check(2, now))
}

func TestOldTimestampRejected(t *testing.T) {
	g := replay.New()
	old := time.Now().Add(-replay.MaxSkew - 100*time.Second)
	err := g.Check(1, old)
	assert.ErrorIs(t, err, replay.ErrClockSkew)
}

func TestFutureTimestampRejected(t *testing.T) {
	g := replay.New()
	future := time.Now().Add(replay.MaxSkew + 100*time.Second)
	err := g.Check(1, future)
	assert.ErrorIs(t, err, replay.ErrClockSkew)
}

func TestSequenceOrderingTracksHighWaterMark(t *testing.T) {
	g := replay.New()
	now := time.Now()

	require.NoError(t, g.Check(5, now))
	assert.EqualValues(t, 5, g.LastSequence())

	require.NoError(t, g.Check(10, now))
	assert.EqualValues(t, 10, g.LastSequence())

	require.NoError(t, g.Check(7, now))
	assert.EqualValues(t, 10, g.LastSequence())
}

func TestTooOldSequenceRejected(t *testing.T) {
	g := replay.New()
	now := time.Now()
	require.NoError(t, g.Check(replay.Window+500, now))
	err := g.Check(1, now)
	assert.ErrorIs(t, err, replay.ErrTooOld)
}

func TestReset(t *testing.T) {
	g := replay.New()
	now := time.Now()
	require.NoError(t, g.Check(1, now))
	require.NoError(t, g.Check(2, now))

	g.Reset()
	assert.EqualValues(t, 0, g.LastSequence())
	assert.NoError(t, g.Check(1, now))
}

func TestBoundaryTimestampsAccepted(t *testing.T) {
	g := replay.New()
	now := time.Now()
	assert.NoError(t, g.Check(1, now.Add(-replay.MaxSkew)))
	g.Reset()
	assert.NoError(t, g.Check(1, now.Add(replay.MaxSkew)))
}
