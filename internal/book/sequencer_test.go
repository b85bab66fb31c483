package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

func TestBinanceSpotSequencerHappyPath(t *testing.T) {
	s := NewSequencer(BinanceSpotRule{})

	accept, err := s.Apply(Delta{IsSnapshot: true, LastUpdateID: 100})
	require.NoError(t, err)
	assert.True(t, accept)
	assert.Equal(t, Synced, s.Status())

	accept, err = s.Apply(Delta{FirstUpdateID: 101, LastUpdateID: 103})
	require.NoError(t, err)
	assert.True(t, accept)

	accept, err = s.Apply(Delta{FirstUpdateID: 104, LastUpdateID: 106})
	require.NoError(t, err)
	assert.True(t, accept)
}

func TestBinanceSpotSequencerDesyncScenario(t *testing.T) {
	// Matches spec.md §8 end-to-end scenario 2 literally.
	s := NewSequencer(BinanceSpotRule{})

	_, err := s.Apply(Delta{IsSnapshot: true, LastUpdateID: 100})
	require.NoError(t, err)

	accept, err := s.Apply(Delta{FirstUpdateID: 101, LastUpdateID: 103})
	require.NoError(t, err)
	require.True(t, accept)

	accept, err = s.Apply(Delta{FirstUpdateID: 105, LastUpdateID: 106})
	require.False(t, accept)
	require.Error(t, err)

	var dataErr *domain.DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, domain.DataErrorInvalidSequence, dataErr.Kind)
	assert.Equal(t, uint64(104), dataErr.PrevLastUpdateId)
	assert.Equal(t, uint64(105), dataErr.FirstUpdateId)
	assert.Equal(t, Desynced, s.Status())
}

func TestSequencerDropsUpdateBeforeSnapshot(t *testing.T) {
	s := NewSequencer(BinanceSpotRule{})
	accept, err := s.Apply(Delta{FirstUpdateID: 1, LastUpdateID: 1})
	require.NoError(t, err)
	assert.False(t, accept)
	assert.Equal(t, AwaitingSnapshot, s.Status())
}

func TestSequencerResyncsAfterReconnectSnapshot(t *testing.T) {
	s := NewSequencer(BinanceSpotRule{})
	_, _ = s.Apply(Delta{IsSnapshot: true, LastUpdateID: 10})
	_, err := s.Apply(Delta{FirstUpdateID: 99, LastUpdateID: 100}) // garbage -> desync
	require.Error(t, err)
	require.Equal(t, Desynced, s.Status())

	accept, err := s.Apply(Delta{IsSnapshot: true, LastUpdateID: 500})
	require.NoError(t, err)
	assert.True(t, accept)
	assert.Equal(t, Synced, s.Status())
}

func TestBybitSequencerContiguity(t *testing.T) {
	s := NewSequencer(BybitRule{})
	_, err := s.Apply(Delta{IsSnapshot: true, LastUpdateID: 1})
	require.NoError(t, err)

	accept, err := s.Apply(Delta{LastUpdateID: 2})
	require.NoError(t, err)
	assert.True(t, accept)

	accept, err = s.Apply(Delta{LastUpdateID: 4})
	assert.False(t, accept)
	assert.Error(t, err)
}
