package adapters

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Merge(t *testing.T) {
	snapshot := NewSnapshot(SnapshotParams{DeviceID: "D1", Log: zerolog.Nop()})
	assert.Empty(t, snapshot.State())
	assert.True(t, snapshot.UpdatedAt().IsZero())

	snapshot.Merge(map[string]any{"power": "on", "temp": 21.5})
	snapshot.Merge(map[string]any{"temp": 22.0})

	assert.Equal(t, map[string]any{"power": "on", "temp": 22.0}, snapshot.State())
	assert.False(t, snapshot.UpdatedAt().IsZero())
}

func TestSnapshot_StateIsCopy(t *testing.T) {
	snapshot := NewSnapshot(SnapshotParams{DeviceID: "D1", Log: zerolog.Nop()})
	snapshot.Merge(map[string]any{"power": "on"})

	state := snapshot.State()
	state["power"] = "off"

	assert.Equal(t, "on", snapshot.State()["power"])
}

func TestSnapshot_Store(t *testing.T) {
	mStore := &MockSnapshotStore{}
	snapshot := NewSnapshot(SnapshotParams{DeviceID: "D1", Store: mStore, Log: zerolog.Nop()})

	mStore.On("Save", mock.Anything, "D1", map[string]any{"power": "on"}).Return(nil).Once()
	mStore.On("Save", mock.Anything, "D1", map[string]any{"power": "on", "temp": 20.0}).Return(nil).Once()

	snapshot.Merge(map[string]any{"power": "on"})
	snapshot.Merge(map[string]any{"temp": 20.0})

	mStore.AssertExpectations(t)
}

func TestSnapshot_StoreError(t *testing.T) {
	mStore := &MockSnapshotStore{}
	snapshot := NewSnapshot(SnapshotParams{DeviceID: "D1", Store: mStore, Log: zerolog.Nop()})

	mStore.On("Save", mock.Anything, "D1", mock.Anything).Return(fmt.Errorf("unavailable")).Once()

	// the in-memory state is kept regardless
	snapshot.Merge(map[string]any{"power": "on"})
	require.Equal(t, map[string]any{"power": "on"}, snapshot.State())

	mStore.AssertExpectations(t)
}

func TestSnapshot_Concurrent(t *testing.T) {
	snapshot := NewSnapshot(SnapshotParams{DeviceID: "D1", Log: zerolog.Nop()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot.Merge(map[string]any{fmt.Sprintf("f%d", i): i})
			_ = snapshot.State()
		}(i)
	}
	wg.Wait()

	assert.Len(t, snapshot.State(), 50)
}
