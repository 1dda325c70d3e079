package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
)

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	repo, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)

	err = repo.Update(func(snap *Snapshot) error {
		snap.LocalSeq = 3
		snap.Queue = append(snap.Queue, models.QueueEvent{
			ID:        "kiosk-1-3",
			LocalSeq:  3,
			StudentID: "7",
			Type:      models.EventTypeIn,
			Ts:        time.Date(2026, 3, 9, 8, 45, 0, 0, time.UTC),
			Status:    models.EventStatusPending,
		})
		return nil
	})
	require.NoError(t, err)

	reloaded, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)

	reloaded.View(func(snap *Snapshot) {
		require.EqualValues(t, 3, snap.LocalSeq)
		require.Len(t, snap.Queue, 1)
		require.Equal(t, "kiosk-1-3", snap.Queue[0].ID)
		require.Equal(t, models.EventStatusPending, snap.Queue[0].Status)
	})
}

func TestSnapshotRepositoryCorruptedFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	repo, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)

	repo.View(func(snap *Snapshot) {
		require.Empty(t, snap.Queue)
		require.Empty(t, snap.Students)
		require.EqualValues(t, 0, snap.LocalSeq)
	})

	// The broken file is preserved for inspection.
	_, statErr := os.Stat(path + ".corrupt")
	require.NoError(t, statErr)

	// The reset store is usable.
	require.NoError(t, repo.Update(func(snap *Snapshot) error {
		snap.LocalSeq = 1
		return nil
	}))
}

func TestSnapshotRepositoryMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "snapshot.json")

	repo, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)

	repo.View(func(snap *Snapshot) {
		require.NotNil(t, snap.Students)
		require.NotNil(t, snap.Tags)
		require.Empty(t, snap.Queue)
	})
}

func TestSnapshotRepositoryUpdateErrorDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	repo, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Update(func(snap *Snapshot) error {
		snap.LocalSeq = 5
		return nil
	}))

	sentinel := os.ErrInvalid
	err = repo.Update(func(snap *Snapshot) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	reloaded, err := NewSnapshotRepository(path, nil)
	require.NoError(t, err)
	reloaded.View(func(snap *Snapshot) {
		require.EqualValues(t, 5, snap.LocalSeq)
	})
}
