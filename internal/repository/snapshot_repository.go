package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// Snapshot is the serialized form of all kiosk-local dynamic data.
// Device identity and deployment configuration are deliberately absent:
// they are reloaded fresh from the configuration source at every boot.
type Snapshot struct {
	Students []models.StudentCacheEntry `json:"students"`
	Teachers []models.TeacherCacheEntry `json:"teachers"`
	Tags     []models.Tag               `json:"tags"`
	Queue    []models.QueueEvent        `json:"queue"`
	LocalSeq int64                      `json:"localSeq"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Students: []models.StudentCacheEntry{},
		Teachers: []models.TeacherCacheEntry{},
		Tags:     []models.Tag{},
		Queue:    []models.QueueEvent{},
	}
}

// SnapshotRepository is the scoped synchronous store shared by the
// queue, resolver, merge engine and withdrawal flow. All mutations are
// serialised through Update, which persists before returning so a
// queued event is durable before any network attempt touches it.
type SnapshotRepository struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	snap *Snapshot
}

// NewSnapshotRepository loads the snapshot from disk. Unreadable or
// corrupted content resets the cache instead of failing the boot; the
// broken file is kept next to the snapshot for later inspection.
func NewSnapshotRepository(path string, logger *zap.Logger) (*SnapshotRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "./data/kiosk-snapshot.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	repo := &SnapshotRepository{path: path, logger: logger}
	repo.snap = repo.load()
	return repo, nil
}

func (r *SnapshotRepository) load() *Snapshot {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("snapshot unreadable, starting empty", zap.Error(err))
		}
		return emptySnapshot()
	}

	snap := emptySnapshot()
	if err := json.Unmarshal(raw, snap); err != nil {
		corrupt := r.path + ".corrupt"
		if renameErr := os.Rename(r.path, corrupt); renameErr != nil {
			r.logger.Warn("could not preserve corrupt snapshot", zap.Error(renameErr))
		}
		r.logger.Warn("snapshot corrupted, cache reset", zap.String("kept", corrupt), zap.Error(err))
		return emptySnapshot()
	}

	if snap.Students == nil {
		snap.Students = []models.StudentCacheEntry{}
	}
	if snap.Teachers == nil {
		snap.Teachers = []models.TeacherCacheEntry{}
	}
	if snap.Tags == nil {
		snap.Tags = []models.Tag{}
	}
	if snap.Queue == nil {
		snap.Queue = []models.QueueEvent{}
	}
	return snap
}

// View runs fn with read access to the snapshot. fn must not retain
// references past the call.
func (r *SnapshotRepository) View(fn func(*Snapshot)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.snap)
}

// Update runs fn with write access and persists synchronously. When the
// write fails the in-memory state is kept so no already-recorded data is
// dropped; the typed error tells callers whether storage is full.
func (r *SnapshotRepository) Update(fn func(*Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fn(r.snap); err != nil {
		return err
	}
	return r.persistLocked()
}

func (r *SnapshotRepository) persistLocked() error {
	raw, err := json.Marshal(r.snap)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreIO.Code, appErrors.ErrStoreIO.Status, appErrors.ErrStoreIO.Message)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return storageError(err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return storageError(err)
	}
	return nil
}

func storageError(err error) *appErrors.Error {
	if errors.Is(err, syscall.ENOSPC) {
		return appErrors.Wrap(err, appErrors.ErrStoreFull.Code, appErrors.ErrStoreFull.Status, appErrors.ErrStoreFull.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrStoreIO.Code, appErrors.ErrStoreIO.Status, appErrors.ErrStoreIO.Message)
}

// Path exposes the snapshot location (useful for debugging).
func (r *SnapshotRepository) Path() string {
	return r.path
}
