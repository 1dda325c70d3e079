package service

import (
	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/repository"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// RosterService applies server roster snapshots onto the local cache
// without losing kiosk-only state. An empty server payload is rejected
// wholesale: it almost always means a transient backend fault, and
// wiping the cache would leave the kiosk unusable offline.
type RosterService struct {
	store  *repository.SnapshotRepository
	logger *zap.Logger
}

// NewRosterService constructs the merge engine.
func NewRosterService(store *repository.SnapshotRepository, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{store: store, logger: logger}
}

// MergeStudents reconciles the server's authoritative student set:
// server-owned fields are overwritten in place, kiosk-local fields kept,
// new ids inserted, ids absent from the server removed.
func (s *RosterService) MergeStudents(server []models.StudentCacheEntry) error {
	if len(server) == 0 {
		s.logger.Warn("empty student payload rejected, cache kept")
		return appErrors.Clone(appErrors.ErrEmptyRoster, "empty student payload rejected")
	}

	return s.store.Update(func(snap *repository.Snapshot) error {
		byID := make(map[string]models.StudentCacheEntry, len(server))
		for _, entry := range server {
			byID[entry.ID] = entry
		}

		merged := make([]models.StudentCacheEntry, 0, len(server))
		seen := make(map[string]bool, len(server))
		for _, local := range snap.Students {
			update, ok := byID[local.ID]
			if !ok {
				continue
			}
			local.FullName = update.FullName
			local.Course = update.Course
			local.PhotoURL = update.PhotoURL
			local.PhotoConsent = update.PhotoConsent
			local.AudioConsent = update.AudioConsent
			merged = append(merged, local)
			seen[local.ID] = true
		}
		for _, entry := range server {
			if !seen[entry.ID] {
				merged = append(merged, entry)
			}
		}

		snap.Students = merged
		return nil
	})
}

// MergeTeachers mirrors MergeStudents for staff entries.
func (s *RosterService) MergeTeachers(server []models.TeacherCacheEntry) error {
	if len(server) == 0 {
		s.logger.Warn("empty teacher payload rejected, cache kept")
		return appErrors.Clone(appErrors.ErrEmptyRoster, "empty teacher payload rejected")
	}

	return s.store.Update(func(snap *repository.Snapshot) error {
		byID := make(map[string]models.TeacherCacheEntry, len(server))
		for _, entry := range server {
			byID[entry.ID] = entry
		}

		merged := make([]models.TeacherCacheEntry, 0, len(server))
		seen := make(map[string]bool, len(server))
		for _, local := range snap.Teachers {
			update, ok := byID[local.ID]
			if !ok {
				continue
			}
			local.FullName = update.FullName
			local.PhotoURL = update.PhotoURL
			merged = append(merged, local)
			seen[local.ID] = true
		}
		for _, entry := range server {
			if !seen[entry.ID] {
				merged = append(merged, entry)
			}
		}

		snap.Teachers = merged
		return nil
	})
}

// ReplaceTags swaps the credential set wholesale. Tags are small and
// fully server-owned; there is nothing local to preserve.
func (s *RosterService) ReplaceTags(server []models.Tag) error {
	if len(server) == 0 {
		s.logger.Warn("empty tag payload rejected, cache kept")
		return appErrors.Clone(appErrors.ErrEmptyRoster, "empty tag payload rejected")
	}

	return s.store.Update(func(snap *repository.Snapshot) error {
		snap.Tags = append([]models.Tag(nil), server...)
		return nil
	})
}

// UpsertStudentFromBiometric creates or enriches a single student when
// a biometric match succeeds mid-session, outside the bulk merge. A
// card-less student becomes resolvable this way until the next roster
// pull that actually contains them.
func (s *RosterService) UpsertStudentFromBiometric(entry models.StudentCacheEntry) error {
	if entry.ID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}

	return s.store.Update(func(snap *repository.Snapshot) error {
		for i := range snap.Students {
			if snap.Students[i].ID == entry.ID {
				if entry.FullName != "" {
					snap.Students[i].FullName = entry.FullName
				}
				if entry.Course != "" {
					snap.Students[i].Course = entry.Course
				}
				if entry.PhotoURL != "" {
					snap.Students[i].PhotoURL = entry.PhotoURL
				}
				snap.Students[i].BiometricEnrolled = true
				return nil
			}
		}
		entry.BiometricEnrolled = true
		snap.Students = append(snap.Students, entry)
		return nil
	})
}

// Counts reports cache sizes for the status endpoint.
func (s *RosterService) Counts() (students, teachers, tags int) {
	s.store.View(func(snap *repository.Snapshot) {
		students = len(snap.Students)
		teachers = len(snap.Teachers)
		tags = len(snap.Tags)
	})
	return
}
