package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/repository"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// QueueService owns the durable local event queue: attendance records
// are persisted before any network attempt so a crash between capture
// and submission never loses one.
type QueueService struct {
	store  *repository.SnapshotRepository
	device config.DeviceConfig
	logger *zap.Logger
	now    func() time.Time
}

// QueueOption customises the queue service.
type QueueOption func(*QueueService)

// WithQueueClock overrides the time source, used by tests.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(s *QueueService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewQueueService constructs the event queue over the shared snapshot.
// Events left in_progress by a crash mid-submission are reclaimed as
// pending so the next drain pass picks them up again.
func NewQueueService(store *repository.SnapshotRepository, device config.DeviceConfig, logger *zap.Logger, opts ...QueueOption) *QueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &QueueService{store: store, device: device, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	svc.recoverInFlight()
	return svc
}

// recoverInFlight resets events stranded in in_progress by a previous
// process. The submission outcome is unknown, so the event goes back to
// pending rather than being dropped; the backend deduplicates by id.
func (s *QueueService) recoverInFlight() {
	stranded := 0
	s.store.View(func(snap *repository.Snapshot) {
		for i := range snap.Queue {
			if !snap.Queue[i].FromServer && snap.Queue[i].Status == models.EventStatusInProgress {
				stranded++
			}
		}
	})
	if stranded == 0 {
		return
	}

	err := s.store.Update(func(snap *repository.Snapshot) error {
		for i := range snap.Queue {
			if !snap.Queue[i].FromServer && snap.Queue[i].Status == models.EventStatusInProgress {
				snap.Queue[i].Status = models.EventStatusPending
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("in-flight event recovery not persisted", zap.Error(err))
	}
	s.logger.Info("in-flight events reclaimed after restart", zap.Int("count", stranded))
}

// Enqueue stamps identity and sequence onto the draft and persists it.
// The sequence counter is pre-incremented and stored in the same write,
// so local_seq values are never reused even across restarts.
//
// On a storage-capacity fault the event is still returned together with
// the typed error: it lives in memory and the caller is expected to
// warn the operator and force a sync pass rather than drop it.
func (s *QueueService) Enqueue(draft models.EventDraft) (*models.QueueEvent, error) {
	if draft.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	if !draft.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "event type must be IN or OUT")
	}
	if draft.PhotoData != "" && draft.AudioData != "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "photo and audio evidence are mutually exclusive")
	}

	ts := draft.Ts
	if ts.IsZero() {
		ts = s.now()
	}

	var event models.QueueEvent
	err := s.store.Update(func(snap *repository.Snapshot) error {
		snap.LocalSeq++
		event = models.QueueEvent{
			ID:        fmt.Sprintf("%s-%d", s.device.DeviceID, snap.LocalSeq),
			LocalSeq:  snap.LocalSeq,
			DeviceID:  s.device.DeviceID,
			GateID:    s.device.GateID,
			StudentID: draft.StudentID,
			Type:      draft.Type,
			Ts:        ts,
			Source:    draft.Source,
			PhotoData: draft.PhotoData,
			AudioData: draft.AudioData,
			Status:    models.EventStatusPending,
		}
		snap.Queue = append(snap.Queue, event)
		return nil
	})
	if err != nil {
		s.logger.Warn("event enqueued but not durable", zap.String("event_id", event.ID), zap.Error(err))
		return &event, err
	}

	s.logger.Info("event enqueued",
		zap.String("event_id", event.ID),
		zap.String("student_id", event.StudentID),
		zap.String("type", string(event.Type)))
	return &event, nil
}

// MarkSynced finalises an event. Idempotent when already synced.
func (s *QueueService) MarkSynced(id string) error {
	return s.transition(id, func(e *models.QueueEvent) error {
		if e.Status == models.EventStatusSynced {
			return nil
		}
		if !e.Status.CanTransitionTo(models.EventStatusSynced) {
			return appErrors.Clone(appErrors.ErrEventTransition, fmt.Sprintf("cannot mark %s event synced", e.Status))
		}
		e.Status = models.EventStatusSynced
		return nil
	})
}

// CompleteSubmission records the backend acknowledgment: the assigned
// server id is stored and the event becomes synced.
func (s *QueueService) CompleteSubmission(id, serverID string) error {
	return s.transition(id, func(e *models.QueueEvent) error {
		if e.Status == models.EventStatusSynced {
			return nil
		}
		if !e.Status.CanTransitionTo(models.EventStatusSynced) {
			return appErrors.Clone(appErrors.ErrEventTransition, fmt.Sprintf("cannot mark %s event synced", e.Status))
		}
		if serverID != "" {
			e.ServerID = serverID
		}
		e.Status = models.EventStatusSynced
		return nil
	})
}

// MarkPartialSync records that the backend accepted the core event but
// its evidence attachment failed. The server id is kept so a later pass
// resubmits only the evidence, never the event itself.
func (s *QueueService) MarkPartialSync(id, serverID string) error {
	return s.transition(id, func(e *models.QueueEvent) error {
		if !e.Status.CanTransitionTo(models.EventStatusPartialSync) {
			return appErrors.Clone(appErrors.ErrEventTransition, fmt.Sprintf("cannot mark %s event partial_sync", e.Status))
		}
		e.Status = models.EventStatusPartialSync
		e.PhotoRetries++
		if serverID != "" {
			e.ServerID = serverID
		}
		return nil
	})
}

// UpdateStatus performs a generic lifecycle transition. Entering error
// counts one failed full-submit attempt.
func (s *QueueService) UpdateStatus(id string, status models.EventStatus) error {
	if !status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown event status")
	}
	return s.transition(id, func(e *models.QueueEvent) error {
		if !e.Status.CanTransitionTo(status) {
			return appErrors.Clone(appErrors.ErrEventTransition, fmt.Sprintf("illegal transition %s -> %s", e.Status, status))
		}
		if status == models.EventStatusError && e.Status != models.EventStatusError {
			e.Retries++
		}
		e.Status = status
		return nil
	})
}

func (s *QueueService) transition(id string, mutate func(*models.QueueEvent) error) error {
	return s.store.Update(func(snap *repository.Snapshot) error {
		for i := range snap.Queue {
			if snap.Queue[i].ID == id {
				if snap.Queue[i].FromServer {
					return appErrors.Clone(appErrors.ErrEventTransition, "imported events are immutable")
				}
				return mutate(&snap.Queue[i])
			}
		}
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	})
}

// PendingCount reports how many events still require network work.
// Imported server events never count.
func (s *QueueService) PendingCount() int {
	count := 0
	s.store.View(func(snap *repository.Snapshot) {
		for i := range snap.Queue {
			if !snap.Queue[i].FromServer && snap.Queue[i].Status.RequiresNetwork() {
				count++
			}
		}
	})
	return count
}

// Events returns a copy of the queue.
func (s *QueueService) Events() []models.QueueEvent {
	var out []models.QueueEvent
	s.store.View(func(snap *repository.Snapshot) {
		out = append([]models.QueueEvent(nil), snap.Queue...)
	})
	return out
}

// NextEventTypeFor derives whether the next scan for a student is an IN
// or an OUT: the chronologically last of today's events (imported ones
// included) is flipped, defaulting to IN when none exist.
func (s *QueueService) NextEventTypeFor(studentID string) models.EventType {
	today := s.now()
	var todays []models.QueueEvent

	s.store.View(func(snap *repository.Snapshot) {
		for i := range snap.Queue {
			e := snap.Queue[i]
			if sameStudent(e.StudentID, studentID) && sameDay(e.Ts, today) {
				todays = append(todays, e)
			}
		}
	})

	if len(todays) == 0 {
		return models.EventTypeIn
	}

	sort.Slice(todays, func(i, j int) bool { return todays[i].Ts.Before(todays[j].Ts) })
	return todays[len(todays)-1].Type.Flip()
}

// ImportTodayEvents reconciles server-side events for the current day
// into the queue as already-synced entries, so a freshly provisioned
// device still derives correct IN/OUT alternation. Dedupe is by server
// id first, then by (student, timestamp) when no server id is recorded.
func (s *QueueService) ImportTodayEvents(serverEvents []models.QueueEvent) (int, error) {
	imported := 0
	err := s.store.Update(func(snap *repository.Snapshot) error {
		for _, se := range serverEvents {
			if hasEvent(snap.Queue, se) {
				continue
			}
			id := se.ID
			if id == "" {
				id = "srv-" + se.ServerID
			}
			snap.Queue = append(snap.Queue, models.QueueEvent{
				ID:         id,
				StudentID:  se.StudentID,
				Type:       se.Type,
				Ts:         se.Ts,
				Source:     se.Source,
				ServerID:   se.ServerID,
				Status:     models.EventStatusSynced,
				FromServer: true,
			})
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if imported > 0 {
		s.logger.Info("server events imported", zap.Int("count", imported))
	}
	return imported, nil
}

func hasEvent(queue []models.QueueEvent, se models.QueueEvent) bool {
	for i := range queue {
		if se.ServerID != "" && queue[i].ServerID == se.ServerID {
			return true
		}
		if queue[i].ServerID == "" && sameStudent(queue[i].StudentID, se.StudentID) && queue[i].Ts.Equal(se.Ts) {
			return true
		}
	}
	return false
}

// sameStudent compares ids numerically when both parse, since callers
// hand over mixed representations ("007" vs "7") and a mismatch here
// silently breaks the IN/OUT alternation.
func sameStudent(a, b string) bool {
	ai, aErr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, bErr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if aErr == nil && bErr == nil {
		return ai == bi
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
