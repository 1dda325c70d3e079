package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// SubmitResult is the backend's answer to a full event submission. A
// non-nil error from SubmitEvent means the whole submission failed;
// EvidenceFailed means the core record was accepted but the attachment
// was not.
type SubmitResult struct {
	ServerID       string
	EvidenceFailed bool
}

// Collaborator is the capability interface over the network-facing
// backend. The core only decides what to submit and when it is safe to
// mark something submitted.
type Collaborator interface {
	SubmitEvent(ctx context.Context, event models.QueueEvent) (SubmitResult, error)
	SubmitEvidence(ctx context.Context, serverID string, event models.QueueEvent) error
	LookupCredential(ctx context.Context, token string) (*models.Pickup, error)
	InitiateWithdrawal(ctx context.Context, studentIDs []string, pickupID string) ([]string, error)
	VerifyWithdrawal(ctx context.Context, serverID string, method models.VerificationMethod, evidence string) (bool, error)
	CompleteWithdrawal(ctx context.Context, serverID, signature, reason string) error
	PullRoster(ctx context.Context) (*models.RosterPayload, error)
}

// SyncService drains the event queue and reconciles the roster. At most
// one pass is in flight at a time; an event claimed via in_progress is
// never picked up again until it leaves that state, so the same event
// cannot be submitted twice concurrently.
type SyncService struct {
	queue   *QueueService
	roster  *RosterService
	backend Collaborator
	policy  config.SyncConfig
	online  bool
	metrics *MetricsService
	logger  *zap.Logger

	inFlight atomic.Bool
	kick     chan struct{}

	mu       sync.Mutex
	lastSync time.Time
}

// NewSyncService constructs the sync loop with its retry policy
// injected as configuration.
func NewSyncService(queue *QueueService, roster *RosterService, backend Collaborator, policy config.SyncConfig, online bool, metrics *MetricsService, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		queue:   queue,
		roster:  roster,
		backend: backend,
		policy:  policy,
		online:  online,
		metrics: metrics,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band pass, used when storage pressure or the
// operator demands one. Never blocks.
func (s *SyncService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run schedules passes on the configured interval until ctx is done.
func (s *SyncService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		if err := s.RunPass(ctx); err != nil {
			s.logger.Warn("sync pass failed", zap.Error(err))
		}
	}
}

// LastSync reports when a pass last finished.
func (s *SyncService) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// UnderPressure reports whether the unsynced backlog crossed the
// configured threshold and a pass should be forced.
func (s *SyncService) UnderPressure() bool {
	return s.policy.PressureThreshold > 0 && s.queue.PendingCount() >= s.policy.PressureThreshold
}

// RunPass drains the queue once and pulls the roster. A second caller
// while a pass is in flight returns immediately without touching the
// queue.
func (s *SyncService) RunPass(ctx context.Context) error {
	if !s.online {
		return nil
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	s.drainQueue(ctx)
	s.pullRoster(ctx)

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveSyncPass(time.Since(start))
		s.metrics.SetQueueDepth(s.queue.PendingCount())
	}
	return nil
}

func (s *SyncService) drainQueue(ctx context.Context) {
	for _, event := range s.queue.Events() {
		if ctx.Err() != nil {
			return
		}
		if event.FromServer {
			continue
		}

		switch event.Status {
		case models.EventStatusPending, models.EventStatusError:
			if event.Status == models.EventStatusError && event.Retries >= s.policy.MaxEventRetries {
				continue
			}
			s.submitEvent(ctx, event)
		case models.EventStatusPartialSync:
			s.submitEvidence(ctx, event)
		}
	}
}

// submitEvent claims the event, submits it, and records the outcome
// atomically once the response arrives. There is no optimistic synced
// marking before backend acknowledgment.
func (s *SyncService) submitEvent(ctx context.Context, event models.QueueEvent) {
	if err := s.queue.UpdateStatus(event.ID, models.EventStatusInProgress); err != nil {
		s.logger.Warn("could not claim event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	result, err := s.backend.SubmitEvent(ctx, event)
	if err != nil {
		s.logger.Warn("event submission failed", zap.String("event_id", event.ID), zap.Error(err))
		if mErr := s.queue.UpdateStatus(event.ID, models.EventStatusError); mErr != nil {
			s.logger.Error("could not record submission failure", zap.String("event_id", event.ID), zap.Error(mErr))
		}
		if s.metrics != nil {
			s.metrics.IncEventsFailed()
		}
		return
	}

	if result.EvidenceFailed {
		if mErr := s.queue.MarkPartialSync(event.ID, result.ServerID); mErr != nil {
			s.logger.Error("could not record partial sync", zap.String("event_id", event.ID), zap.Error(mErr))
		}
		return
	}

	if mErr := s.queue.CompleteSubmission(event.ID, result.ServerID); mErr != nil {
		s.logger.Error("could not record sync", zap.String("event_id", event.ID), zap.Error(mErr))
		return
	}
	if s.metrics != nil {
		s.metrics.IncEventsSynced()
	}
}

// submitEvidence retries only the attachment of a partially synced
// event; the core record is never resubmitted. Once evidence retries
// are exhausted the event is closed without it, since the record itself
// is the safety-relevant artifact.
func (s *SyncService) submitEvidence(ctx context.Context, event models.QueueEvent) {
	if event.PhotoRetries >= s.policy.MaxPhotoRetries {
		s.logger.Warn("evidence retries exhausted, closing without evidence", zap.String("event_id", event.ID))
		if err := s.queue.MarkSynced(event.ID); err != nil {
			s.logger.Error("could not close event", zap.String("event_id", event.ID), zap.Error(err))
		}
		return
	}

	if err := s.backend.SubmitEvidence(ctx, event.ServerID, event); err != nil {
		s.logger.Warn("evidence submission failed", zap.String("event_id", event.ID), zap.Error(err))
		if mErr := s.queue.MarkPartialSync(event.ID, event.ServerID); mErr != nil {
			s.logger.Error("could not record evidence failure", zap.String("event_id", event.ID), zap.Error(mErr))
		}
		return
	}

	if err := s.queue.MarkSynced(event.ID); err != nil {
		s.logger.Error("could not record evidence sync", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// pullRoster merges the server snapshot and imports today's events.
// Empty sections are rejected by the merge engine and logged; a
// rejection never aborts the rest of the pass.
func (s *SyncService) pullRoster(ctx context.Context) {
	payload, err := s.backend.PullRoster(ctx)
	if err != nil {
		s.logger.Warn("roster pull failed", zap.Error(err))
		return
	}
	if payload == nil {
		return
	}

	s.applyMerge(s.roster.MergeStudents(payload.Students))
	s.applyMerge(s.roster.MergeTeachers(payload.Teachers))
	s.applyMerge(s.roster.ReplaceTags(payload.Tags))

	if len(payload.TodayEvents) > 0 {
		if _, err := s.queue.ImportTodayEvents(payload.TodayEvents); err != nil {
			s.logger.Warn("event import failed", zap.Error(err))
		}
	}
}

func (s *SyncService) applyMerge(err error) {
	if err == nil {
		return
	}
	if appErrors.FromError(err).Code == appErrors.ErrEmptyRoster.Code {
		// Defensive rejection, already logged by the merge engine.
		return
	}
	s.logger.Warn("roster merge failed", zap.Error(err))
}
