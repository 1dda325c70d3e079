package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// withdrawalCollaborator is the slice of the sync collaborator the
// pickup flow needs.
type withdrawalCollaborator interface {
	LookupCredential(ctx context.Context, token string) (*models.Pickup, error)
	InitiateWithdrawal(ctx context.Context, studentIDs []string, pickupID string) ([]string, error)
	VerifyWithdrawal(ctx context.Context, serverID string, method models.VerificationMethod, evidence string) (bool, error)
	CompleteWithdrawal(ctx context.Context, serverID, signature, reason string) error
}

// WithdrawalService orchestrates the supervised pickup flow, the only
// multi-step identity-verified transaction on the kiosk. It holds at
// most one PendingWithdrawal; starting a new one always supersedes a
// prior incomplete one. Network failures leave the machine at its last
// successfully-reached state so the operator can retry without
// re-selecting students or re-capturing a signature.
type WithdrawalService struct {
	backend withdrawalCollaborator
	cfg     config.WithdrawalConfig
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	pending   *models.PendingWithdrawal
	completed map[string]bool
	today     []models.WithdrawalRecord
}

// NewWithdrawalService constructs the state machine.
func NewWithdrawalService(backend withdrawalCollaborator, cfg config.WithdrawalConfig, logger *zap.Logger) *WithdrawalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WithdrawalService{backend: backend, cfg: cfg, logger: logger, now: time.Now}
}

// StartByCredential identifies the authorized adult from a scanned
// credential through the backend lookup, then starts a transaction.
func (s *WithdrawalService) StartByCredential(ctx context.Context, token string) (*models.PendingWithdrawal, error) {
	pickup, err := s.backend.LookupCredential(ctx, token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrWithdrawalBackend.Code, appErrors.ErrWithdrawalBackend.Status, "pickup lookup failed")
	}
	if pickup == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no authorized adult for that credential")
	}
	return s.Start(*pickup), nil
}

// Start begins a new transaction for an already-identified pickup,
// discarding any abandoned prior one.
func (s *WithdrawalService) Start(pickup models.Pickup) *models.PendingWithdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil && s.pending.Status != models.WithdrawalStatusCompleted {
		s.logger.Info("superseding incomplete withdrawal", zap.String("pickup_id", s.pending.PickupID))
	}

	s.pending = &models.PendingWithdrawal{
		PickupID:   pickup.ID,
		Pickup:     &pickup,
		StudentIDs: []string{},
		Status:     models.WithdrawalStatusNone,
	}
	s.completed = make(map[string]bool)
	return s.snapshotLocked()
}

// SelectStudents narrows the pickup's authorized list to the students
// actually being withdrawn. Students already withdrawn today are
// non-withdrawable and rejected.
func (s *WithdrawalService) SelectStudents(studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.Status != models.WithdrawalStatusNone {
		return appErrors.Clone(appErrors.ErrWithdrawalState, "student selection requires a fresh withdrawal")
	}
	if len(studentIDs) == 0 {
		return appErrors.ErrNoStudentsSelected
	}

	authorized := make(map[string]bool, len(s.pending.Pickup.StudentIDs))
	for _, id := range s.pending.Pickup.StudentIDs {
		authorized[id] = true
	}
	for _, id := range studentIDs {
		if !authorized[id] {
			return appErrors.Clone(appErrors.ErrValidation, "student not authorized for this pickup")
		}
		if s.withdrawnTodayLocked(id) {
			return appErrors.Clone(appErrors.ErrValidation, "student already withdrawn today")
		}
	}

	s.pending.StudentIDs = append([]string(nil), studentIDs...)
	return nil
}

// Initiate opens withdrawal records on the backend for the selected
// students. The returned server ids are stored; on failure the state
// and the selection stay untouched.
func (s *WithdrawalService) Initiate(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == nil || s.pending.Status != models.WithdrawalStatusNone {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrWithdrawalState, "withdrawal already initiated")
	}
	if len(s.pending.StudentIDs) == 0 {
		s.mu.Unlock()
		return appErrors.ErrNoStudentsSelected
	}
	txn := s.pending
	studentIDs := append([]string(nil), s.pending.StudentIDs...)
	pickupID := s.pending.PickupID
	s.mu.Unlock()

	serverIDs, err := s.backend.InitiateWithdrawal(ctx, studentIDs, pickupID)
	if err != nil {
		s.logger.Warn("withdrawal initiate failed", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrWithdrawalBackend.Code, appErrors.ErrWithdrawalBackend.Status, "could not initiate withdrawal")
	}
	if len(serverIDs) == 0 {
		s.logger.Warn("withdrawal initiate returned no record ids", zap.String("pickup_id", pickupID))
		return appErrors.Clone(appErrors.ErrWithdrawalBackend, "backend opened no withdrawal records")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != txn {
		return appErrors.Clone(appErrors.ErrWithdrawalState, "withdrawal superseded during initiate")
	}
	s.pending.ServerWithdrawalIDs = serverIDs
	s.pending.Status = models.WithdrawalStatusInitiated
	return nil
}

// VerifyPhoto confirms the adult's identity by photo match. The live
// photo is sent to the backend against the first opened withdrawal.
func (s *WithdrawalService) VerifyPhoto(ctx context.Context, photoData string) error {
	return s.verify(ctx, models.VerificationPhotoMatch, photoData)
}

// VerifyOverride confirms identity through an explicit administrative
// override, gated by the operator PIN.
func (s *WithdrawalService) VerifyOverride(pin string) error {
	if s.cfg.OverridePINHash == "" {
		return appErrors.Clone(appErrors.ErrOverrideRejected, "manual override not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OverridePINHash), []byte(pin)); err != nil {
		return appErrors.ErrOverrideRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.Status != models.WithdrawalStatusInitiated {
		return appErrors.Clone(appErrors.ErrWithdrawalState, "verification requires an initiated withdrawal")
	}
	s.pending.Status = models.WithdrawalStatusVerified
	s.pending.VerificationMethod = models.VerificationManualOverride
	return nil
}

func (s *WithdrawalService) verify(ctx context.Context, method models.VerificationMethod, evidence string) error {
	s.mu.Lock()
	if s.pending == nil || s.pending.Status != models.WithdrawalStatusInitiated {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrWithdrawalState, "verification requires an initiated withdrawal")
	}
	if len(s.pending.ServerWithdrawalIDs) == 0 {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrWithdrawalState, "no withdrawal records opened to verify")
	}
	txn := s.pending
	serverID := s.pending.ServerWithdrawalIDs[0]
	s.mu.Unlock()

	ok, err := s.backend.VerifyWithdrawal(ctx, serverID, method, evidence)
	if err != nil {
		s.logger.Warn("withdrawal verify failed", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrWithdrawalBackend.Code, appErrors.ErrWithdrawalBackend.Status, "could not verify identity")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrOverrideRejected, "identity verification rejected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != txn || s.pending.Status != models.WithdrawalStatusInitiated {
		return appErrors.Clone(appErrors.ErrWithdrawalState, "withdrawal state changed during verify")
	}
	s.pending.Status = models.WithdrawalStatusVerified
	s.pending.VerificationMethod = method
	return nil
}

// Complete attaches the captured signature and closes every opened
// server withdrawal sequentially, so a partial failure leaves the
// remainder uncompleted and retryable. Unreachable unless VERIFIED.
func (s *WithdrawalService) Complete(ctx context.Context, signature, reason string) error {
	s.mu.Lock()
	if s.pending == nil || s.pending.Status != models.WithdrawalStatusVerified {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrWithdrawalState, "signature commit requires a verified withdrawal")
	}
	if signature == "" {
		s.mu.Unlock()
		return appErrors.ErrSignatureRequired
	}
	txn := s.pending
	serverIDs := append([]string(nil), s.pending.ServerWithdrawalIDs...)
	s.mu.Unlock()

	for _, serverID := range serverIDs {
		s.mu.Lock()
		if s.pending != txn {
			s.mu.Unlock()
			return appErrors.Clone(appErrors.ErrWithdrawalState, "withdrawal superseded during commit")
		}
		done := s.completed[serverID]
		s.mu.Unlock()
		if done {
			continue
		}
		if err := s.backend.CompleteWithdrawal(ctx, serverID, signature, reason); err != nil {
			s.logger.Warn("withdrawal complete failed, remainder retryable",
				zap.String("server_id", serverID), zap.Error(err))
			return appErrors.Wrap(err, appErrors.ErrWithdrawalBackend.Code, appErrors.ErrWithdrawalBackend.Status, "could not complete withdrawal")
		}
		s.mu.Lock()
		s.completed[serverID] = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != txn {
		// A Start or Abandon during the network calls replaced the
		// transaction; never stamp its outcome onto the new one.
		return appErrors.Clone(appErrors.ErrWithdrawalState, "withdrawal superseded during commit")
	}

	now := s.now()
	s.pending.Status = models.WithdrawalStatusCompleted
	s.pending.SignatureData = signature
	s.pending.Reason = reason
	s.pending.CompletedAt = &now

	pickupName := ""
	if s.pending.Pickup != nil {
		pickupName = s.pending.Pickup.FullName
	}
	for i, serverID := range serverIDs {
		studentID := ""
		if i < len(s.pending.StudentIDs) {
			studentID = s.pending.StudentIDs[i]
		}
		s.today = append(s.today, models.WithdrawalRecord{
			ID:                 uuid.NewString(),
			ServerWithdrawalID: serverID,
			StudentID:          studentID,
			PickupID:           s.pending.PickupID,
			PickupName:         pickupName,
			VerificationMethod: s.pending.VerificationMethod,
			Reason:             reason,
			CompletedAt:        now,
		})
	}

	s.logger.Info("withdrawal completed",
		zap.String("pickup_id", s.pending.PickupID),
		zap.Int("students", len(serverIDs)))
	return nil
}

// Abandon discards the in-flight transaction. A completed one is simply
// cleared once the confirmation screen is done with it.
func (s *WithdrawalService) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.Status != models.WithdrawalStatusCompleted {
		s.logger.Info("withdrawal abandoned", zap.String("pickup_id", s.pending.PickupID))
	}
	s.pending = nil
	s.completed = nil
}

// Current returns a copy of the in-flight transaction, or nil.
func (s *WithdrawalService) Current() *models.PendingWithdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// TodayRecords lists completed withdrawals for immediate display.
func (s *WithdrawalService) TodayRecords() []models.WithdrawalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WithdrawalRecord(nil), s.today...)
}

func (s *WithdrawalService) snapshotLocked() *models.PendingWithdrawal {
	if s.pending == nil {
		return nil
	}
	clone := *s.pending
	clone.StudentIDs = append([]string(nil), s.pending.StudentIDs...)
	clone.ServerWithdrawalIDs = append([]string(nil), s.pending.ServerWithdrawalIDs...)
	return &clone
}

func (s *WithdrawalService) withdrawnTodayLocked(studentID string) bool {
	today := s.now()
	for i := range s.today {
		if s.today[i].StudentID == studentID && sameDay(s.today[i].CompletedAt, today) {
			return true
		}
	}
	return false
}
