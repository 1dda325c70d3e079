package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

var pickupP1 = models.Pickup{
	ID:               "P1",
	FullName:         "Maria Alves",
	RelationshipType: "mother",
	StudentIDs:       []string{"S1", "S2", "S3"},
}

func newWithdrawalFixture(t *testing.T, stub *collaboratorStub) *WithdrawalService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewWithdrawalService(stub, config.WithdrawalConfig{OverridePINHash: string(hash)}, nil)
}

func TestWithdrawalHappyPath(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		require.Equal(t, "P1", pickupID)
		require.Equal(t, []string{"S1", "S2"}, studentIDs)
		return []string{"W1", "W2"}, nil
	}

	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)

	require.NoError(t, svc.SelectStudents([]string{"S1", "S2"}))
	require.NoError(t, svc.Initiate(context.Background()))
	require.Equal(t, models.WithdrawalStatusInitiated, svc.Current().Status)

	require.NoError(t, svc.VerifyPhoto(context.Background(), "live-photo"))
	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusVerified, current.Status)
	require.Equal(t, models.VerificationPhotoMatch, current.VerificationMethod)

	require.NoError(t, svc.Complete(context.Background(), "signature-bytes", "doctor appointment"))
	current = svc.Current()
	require.Equal(t, models.WithdrawalStatusCompleted, current.Status)
	require.NotNil(t, current.CompletedAt)
	require.Equal(t, []string{"W1", "W2"}, current.ServerWithdrawalIDs)

	records := svc.TodayRecords()
	require.Len(t, records, 2)
	require.Equal(t, "W1", records[0].ServerWithdrawalID)
	require.Equal(t, "S1", records[0].StudentID)
	require.Equal(t, "Maria Alves", records[0].PickupName)
}

func TestWithdrawalCommitGuard(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))

	// Signature commit while only INITIATED is rejected.
	err := svc.Complete(context.Background(), "sig", "")
	require.Equal(t, appErrors.ErrWithdrawalState.Code, appErrors.FromError(err).Code)
}

func TestWithdrawalSignatureRequired(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))
	require.NoError(t, svc.VerifyPhoto(context.Background(), "photo"))

	err := svc.Complete(context.Background(), "", "")
	require.Equal(t, appErrors.ErrSignatureRequired.Code, appErrors.FromError(err).Code)
}

func TestWithdrawalSelectionValidation(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)

	require.Equal(t, appErrors.ErrNoStudentsSelected.Code, appErrors.FromError(svc.SelectStudents(nil)).Code)

	// Not on the pickup's authorized list.
	err := svc.SelectStudents([]string{"S9"})
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWithdrawalFailedInitiateKeepsSelection(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		return nil, errors.New("backend down")
	}

	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1", "S2"}))

	err := svc.Initiate(context.Background())
	require.Equal(t, appErrors.ErrWithdrawalBackend.Code, appErrors.FromError(err).Code)

	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusNone, current.Status)
	require.Equal(t, []string{"S1", "S2"}, current.StudentIDs)

	// Retry succeeds without re-selecting.
	stub.initiate = nil
	require.NoError(t, svc.Initiate(context.Background()))
	require.Equal(t, models.WithdrawalStatusInitiated, svc.Current().Status)
}

func TestWithdrawalInitiateRejectsEmptyServerResponse(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		return []string{}, nil
	}

	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))

	err := svc.Initiate(context.Background())
	require.Equal(t, appErrors.ErrWithdrawalBackend.Code, appErrors.FromError(err).Code)

	// State and selection are untouched, and verification cannot run
	// against zero opened records.
	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusNone, current.Status)
	require.Equal(t, []string{"S1"}, current.StudentIDs)

	err = svc.VerifyPhoto(context.Background(), "photo")
	require.Equal(t, appErrors.ErrWithdrawalState.Code, appErrors.FromError(err).Code)
}

func TestWithdrawalSupersededDuringCommitIsNotStamped(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		return []string{"W1"}, nil
	}

	var svc *WithdrawalService
	stub.complete = func(ctx context.Context, serverID, signature, reason string) error {
		// Another operator starts a fresh transaction mid-commit.
		svc.Start(models.Pickup{ID: "P2", FullName: "João Prado", StudentIDs: []string{"S5"}})
		return nil
	}

	svc = newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))
	require.NoError(t, svc.VerifyPhoto(context.Background(), "photo"))

	err := svc.Complete(context.Background(), "sig", "")
	require.Equal(t, appErrors.ErrWithdrawalState.Code, appErrors.FromError(err).Code)

	// The new transaction carries nothing from the superseded one.
	current := svc.Current()
	require.Equal(t, "P2", current.PickupID)
	require.Equal(t, models.WithdrawalStatusNone, current.Status)
	require.Empty(t, current.SignatureData)
	require.Nil(t, current.CompletedAt)
	require.Empty(t, svc.TodayRecords())
}

func TestWithdrawalPartialCompleteIsRetryable(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		return []string{"W1", "W2"}, nil
	}
	completed := []string{}
	stub.complete = func(ctx context.Context, serverID, signature, reason string) error {
		if serverID == "W2" && len(completed) == 1 {
			return errors.New("timeout")
		}
		completed = append(completed, serverID)
		return nil
	}

	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1", "S2"}))
	require.NoError(t, svc.Initiate(context.Background()))
	require.NoError(t, svc.VerifyPhoto(context.Background(), "photo"))

	err := svc.Complete(context.Background(), "sig", "")
	require.Equal(t, appErrors.ErrWithdrawalBackend.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.WithdrawalStatusVerified, svc.Current().Status)

	// Retry completes only the remainder.
	require.NoError(t, svc.Complete(context.Background(), "sig", ""))
	require.Equal(t, []string{"W1", "W2"}, completed)
	require.Equal(t, models.WithdrawalStatusCompleted, svc.Current().Status)
	require.Len(t, svc.TodayRecords(), 2)
}

func TestWithdrawalOverridePIN(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))

	err := svc.VerifyOverride("9999")
	require.Equal(t, appErrors.ErrOverrideRejected.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.WithdrawalStatusInitiated, svc.Current().Status)

	require.NoError(t, svc.VerifyOverride("4321"))
	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusVerified, current.Status)
	require.Equal(t, models.VerificationManualOverride, current.VerificationMethod)
}

func TestWithdrawalStartSupersedesIncomplete(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)

	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))

	other := models.Pickup{ID: "P2", FullName: "João Prado", StudentIDs: []string{"S5"}}
	current := svc.Start(other)
	require.Equal(t, "P2", current.PickupID)
	require.Empty(t, current.StudentIDs)
	require.Equal(t, models.WithdrawalStatusNone, current.Status)
}

func TestWithdrawalAlreadyWithdrawnStudentIsBlocked(t *testing.T) {
	stub := newCollaboratorStub()
	stub.initiate = func(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
		return []string{"W1"}, nil
	}

	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))
	require.NoError(t, svc.VerifyPhoto(context.Background(), "photo"))
	require.NoError(t, svc.Complete(context.Background(), "sig", ""))

	svc.Start(pickupP1)
	err := svc.SelectStudents([]string{"S1"})
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWithdrawalAbandon(t *testing.T) {
	stub := newCollaboratorStub()
	svc := newWithdrawalFixture(t, stub)
	svc.Start(pickupP1)
	require.NoError(t, svc.SelectStudents([]string{"S1"}))

	svc.Abandon()
	require.Nil(t, svc.Current())
}
