package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/service"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
)

type pickupBackendStub struct{}

func (pickupBackendStub) LookupCredential(ctx context.Context, token string) (*models.Pickup, error) {
	return nil, nil
}

func (pickupBackendStub) InitiateWithdrawal(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
	ids := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		ids[i] = "W-" + id
	}
	return ids, nil
}

func (pickupBackendStub) VerifyWithdrawal(ctx context.Context, serverID string, method models.VerificationMethod, evidence string) (bool, error) {
	return true, nil
}

func (pickupBackendStub) CompleteWithdrawal(ctx context.Context, serverID, signature, reason string) error {
	return nil
}

func initiatedWithdrawal(t *testing.T) *service.WithdrawalService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	require.NoError(t, err)

	svc := service.NewWithdrawalService(pickupBackendStub{}, config.WithdrawalConfig{OverridePINHash: string(hash)}, nil)
	svc.Start(models.Pickup{ID: "P1", FullName: "Maria Alves", StudentIDs: []string{"S1"}})
	require.NoError(t, svc.SelectStudents([]string{"S1"}))
	require.NoError(t, svc.Initiate(context.Background()))
	return svc
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerifyRoutesManualOverrideToPINCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := initiatedWithdrawal(t)

	h := NewWithdrawalHandler(svc, nil)
	r := gin.New()
	r.POST("/withdrawals/verify", h.Verify)

	w := postJSON(r, "/withdrawals/verify", `{"method":"manual_override","pin":"9999"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, models.WithdrawalStatusInitiated, svc.Current().Status)

	w = postJSON(r, "/withdrawals/verify", `{"method":"manual_override","pin":"4321"}`)
	require.Equal(t, http.StatusOK, w.Code)

	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusVerified, current.Status)
	require.Equal(t, models.VerificationManualOverride, current.VerificationMethod)
}

func TestVerifyRoutesPhotoMatchToBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := initiatedWithdrawal(t)

	h := NewWithdrawalHandler(svc, nil)
	r := gin.New()
	r.POST("/withdrawals/verify", h.Verify)

	w := postJSON(r, "/withdrawals/verify", `{"method":"photo_match","photo_data":"live"}`)
	require.Equal(t, http.StatusOK, w.Code)

	current := svc.Current()
	require.Equal(t, models.WithdrawalStatusVerified, current.Status)
	require.Equal(t, models.VerificationPhotoMatch, current.VerificationMethod)
}
