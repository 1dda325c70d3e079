package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/service"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
)

// Client is the HTTP implementation of the sync collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenProvider
	logger     *zap.Logger
}

// NewClient builds the backend client from boot configuration.
func NewClient(backend config.BackendConfig, device config.DeviceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    backend.BaseURL,
		httpClient: &http.Client{Timeout: backend.Timeout},
		tokens:     NewTokenProvider(backend, device),
		logger:     logger,
	}
}

var _ service.Collaborator = (*Client)(nil)

type submitEventResponse struct {
	ServerID         string `json:"server_id"`
	EvidenceAccepted *bool  `json:"evidence_accepted,omitempty"`
}

// SubmitEvent posts one queued attendance event. The backend may accept
// the core record while rejecting its evidence attachment; that outcome
// is surfaced as EvidenceFailed rather than an error.
func (c *Client) SubmitEvent(ctx context.Context, event models.QueueEvent) (service.SubmitResult, error) {
	var resp submitEventResponse
	if err := c.doJSON(ctx, http.MethodPost, "/kiosk/events", event, &resp); err != nil {
		return service.SubmitResult{}, err
	}

	result := service.SubmitResult{ServerID: resp.ServerID}
	if event.HasEvidence() && resp.EvidenceAccepted != nil && !*resp.EvidenceAccepted {
		result.EvidenceFailed = true
	}
	return result, nil
}

type evidenceRequest struct {
	PhotoData string `json:"photo_data,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
}

// SubmitEvidence re-sends only the evidence payload of an event whose
// core record was already accepted.
func (c *Client) SubmitEvidence(ctx context.Context, serverID string, event models.QueueEvent) error {
	path := fmt.Sprintf("/kiosk/events/%s/evidence", url.PathEscape(serverID))
	return c.doJSON(ctx, http.MethodPost, path, evidenceRequest{
		PhotoData: event.PhotoData,
		AudioData: event.AudioData,
	}, nil)
}

// LookupCredential resolves a scanned credential to an authorized
// adult. A miss is (nil, nil), not an error.
func (c *Client) LookupCredential(ctx context.Context, token string) (*models.Pickup, error) {
	path := "/kiosk/pickups?token=" + url.QueryEscape(token)
	var pickup models.Pickup
	err := c.doJSON(ctx, http.MethodGet, path, nil, &pickup)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &pickup, nil
}

type initiateRequest struct {
	PickupID   string   `json:"pickup_id"`
	StudentIDs []string `json:"student_ids"`
}

type initiateResponse struct {
	Withdrawals []struct {
		ID string `json:"id"`
	} `json:"withdrawals"`
}

// InitiateWithdrawal opens one withdrawal record per selected student.
func (c *Client) InitiateWithdrawal(ctx context.Context, studentIDs []string, pickupID string) ([]string, error) {
	var resp initiateResponse
	err := c.doJSON(ctx, http.MethodPost, "/kiosk/withdrawals", initiateRequest{
		PickupID:   pickupID,
		StudentIDs: studentIDs,
	}, &resp)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Withdrawals))
	for _, w := range resp.Withdrawals {
		ids = append(ids, w.ID)
	}
	return ids, nil
}

type verifyRequest struct {
	Method   models.VerificationMethod `json:"method"`
	Evidence string                    `json:"evidence,omitempty"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// VerifyWithdrawal submits the identity verification for one opened
// withdrawal.
func (c *Client) VerifyWithdrawal(ctx context.Context, serverID string, method models.VerificationMethod, evidence string) (bool, error) {
	path := fmt.Sprintf("/kiosk/withdrawals/%s/verify", url.PathEscape(serverID))
	var resp verifyResponse
	if err := c.doJSON(ctx, http.MethodPost, path, verifyRequest{Method: method, Evidence: evidence}, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

type completeRequest struct {
	SignatureData string `json:"signature_data"`
	Reason        string `json:"reason,omitempty"`
}

// CompleteWithdrawal closes one withdrawal with the captured signature.
func (c *Client) CompleteWithdrawal(ctx context.Context, serverID, signature, reason string) error {
	path := fmt.Sprintf("/kiosk/withdrawals/%s/complete", url.PathEscape(serverID))
	return c.doJSON(ctx, http.MethodPost, path, completeRequest{SignatureData: signature, Reason: reason}, nil)
}

// PullRoster fetches the authoritative roster plus today's events.
func (c *Client) PullRoster(ctx context.Context) (*models.RosterPayload, error) {
	var payload models.RosterPayload
	if err := c.doJSON(ctx, http.MethodGet, "/kiosk/roster", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return &statusError{status: resp.StatusCode, body: buf.String()}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
