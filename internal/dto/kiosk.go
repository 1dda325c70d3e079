package dto

import "github.com/noah-isme/sma-kiosk-agent/internal/models"

// ScanRequest is one credential read delivered by a capture
// collaborator (QR, NFC or biometric frontend).
type ScanRequest struct {
	Token     string `json:"token" validate:"required"`
	Source    string `json:"source" validate:"required,oneof=qr nfc biometric manual"`
	PhotoData string `json:"photo_data,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
}

// ScanResponse carries the resolution and, for students, the
// automatically enqueued attendance event.
type ScanResponse struct {
	Resolution *models.Resolution `json:"resolution"`
	Event      *models.QueueEvent `json:"event,omitempty"`
}

// StatusResponse summarises the agent for the UI shell.
type StatusResponse struct {
	DeviceID     string `json:"device_id"`
	GateID       string `json:"gate_id"`
	SchoolName   string `json:"school_name,omitempty"`
	Online       bool   `json:"online"`
	PendingCount int    `json:"pending_count"`
	QueueLength  int    `json:"queue_length"`
	Students     int    `json:"students"`
	Teachers     int    `json:"teachers"`
	Tags         int    `json:"tags"`
	LastSyncAt   string `json:"last_sync_at,omitempty"`
}

// BiometricEnrollRequest registers or enriches a student from a
// successful biometric match reported by the capture collaborator.
type BiometricEnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	FullName  string `json:"full_name,omitempty"`
	Course    string `json:"course,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// StartWithdrawalRequest identifies the authorized adult, either by a
// scanned credential or by an already-looked-up pickup record from the
// manual search screen.
type StartWithdrawalRequest struct {
	Token  string         `json:"token,omitempty"`
	Pickup *models.Pickup `json:"pickup,omitempty"`
}

// SelectStudentsRequest narrows the withdrawal to specific students.
type SelectStudentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1"`
}

// VerifyWithdrawalRequest confirms the adult's identity.
type VerifyWithdrawalRequest struct {
	Method    string `json:"method" validate:"required,oneof=photo_match manual_override"`
	PhotoData string `json:"photo_data,omitempty"`
	PIN       string `json:"pin,omitempty"`
}

// CompleteWithdrawalRequest commits the signed withdrawal.
type CompleteWithdrawalRequest struct {
	SignatureData string `json:"signature_data" validate:"required"`
	Reason        string `json:"reason,omitempty"`
}
