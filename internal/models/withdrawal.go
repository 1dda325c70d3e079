package models

import "time"

// WithdrawalStatus captures the pickup-authorization workflow state.
type WithdrawalStatus string

const (
	WithdrawalStatusNone      WithdrawalStatus = "NONE"
	WithdrawalStatusInitiated WithdrawalStatus = "INITIATED"
	WithdrawalStatusVerified  WithdrawalStatus = "VERIFIED"
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
)

// Valid returns true when the status is a supported value.
func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalStatusNone, WithdrawalStatusInitiated, WithdrawalStatusVerified, WithdrawalStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the forward path NONE → INITIATED → VERIFIED
// → COMPLETED. Abandoning back to NONE is allowed from any
// non-completed state.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	if next == WithdrawalStatusNone {
		return s != WithdrawalStatusCompleted
	}
	switch s {
	case WithdrawalStatusNone:
		return next == WithdrawalStatusInitiated
	case WithdrawalStatusInitiated:
		return next == WithdrawalStatusVerified
	case WithdrawalStatusVerified:
		return next == WithdrawalStatusCompleted
	default:
		return false
	}
}

// VerificationMethod records how the adult's identity was confirmed.
type VerificationMethod string

const (
	VerificationPhotoMatch     VerificationMethod = "photo_match"
	VerificationManualOverride VerificationMethod = "manual_override"
)

// Pickup is an authorized adult, read-only from the kiosk's side.
type Pickup struct {
	ID               string   `json:"id"`
	FullName         string   `json:"full_name"`
	RelationshipType string   `json:"relationship_type"`
	PhotoURL         string   `json:"photo_url,omitempty"`
	StudentIDs       []string `json:"student_ids"`
}

// PendingWithdrawal is the single withdrawal transaction under
// construction. Exactly zero or one instance exists at a time.
type PendingWithdrawal struct {
	PickupID            string             `json:"pickup_id"`
	Pickup              *Pickup            `json:"pickup,omitempty"`
	StudentIDs          []string           `json:"student_ids"`
	Status              WithdrawalStatus   `json:"status"`
	ServerWithdrawalIDs []string           `json:"server_withdrawal_ids,omitempty"`
	VerificationMethod  VerificationMethod `json:"verification_method,omitempty"`
	SignatureData       string             `json:"signature_data,omitempty"`
	Reason              string             `json:"reason,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

// WithdrawalRecord is a local-only entry in the today's-withdrawals
// list shown on the kiosk after a completed transaction.
type WithdrawalRecord struct {
	ID                 string             `json:"id"`
	ServerWithdrawalID string             `json:"server_withdrawal_id"`
	StudentID          string             `json:"student_id"`
	PickupID           string             `json:"pickup_id"`
	PickupName         string             `json:"pickup_name"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	Reason             string             `json:"reason,omitempty"`
	CompletedAt        time.Time          `json:"completed_at"`
}
