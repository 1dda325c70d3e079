package models

import "time"

// TagStatus is the validity state of a scannable credential.
type TagStatus string

const (
	TagStatusActive  TagStatus = "ACTIVE"
	TagStatusRevoked TagStatus = "REVOKED"
	TagStatusExpired TagStatus = "EXPIRED"
	TagStatusPending TagStatus = "PENDING"
)

// Tag is a scanned-credential record. Tags are fully server-owned and
// replaced wholesale on each roster sync, never patched.
type Tag struct {
	Token        string    `json:"token"`
	ShortPreview string    `json:"short_preview,omitempty"`
	StudentID    string    `json:"student_id,omitempty"`
	TeacherID    string    `json:"teacher_id,omitempty"`
	Status       TagStatus `json:"status"`
}

// StudentCacheEntry is a locally cached roster row. Server-owned fields
// are overwritten by merges; kiosk-local fields survive them.
type StudentCacheEntry struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Course   string `json:"course,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`

	PhotoConsent bool `json:"photo_consent"`
	AudioConsent bool `json:"audio_consent"`

	// Kiosk-local fields, never present in server payloads.
	BiometricEnrolled bool      `json:"biometric_enrolled,omitempty"`
	LastSeenAt        time.Time `json:"last_seen_at,omitempty"`
}

// TeacherCacheEntry mirrors StudentCacheEntry for staff.
type TeacherCacheEntry struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	PhotoURL string `json:"photo_url,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// RosterPayload is what a roster pull returns from the backend.
type RosterPayload struct {
	Students    []StudentCacheEntry `json:"students"`
	Teachers    []TeacherCacheEntry `json:"teachers"`
	Tags        []Tag               `json:"tags"`
	TodayEvents []QueueEvent        `json:"today_events"`
}

// ResolvedPersonType discriminates resolver results.
type ResolvedPersonType string

const (
	ResolvedStudent ResolvedPersonType = "student"
	ResolvedTeacher ResolvedPersonType = "teacher"
)

// Resolution is a successful credential-to-person match.
type Resolution struct {
	Type    ResolvedPersonType `json:"type"`
	Student *StudentCacheEntry `json:"student,omitempty"`
	Teacher *TeacherCacheEntry `json:"teacher,omitempty"`
	Tag     *Tag               `json:"tag,omitempty"`
}
