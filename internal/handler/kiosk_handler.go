package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-kiosk-agent/internal/dto"
	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/service"
	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
	"github.com/noah-isme/sma-kiosk-agent/pkg/response"
)

type syncRunner interface {
	Kick()
	LastSync() time.Time
	UnderPressure() bool
}

// KioskHandler exposes the scan and status surface for the UI shell.
type KioskHandler struct {
	resolver  *service.ResolverService
	queue     *service.QueueService
	roster    *service.RosterService
	sync      syncRunner
	device    config.DeviceConfig
	kiosk     config.KioskConfig
	validator *validator.Validate
}

// NewKioskHandler constructs the handler.
func NewKioskHandler(resolver *service.ResolverService, queue *service.QueueService, roster *service.RosterService, sync syncRunner, device config.DeviceConfig, kiosk config.KioskConfig) *KioskHandler {
	return &KioskHandler{
		resolver:  resolver,
		queue:     queue,
		roster:    roster,
		sync:      sync,
		device:    device,
		kiosk:     kiosk,
		validator: validator.New(),
	}
}

// Scan resolves a credential and, for students, enqueues the derived
// IN/OUT event. Teachers resolve without producing an event.
func (h *KioskHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload"))
		return
	}

	resolution, err := h.resolver.Resolve(req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	if resolution == nil {
		response.Error(c, appErrors.ErrTagNotFound)
		return
	}

	if resolution.Type == models.ResolvedTeacher {
		response.OK(c, dto.ScanResponse{Resolution: resolution})
		return
	}

	student := resolution.Student
	draft := models.EventDraft{
		StudentID: student.ID,
		Type:      h.queue.NextEventTypeFor(student.ID),
		Source:    req.Source,
	}
	if h.kiosk.PhotoEnabled && student.PhotoConsent {
		draft.PhotoData = req.PhotoData
	}
	if draft.PhotoData == "" && student.AudioConsent {
		draft.AudioData = req.AudioData
	}

	event, err := h.queue.Enqueue(draft)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrStoreFull.Code {
			// The event is held in memory; force a pass to free space
			// and tell the operator instead of dropping the record.
			h.sync.Kick()
			response.JSON(c, http.StatusOK, dto.ScanResponse{Resolution: resolution, Event: event},
				map[string]interface{}{"warning": appErrors.ErrStoreFull.Message})
			return
		}
		response.Error(c, err)
		return
	}

	if h.sync.UnderPressure() {
		h.sync.Kick()
	}
	response.Created(c, dto.ScanResponse{Resolution: resolution, Event: event})
}

// EnrollBiometric records a student surfaced by a mid-session biometric
// match so later scans resolve without waiting for the next roster pull.
func (h *KioskHandler) EnrollBiometric(c *gin.Context) {
	var req dto.BiometricEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload"))
		return
	}

	err := h.roster.UpsertStudentFromBiometric(models.StudentCacheEntry{
		ID:       req.StudentID,
		FullName: req.FullName,
		Course:   req.Course,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"student_id": req.StudentID, "enrolled": true})
}

// Status reports device identity, queue depth and cache sizes.
func (h *KioskHandler) Status(c *gin.Context) {
	students, teachers, tags := h.roster.Counts()

	resp := dto.StatusResponse{
		DeviceID:     h.device.DeviceID,
		GateID:       h.device.GateID,
		SchoolName:   h.kiosk.SchoolName,
		Online:       h.device.Online,
		PendingCount: h.queue.PendingCount(),
		QueueLength:  len(h.queue.Events()),
		Students:     students,
		Teachers:     teachers,
		Tags:         tags,
	}
	if last := h.sync.LastSync(); !last.IsZero() {
		resp.LastSyncAt = last.Format(time.RFC3339)
	}
	response.OK(c, resp)
}

// TriggerSync kicks an out-of-band sync pass.
func (h *KioskHandler) TriggerSync(c *gin.Context) {
	h.sync.Kick()
	response.JSON(c, http.StatusAccepted, gin.H{"status": "sync requested"})
}
