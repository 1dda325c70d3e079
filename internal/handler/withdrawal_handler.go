package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-kiosk-agent/internal/dto"
	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/service"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
	"github.com/noah-isme/sma-kiosk-agent/pkg/response"
)

// WithdrawalHandler drives the pickup-authorization flow step by step
// as the operator advances through the UI.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
	metrics     *service.MetricsService
	validator   *validator.Validate
}

// NewWithdrawalHandler constructs the handler.
func NewWithdrawalHandler(withdrawals *service.WithdrawalService, metrics *service.MetricsService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, metrics: metrics, validator: validator.New()}
}

// Start begins a new transaction, superseding any incomplete one.
func (h *WithdrawalHandler) Start(c *gin.Context) {
	var req dto.StartWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid withdrawal payload"))
		return
	}

	switch {
	case req.Token != "":
		pending, err := h.withdrawals.StartByCredential(c.Request.Context(), req.Token)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Created(c, pending)
	case req.Pickup != nil && req.Pickup.ID != "":
		response.Created(c, h.withdrawals.Start(*req.Pickup))
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "either token or pickup is required"))
	}
}

// SelectStudents narrows the authorized list to today's withdrawal.
func (h *WithdrawalHandler) SelectStudents(c *gin.Context) {
	var req dto.SelectStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid selection payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.ErrNoStudentsSelected)
		return
	}

	if err := h.withdrawals.SelectStudents(req.StudentIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.withdrawals.Current())
}

// Initiate opens the withdrawal records on the backend.
func (h *WithdrawalHandler) Initiate(c *gin.Context) {
	if err := h.withdrawals.Initiate(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.withdrawals.Current())
}

// Verify confirms the adult's identity by photo match or override PIN.
func (h *WithdrawalHandler) Verify(c *gin.Context) {
	var req dto.VerifyWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verify payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verify payload"))
		return
	}

	var err error
	if req.Method == string(models.VerificationManualOverride) {
		err = h.withdrawals.VerifyOverride(req.PIN)
	} else {
		err = h.withdrawals.VerifyPhoto(c.Request.Context(), req.PhotoData)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, h.withdrawals.Current())
}

// Complete commits the signature and closes the transaction.
func (h *WithdrawalHandler) Complete(c *gin.Context) {
	var req dto.CompleteWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.ErrSignatureRequired)
		return
	}

	if err := h.withdrawals.Complete(c.Request.Context(), req.SignatureData, req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncWithdrawalsCompleted()
	}
	response.OK(c, h.withdrawals.Current())
}

// Abandon discards the in-flight transaction.
func (h *WithdrawalHandler) Abandon(c *gin.Context) {
	h.withdrawals.Abandon()
	response.NoContent(c)
}

// Current returns the in-flight transaction for the confirmation
// screen.
func (h *WithdrawalHandler) Current(c *gin.Context) {
	pending := h.withdrawals.Current()
	if pending == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no withdrawal in progress"))
		return
	}
	response.OK(c, pending)
}

// Today lists completed withdrawals for immediate display.
func (h *WithdrawalHandler) Today(c *gin.Context) {
	response.OK(c, h.withdrawals.TodayRecords())
}
