package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/transfer"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/gin-gonic/gin"
)

// TransferService is what the HTTP layer needs from the transfer service.
type TransferService interface {
	StartTransfer(ctx context.Context, trigger domain.Trigger) (*domain.Summary, error)
	Status(ctx context.Context) (*domain.StatusReport, error)
	Runs(ctx context.Context, limit int) ([]domain.Summary, error)
}

type TransferHandler struct {
	service TransferService
}

func NewTransferHandler(service TransferService) *TransferHandler {
	return &TransferHandler{service: service}
}

// GetStatus answers 200 when both stores respond and 502 otherwise; the body is
// the status report either way.
func (h *TransferHandler) GetStatus(c *gin.Context) {
	report, err := h.service.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// StartTransfer blocks until the run ends. The run is not cancelled when the
// client disconnects.
func (h *TransferHandler) StartTransfer(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())

	summary, err := h.service.StartTransfer(ctx, domain.TriggerManual)
	switch {
	case errors.Is(err, transfer.ErrTransferInProgress):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	case err != nil && summary != nil:
		c.JSON(http.StatusBadGateway, summary)
	case err != nil:
		errorResponse(c, http.StatusInternalServerError, "could not start transfer", err)
	default:
		c.JSON(http.StatusOK, summary)
	}
}

func (h *TransferHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := h.service.Runs(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "could not list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func errorResponse(c *gin.Context, statusCode int, message string, err error) {
	logger.Log.Error().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
}
