package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/transfer"
)

// TransferManager is the part of transfer.Manager the API drives.
type TransferManager interface {
	Start(req models.TransferRequest) (models.TransferSnapshot, error)
	Stop() bool
	Status() models.TransferSnapshot
	Logs() []string
}

type TransferHandler struct {
	manager    TransferManager
	statusTail int
	logger     zerolog.Logger
}

// NewTransferHandler serves the /transfer endpoints. statusTail bounds the log
// lines included in a status response.
func NewTransferHandler(manager TransferManager, statusTail int, logger zerolog.Logger) *TransferHandler {
	return &TransferHandler{
		manager:    manager,
		statusTail: statusTail,
		logger:     logger.With().Str("component", "transfer_handler").Logger(),
	}
}

func (h *TransferHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	snap, err := h.manager.Start(req)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, transfer.ErrJobAlreadyRunning):
			writeError(w, http.StatusConflict, "Transfer already in progress")
		default:
			h.logger.Error().Err(err).Msg("failed to start transfer")
			writeError(w, http.StatusInternalServerError, "Failed to start transfer: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, models.StartTransferResponse{
		Message:    "Transfer started successfully",
		TransferID: snap.ID,
		Status:     "started",
	})
}

func (h *TransferHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status().StatusResponse(h.statusTail))
}

func (h *TransferHandler) Stop(w http.ResponseWriter, r *http.Request) {
	msg := "No transfer is currently running"
	if h.manager.Stop() {
		msg = "Transfer stop requested"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *TransferHandler) Logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"logs": h.manager.Logs()})
}
