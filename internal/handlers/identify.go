package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"identityrecon/internal/models"
	"identityrecon/internal/service"
)

// Identifier is the resolver as seen by the transport.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service      Identifier
	log          logrus.FieldLogger
	maxBodyBytes int64
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Identifier, log logrus.FieldLogger, maxBodyBytes int64) *IdentifyHandler {
	return &IdentifyHandler{
		service:      svc,
		log:          log.WithField("component", "http"),
		maxBodyBytes: maxBodyBytes,
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithField("request_id", RequestID(r.Context()))

	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WithError(err).Info("Error decoding request")
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	response, err := h.service.Identify(r.Context(), req)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).Error("Error processing identify request")
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// statusFor maps resolver errors to a status and a client-safe message.
// Only invalid-request messages are passed through verbatim.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, "Identity is busy, retry later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
