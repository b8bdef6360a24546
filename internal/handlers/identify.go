package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"identityrecon/internal/models"
	"identityrecon/internal/service"
)

// Identifier resolves an identify request to its consolidated contact.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service Identifier
	logger  *slog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Identifier, logger *slog.Logger) *IdentifyHandler {
	return &IdentifyHandler{service: svc, logger: logger}
}

// ErrorResponse is the body returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFrom(ctx)

	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.InfoContext(ctx, "invalid identify request body", "error", err, "request_id", requestID)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: "Request body must be a JSON object with 'email' and/or 'phoneNumber'.",
		})
		return
	}

	// At least one of email or phoneNumber must be provided
	if isBlank(req.Email) && isBlank(req.PhoneNumber) {
		writeMissingIdentifier(w)
		return
	}

	response, err := h.service.Identify(ctx, req)
	if err != nil {
		if errors.Is(err, service.ErrMissingIdentifier) {
			writeMissingIdentifier(w)
			return
		}
		h.logger.ErrorContext(ctx, "identify failed", "error", err, "request_id", requestID)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Internal Server Error",
			Message: "Something went wrong. Please try again.",
		})
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func writeMissingIdentifier(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Bad Request",
		Message: "Provide at least one of 'email' or 'phoneNumber'.",
	})
}

func isBlank(v *string) bool {
	return v == nil || *v == ""
}

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding error cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}
