package assessment

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/adaptest/backend/internal/engine"
	"github.com/adaptest/backend/internal/models"
	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// getUserID extracts the authenticated user ID from the request context.
func getUserID(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value("user_id").(int64)
	return uid, ok
}

func (h *Handler) StartAssessment(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req models.StartAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.StartAssessment(userID, req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	sessionID := mux.Vars(r)["id"]

	var req models.SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.ItemID <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "item_id is required"})
		return
	}

	resp, err := h.service.SubmitResponse(userID, sessionID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	resp, err := h.service.GetProgress(userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AbortAssessment(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	resp, err := h.service.Abort(userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAbilities(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	resp, err := h.service.GetAbilities(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps service errors onto HTTP statuses. A terminated session is
// a conflict the caller must not blindly retry.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
	case errors.Is(err, engine.ErrSessionNotContinuing):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Session is no longer continuing"})
	case errors.Is(err, engine.ErrDuplicateResponse):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Response already recorded for this item"})
	case errors.Is(err, ErrItemNotInSession), errors.Is(err, ErrNoTopic):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	default:
		log.Printf("WARN: [assessment] request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
