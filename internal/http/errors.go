package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/bunk-reservations/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its status and machine-readable code.
// Internal errors are reported without detail.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err), domain.Code(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeBadBody(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request_body"})
}

func statusOf(err error) int {
	switch domain.Classify(err) {
	case domain.KindClient:
		switch domain.Code(err) {
		case "room_not_found", "hold_not_found":
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case domain.KindContention:
		return http.StatusConflict
	case domain.KindState:
		if domain.Code(err) == "hold_expired" {
			return http.StatusGone
		}
		return http.StatusConflict
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
