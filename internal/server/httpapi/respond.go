package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status and a client-facing
// message.
func statusFor(err error) (int, errorResponse) {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field}
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found"}
	case errors.Is(err, common.ErrPermission):
		return http.StatusForbidden, errorResponse{Error: "permission denied"}
	case errors.Is(err, common.ErrOwnership):
		return http.StatusForbidden, errorResponse{Error: "device and group have different owners"}
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized"}
	case errors.Is(err, common.ErrStorageIntegrity):
		return http.StatusConflict, errorResponse{Error: common.IntegrityErrorMessage}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug(r.Context(), "request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	return nil
}
