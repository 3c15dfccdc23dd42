package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.GetLogger().Warn().Err(err).Msg("failed to encode response")
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps the error type to a status code
func respondWithAppError(w http.ResponseWriter, err error) {
	status := statusFor(apperrors.TypeOf(err))
	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok && status != http.StatusInternalServerError {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError || status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
		observability.GetLogger().Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	respondWithJSON(w, status, map[string]string{
		"error": message,
		"type":  string(apperrors.TypeOf(err)),
	})
}

func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeInvalidSchedule:
		return http.StatusBadRequest
	case apperrors.ErrorTypeConflict, apperrors.ErrorTypeSignalingProtocol:
		return http.StatusConflict
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusForbidden
	case apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	case apperrors.ErrorTypePersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// identityFrom reads the caller identity set by the upstream identity subsystem.
// Browsers cannot set headers on websocket upgrades, so query parameters are accepted too.
func identityFrom(r *http.Request) (entities.Identity, bool) {
	id := entities.Identity{
		UserID: r.Header.Get(headerUserID),
		Role:   entities.UserRole(r.Header.Get(headerUserRole)),
	}
	if id.UserID == "" {
		id.UserID = r.URL.Query().Get("userId")
		id.Role = entities.UserRole(r.URL.Query().Get("role"))
	}
	if id.UserID == "" || !id.Role.Valid() {
		return entities.Identity{}, false
	}
	return id, true
}

func isAllowedOrigin(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
