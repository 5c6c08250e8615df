package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"charasync/internal/domain"
	"charasync/internal/usecase"
)

const maxBodyBytes = 8 << 20

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "peer not found")
	case errors.Is(err, domain.ErrDisposed):
		writeError(w, http.StatusConflict, "disposed", "pair disposed")
	case errors.Is(err, domain.ErrProvidersUnavailable):
		writeError(w, http.StatusServiceUnavailable, "providers_unavailable", "host providers unavailable")
	case errors.Is(err, domain.ErrSwarmUnavailable):
		writeError(w, http.StatusServiceUnavailable, "swarm_unavailable", "swarm engine unavailable")
	case errors.Is(err, domain.ErrSourceMissing):
		writeError(w, http.StatusUnprocessableEntity, "source_missing", err.Error())
	case errors.Is(err, domain.ErrEntityNotReady):
		writeError(w, http.StatusUnprocessableEntity, "entity_not_ready", "entity not materialized")
	case errors.Is(err, usecase.ErrBuild):
		writeError(w, http.StatusInternalServerError, "build_error", err.Error())
	case errors.Is(err, usecase.ErrSwarm):
		writeError(w, http.StatusInternalServerError, "swarm_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a size-capped body into out. On failure the 400 response
// is already written.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return false
	}
	return true
}

func parsePositiveInt(value string, requirePositive bool) (int, error) {
	if strings.TrimSpace(value) == "" {
		return -1, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if requirePositive && parsed <= 0 {
		return 0, errors.New("must be > 0")
	}
	if !requirePositive && parsed < 0 {
		return 0, errors.New("must be >= 0")
	}
	return parsed, nil
}

// peerPath splits "/peers/{id}[/{action}]".
func peerPath(path string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, "/peers/"), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", false
	}
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action, true
}
