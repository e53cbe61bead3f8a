package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ironsupr/AutoDeployHub/internal/docker"
	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
	"github.com/ironsupr/AutoDeployHub/internal/service/deploy"
	"github.com/ironsupr/AutoDeployHub/internal/service/workload"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAttempt responds with a finished attempt; failed attempts map to 422.
func writeAttempt(w http.ResponseWriter, attempt *domain.Attempt) {
	status := http.StatusOK
	if attempt.Status != domain.AttemptSuccess {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, attempt)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, docker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, deploy.ErrDeploymentInProgress), errors.Is(err, workload.ErrDuplicateRepo), errors.Is(err, workload.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, deploy.ErrInvalidRollbackTarget), workload.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		writeError(w, status, "not found")
		return
	}
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}
