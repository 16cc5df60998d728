package httpinterface

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-settlement/internal/core/application/relay"
	"github.com/tdex-network/tdex-settlement/internal/core/domain"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errUnauthorized   = errors.New("missing or invalid operator token")
)

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// statusOf maps an error to its http status and class label.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidRequest), domain.IsValidationError(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case domain.IsAttestationError(err):
		return http.StatusForbidden, "attestation"
	case domain.IsNotFoundError(err):
		return http.StatusNotFound, "not_found"
	case domain.IsStateError(err):
		return http.StatusConflict, "state"
	case errors.Is(err, domain.ErrUnknownChainPair):
		return http.StatusUnprocessableEntity, "routing"
	case errors.Is(err, relay.ErrDeliveryFailed),
		errors.Is(err, relay.ErrDeliveryOutcomeUnknown):
		return http.StatusBadGateway, "delivery"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, class := statusOf(err)
	entry := log.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Class: class})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}
