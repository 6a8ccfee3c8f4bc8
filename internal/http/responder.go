package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/maintainer"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the body of operation responses and of every error. Health
// and status bodies are written bare.
type envelope struct {
	Result any       `json:"result,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

// writeEnvelope writes result, if any, next to the classified err.
func writeEnvelope(w http.ResponseWriter, result any, err error) {
	body := envelope{Result: result}
	status := http.StatusOK
	if err != nil {
		var code string
		status, code = classify(err)
		body.Error = &apiError{Code: code, Message: err.Error()}
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	var cfgErr *config.Error
	var execErr *maintainer.ScriptExecutionError
	switch {
	case errors.Is(err, maintainer.ErrManualIntervention):
		return http.StatusConflict, "manual_intervention_required"
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, "configuration_error"
	case errors.As(err, &execErr):
		return http.StatusInternalServerError, "script_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}
