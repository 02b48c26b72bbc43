package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter handles error presentation and status code
// determination for HTTP handlers.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates a new HTTP error adapter. A nil logger
// falls back to slog.Default().
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the standard JSON error payload.
type HTTPErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusCodeFor maps an error's category onto an HTTP status code.
// Unclassified errors map to 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		switch bge.Category {
		case CategoryValidation, CategoryConfig:
			return http.StatusBadRequest
		case CategorySession, CategoryUnit:
			return http.StatusUnprocessableEntity
		case CategoryDaemon:
			return http.StatusServiceUnavailable
		case CategoryJournal, CategoryInternal:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes a JSON error response and logs the error at
// its severity's level.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	b, jerr := json.Marshal(payload)
	if jerr != nil {
		// Fall back to a minimal message
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)

	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		a.logger.Log(r.Context(), slogLevelFromSeverity(bge.Severity), bge.Error())
		return
	}
	a.logger.Error(err.Error())
}

// FormatErrorResponse converts an error into the canonical payload.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		resp := HTTPErrorResponse{Error: bge.Message, Code: string(bge.Category)}
		if len(bge.Context) > 0 {
			resp.Details = map[string]any(bge.Context)
		}
		return resp
	}
	return HTTPErrorResponse{Error: err.Error()}
}
