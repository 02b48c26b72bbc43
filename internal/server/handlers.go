package server

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/report"
	"git.home.luguber.info/inful/buildgate/internal/version"
)

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	State     string    `json:"state,omitempty"`
}

// StatusResponse represents the daemon status API response.
type StatusResponse struct {
	State     string                     `json:"state"`
	Version   string                     `json:"version"`
	StartTime time.Time                  `json:"start_time"`
	Uptime    string                     `json:"uptime"`
	Session   *eventstore.SessionSummary `json:"session,omitempty"`
	Registry  RegistrySnapshot           `json:"registry"`
}

// SessionsResponse lists recent sessions, newest first.
type SessionsResponse struct {
	Status    string                       `json:"status"`
	Sessions  []*eventstore.SessionSummary `json:"sessions"`
	Timestamp time.Time                    `json:"timestamp"`
}

// TriggerResponse represents the response for build trigger requests.
type TriggerResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(s.runtime.StartTime()).Seconds(),
		State:     s.runtime.State(),
	}

	if err := writeJSONPretty(w, r, http.StatusOK, health); err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to write health response")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	status := &StatusResponse{
		State:     s.runtime.State(),
		Version:   version.Version,
		StartTime: s.runtime.StartTime(),
		Uptime:    time.Since(s.runtime.StartTime()).Round(time.Second).String(),
		Session:   s.runtime.ActiveSession(),
		Registry:  s.runtime.RegistrySnapshot(),
	}

	if err := writeJSONPretty(w, r, http.StatusOK, status); err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to write status response")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	sessions := s.runtime.SessionHistory()
	if sessions == nil {
		sessions = []*eventstore.SessionSummary{}
	}
	resp := &SessionsResponse{
		Status:    "ok",
		Sessions:  sessions,
		Timestamp: time.Now().UTC(),
	}

	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to write sessions response")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "POST")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	resp := &TriggerResponse{Status: "triggered", Timestamp: time.Now().UTC()}
	if !s.runtime.TriggerBuild("api") {
		resp.Status = "already_queued"
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to write trigger response")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		err := derrors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", "GET")
		s.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	rep := s.runtime.LatestReport()
	if rep == nil {
		_ = writeJSON(w, http.StatusNotFound,
			derrors.HTTPErrorResponse{Error: "no completed build session yet"})
		return
	}

	body, err := report.HTML(rep)
	if err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to render session report")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
		return
	}

	title := rep.Label
	if title == "" {
		title = rep.SessionID
	}
	data := reportPageData{
		Title:       title,
		Body:        template.HTML(body), // #nosec G203 -- rendered from our own report markdown
		GeneratedAt: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reportTmpl.Execute(w, data); err != nil {
		s.log.Error("Failed to render report page", logfields.Error(err))
	}
}

// writeJSON serializes v into an intermediate buffer first so a failed
// encode never sends a partial response body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// writeJSONPretty pretty-prints when the request carries pretty=1 or
// pretty=true, falling back to compact form on marshal failure.
func writeJSONPretty(w http.ResponseWriter, r *http.Request, status int, v any) error {
	if r != nil {
		if p := r.URL.Query().Get("pretty"); p == "1" || p == "true" {
			b, err := json.MarshalIndent(v, "", "  ")
			if err == nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(status)
				_, werr := w.Write(append(b, '\n'))
				return werr
			}
		}
	}
	return writeJSON(w, status, v)
}

type reportPageData struct {
	Title       string
	Body        template.HTML
	GeneratedAt time.Time
}

var reportTmpl = template.Must(template.New("report").Parse(reportPageTemplate))

const reportPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Build report — {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 20px; background: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; background: white; padding: 20px 30px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        table { border-collapse: collapse; width: 100%; margin: 15px 0; }
        th, td { border: 1px solid #dee2e6; padding: 6px 10px; text-align: left; font-size: 14px; }
        th { background: #f8f9fa; }
        code { background: #f8f9fa; padding: 1px 4px; border-radius: 3px; font-size: 13px; }
        pre { background: #f8f9fa; padding: 10px; border-radius: 6px; overflow-x: auto; }
        .updated { color: #666; font-size: 12px; text-align: center; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        {{.Body}}
        <div class="updated">Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}</div>
    </div>
</body>
</html>`
