package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	derrors "git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
	"git.home.luguber.info/inful/buildgate/internal/logfields"
	"git.home.luguber.info/inful/buildgate/internal/version"
)

// StatusPageData represents data for status page rendering.
type StatusPageData struct {
	Info        Info                         `json:"info"`
	Session     *eventstore.SessionSummary   `json:"session,omitempty"`
	Registry    RegistrySnapshot             `json:"registry"`
	History     []*eventstore.SessionSummary `json:"history"`
	LastUpdated time.Time                    `json:"last_updated"`
}

// Info holds basic daemon information.
type Info struct {
	State     string    `json:"state"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
}

// handleStatusPage serves the root status page as HTML, or JSON when
// requested via Accept header or ?format=json.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := &StatusPageData{
		Info: Info{
			State:     s.runtime.State(),
			Version:   version.Version,
			StartTime: s.runtime.StartTime(),
			Uptime:    time.Since(s.runtime.StartTime()).Round(time.Second).String(),
		},
		Session:     s.runtime.ActiveSession(),
		Registry:    s.runtime.RegistrySnapshot(),
		History:     s.runtime.SessionHistory(),
		LastUpdated: time.Now().UTC(),
	}

	if r.Header.Get("Accept") == "application/json" || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("Failed to encode status json", logfields.Error(err))
			internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to encode status json")
			s.errorAdapter.WriteErrorResponse(w, r, internalErr)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTmpl.Execute(w, data); err != nil {
		internalErr := derrors.Wrap(err, derrors.CategoryInternal, derrors.SeverityError, "failed to render status page")
		s.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

var statusTmpl = template.Must(template.New("status").Parse(statusHTMLTemplate))

const statusHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Buildgate Status</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 20px; background: #f5f5f5; }
        .container { max-width: 1000px; margin: 0 auto; background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { border-bottom: 2px solid #eee; padding-bottom: 20px; margin-bottom: 30px; }
        .state { display: inline-block; padding: 4px 12px; border-radius: 20px; font-weight: bold; text-transform: uppercase; font-size: 12px; }
        .state.building { background: #fff3cd; color: #856404; }
        .state.idle { background: #d4edda; color: #155724; }
        .state.stopping { background: #f8d7da; color: #721c24; }
        .metrics { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 20px; margin: 30px 0; }
        .metric-card { background: #f8f9fa; padding: 15px; border-radius: 6px; border-left: 4px solid #007bff; }
        .metric-value { font-size: 24px; font-weight: bold; color: #007bff; }
        .metric-label { color: #666; font-size: 14px; margin-top: 4px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #dee2e6; padding: 6px 10px; text-align: left; font-size: 14px; }
        th { background: #f8f9fa; }
        .status-succeeded { color: #155724; }
        .status-failed { color: #721c24; }
        .updated { color: #666; font-size: 12px; text-align: center; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Buildgate</h1>
            <p>
                <span class="state {{.Info.State}}">{{.Info.State}}</span>
                Version {{.Info.Version}} • Uptime: {{.Info.Uptime}}
            </p>
        </div>

        <div class="metrics">
            <div class="metric-card">
                <div class="metric-value">{{len .Registry.Registered}}</div>
                <div class="metric-label">Registered units</div>
            </div>
            <div class="metric-card">
                <div class="metric-value">{{len .Registry.Completed}}</div>
                <div class="metric-label">Completed units</div>
            </div>
            <div class="metric-card">
                <div class="metric-value">{{len .Registry.Pending}}</div>
                <div class="metric-label">Pending units</div>
            </div>
            <div class="metric-card">
                <div class="metric-value">{{len .History}}</div>
                <div class="metric-label">Finished sessions</div>
            </div>
        </div>

        {{if .Session}}
        <h2>Current session</h2>
        <p><code>{{.Session.SessionID}}</code>{{if .Session.Label}} ({{.Session.Label}}){{end}} — {{.Session.Units}} units</p>
        {{end}}

        <h2>Recent sessions</h2>
        {{if .History}}
        <table>
            <tr><th>Session</th><th>Label</th><th>Status</th><th>Units</th><th>Failed</th><th>Duration</th></tr>
            {{range .History}}
            <tr>
                <td><code>{{printf "%.8s" .SessionID}}</code></td>
                <td>{{.Label}}</td>
                <td class="status-{{.Status}}">{{.Status}}</td>
                <td>{{.Units}}</td>
                <td>{{.Failed}}</td>
                <td>{{.Duration}}</td>
            </tr>
            {{end}}
        </table>
        <p><a href="/report">Latest session report</a></p>
        {{else}}
        <p>No finished sessions yet.</p>
        {{end}}

        <div class="updated">Last updated: {{.LastUpdated.Format "2006-01-02 15:04:05 UTC"}}</div>
    </div>
</body>
</html>`
