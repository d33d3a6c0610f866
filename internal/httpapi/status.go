package httpapi

import (
	"html/template"
	"net/http"
	"sort"

	"github.com/dustin/go-humanize"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Dispatcharr Prometheus Exporter</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2em auto; max-width: 40em; padding: 0 1em; color: #222; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; }
td { padding: 0.25em 1em 0.25em 0; }
td:first-child { color: #666; }
a { color: #0b62a4; }
</style>
</head>
<body>
<h1>Dispatcharr Prometheus Exporter</h1>
<table>
<tr><td>Exporter version</td><td>{{.ExporterVersion}}</td></tr>
<tr><td>Dispatcharr version</td><td>{{.HostVersion}}</td></tr>
<tr><td>Scrape endpoint</td><td><a href="{{.MetricsPath}}">{{.Endpoint}}</a></td></tr>
<tr><td>Started</td><td>{{.Started}}</td></tr>
</table>
{{if .Settings}}<h1>Settings</h1>
<table>
{{range .Settings}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
{{end}}<p><a href="{{.MetricsPath}}">Metrics</a> &middot; <a href="{{.HealthPath}}">Health</a></p>
</body>
</html>
`))

type statusSetting struct {
	Name  string
	Value string
}

type statusData struct {
	ExporterVersion string
	HostVersion     string
	Endpoint        string
	Started         string
	MetricsPath     string
	HealthPath      string
	Settings        []statusSetting
}

func (h *handler) renderStatusPage(w http.ResponseWriter) {
	hostVersion := "unknown"
	if h.cfg.HostVersion != nil {
		hostVersion = h.cfg.HostVersion()
	}
	data := statusData{
		ExporterVersion: h.cfg.ExporterVersion,
		HostVersion:     hostVersion,
		Endpoint:        h.cfg.Endpoint,
		Started:         humanize.Time(h.startedAt),
		MetricsPath:     h.cfg.BaseURL + "/metrics",
		HealthPath:      h.cfg.BaseURL + "/health",
	}
	for name, value := range h.cfg.Settings {
		data.Settings = append(data.Settings, statusSetting{Name: name, Value: value})
	}
	sort.Slice(data.Settings, func(i, j int) bool { return data.Settings[i].Name < data.Settings[j].Name })
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := statusTemplate.Execute(w, data); err != nil {
		h.logger.Debug("httpapi.status.render_failed", "error", err)
	}
}
