package server

import (
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/darkace1998/content-transformer/internal/options"
	"github.com/darkace1998/content-transformer/internal/registry"
)

const pageStyle = `
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #1a1a2e; color: #eee; line-height: 1.6; }
        .container { max-width: 1400px; margin: 0 auto; padding: 20px; }
        h1 { color: #00d9ff; margin-bottom: 10px; }
        h2 { color: #00d9ff; margin: 20px 0 15px 0; font-size: 1.3em; border-bottom: 1px solid #333; padding-bottom: 10px; }
        .version { color: #888; font-size: 0.9em; }
        .card { background: #16213e; border-radius: 8px; padding: 20px; box-shadow: 0 2px 10px rgba(0,0,0,0.3); margin-bottom: 20px; }
        .form-group { margin-bottom: 15px; }
        label { display: block; margin-bottom: 5px; color: #aaa; font-size: 0.9em; }
        input, select { width: 100%; padding: 10px 12px; border: 1px solid #333; border-radius: 4px; background: #0f0f23; color: #fff; font-size: 1em; }
        .btn { padding: 10px 20px; border: none; border-radius: 4px; cursor: pointer; font-size: 0.9em; }
        .btn-primary { background: #00d9ff; color: #000; font-weight: bold; }
        .table { width: 100%; border-collapse: collapse; margin-top: 10px; font-size: 0.9em; }
        .table th, .table td { padding: 10px 8px; text-align: left; border-bottom: 1px solid #333; vertical-align: top; }
        .table th { color: #aaa; font-weight: normal; font-size: 0.85em; }
        .badge { padding: 3px 8px; border-radius: 3px; font-size: 0.8em; }
        .badge-ok { background: #1b4332; color: #95d5b2; }
        .badge-failed { background: #5c2323; color: #f8d7da; }
        a { color: #00d9ff; }`

// testFormTemplate is the manual test page served at the root path
var testFormTemplate = template.Must(template.New("testform").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Content Transformer - Test Transformation</title>
    <style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
    <h1>Content Transformer</h1>
    <div class="version">{{.Host}} &middot; version {{.Version}} &middot; <a href="/log">log</a> &middot; <a href="/transform/config">config</a></div>
    <h2>Test Transformation</h2>
    <div class="card">
        <form method="post" action="/transform" enctype="multipart/form-data">
            <div class="form-group"><label for="file">File</label><input type="file" id="file" name="file" required /></div>
            <div class="form-group"><label for="sourceMimetype">Source mimetype</label>
                <select id="sourceMimetype" name="sourceMimetype">
                    <option value="">(from upload)</option>
                    {{range .Sources}}<option value="{{.}}">{{.}}</option>{{end}}
                </select>
            </div>
            <div class="form-group"><label for="targetMimetype">Target mimetype</label>
                <select id="targetMimetype" name="targetMimetype">
                    {{range .Targets}}<option value="{{.}}">{{.}}</option>{{end}}
                </select>
            </div>
            <div class="form-group"><label for="targetExtension">Target extension</label><input type="text" id="targetExtension" name="targetExtension" /></div>
            <div class="form-group"><label for="timeout">Timeout (ms)</label><input type="number" id="timeout" name="timeout" min="1" /></div>
            {{range .Options}}<div class="form-group"><label for="opt-{{.}}">{{.}}</label><input type="text" id="opt-{{.}}" name="{{.}}" /></div>
            {{end}}
            <button class="btn btn-primary" type="submit">Transform</button>
        </form>
    </div>
</div>
</body>
</html>`))

// logTemplate renders the transformation log as a table
var logTemplate = template.Must(template.New("log").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8" />
    <title>Content Transformer - Log</title>
    <style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
    <h1>Transformation Log</h1>
    <div class="version">{{.Host}} &middot; <a href="/">test transformation</a></div>
    <div class="card">
        <table class="table">
            <tr><th>#</th><th>Status</th><th>End</th><th>Duration (ms)</th><th>Source</th><th>Target</th><th>Transformer</th><th>Options</th><th>Message</th></tr>
            {{range .Entries}}
            <tr>
                <td>{{.SequenceNumber}}</td>
                <td><span class="badge {{if eq .StatusCode 200}}badge-ok{{else}}badge-failed{{end}}">{{.StatusCode}}</span></td>
                <td>{{.EndTime.Format "2006-01-02 15:04:05.000"}}</td>
                <td>{{.Duration}} ({{.RequestHandling}} / {{.Transformation}} / {{.ResponseHandling}})</td>
                <td>{{.SourceMimetype}} ({{.SourceSize}} bytes)</td>
                <td>{{.TargetMimetype}} ({{.ResultSize}} bytes)</td>
                <td>{{.WorkerName}}</td>
                <td>{{range $k, $v := .Options}}{{$k}}={{$v}}<br/>{{end}}</td>
                <td>{{.StatusMessage}}</td>
            </tr>
            {{else}}
            <tr><td colspan="9">No transformations yet</td></tr>
            {{end}}
        </table>
    </div>
</div>
</body>
</html>`))

// testFormData is the data rendered by testFormTemplate
type testFormData struct {
	Host    string
	Version string
	Sources []string
	Targets []string
	Options []string
}

// ServeTestForm serves a form for running transformations by hand at the root path
func (s *Server) ServeTestForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Only serve root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := testFormTemplate.Execute(w, s.testFormData())
	if err != nil {
		slog.Error("Failed to render test form template", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// testFormData lists the mimetypes and option names of the exported configuration.
func (s *Server) testFormData() testFormData {
	cfg := s.registry.ExportConfig()

	sources := make(map[string]bool)
	targets := make(map[string]bool)
	for _, d := range cfg.Transformers {
		for _, st := range d.SupportedSourceAndTargetList {
			sources[st.SourceMimetype] = true
			targets[st.TargetMimetype] = true
		}
	}
	names := make(map[string]bool)
	for _, elements := range cfg.TransformOptions {
		for _, name := range optionNames(elements) {
			names[name] = true
		}
	}

	return testFormData{
		Host:    s.log.Host(),
		Version: s.settings.Version,
		Sources: sortedKeys(sources),
		Targets: sortedKeys(targets),
		Options: sortedKeys(names),
	}
}

func (s *Server) serveLogPage(w http.ResponseWriter, _ *http.Request, entries []LogEntry) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := logTemplate.Execute(w, map[string]any{
		"Host":    s.log.Host(),
		"Entries": entries,
	})
	if err != nil {
		slog.Error("Failed to render log template", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func optionNames(elements []registry.OptionElement) []string {
	var names []string
	for _, el := range elements {
		switch e := el.Element.(type) {
		case options.Value:
			names = append(names, e.Name)
		case *options.Group:
			for _, v := range e.Values() {
				names = append(names, v.Name)
			}
		}
	}
	return names
}
