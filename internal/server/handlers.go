package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/darkace1998/content-transformer/internal/logger"
	"github.com/darkace1998/content-transformer/internal/translog"
)

const defaultLogCount = 25

// handleConfig serves the exported engine configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := s.registry.WriteConfig(w)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to write transform config", "error", err)
	}
}

// LogEntry is the JSON form of a closed transformation log entry. Durations are in
// milliseconds, -1 when unknown.
type LogEntry struct {
	Host             string            `json:"host"`
	SequenceNumber   int64             `json:"sequenceNumber"`
	StartTime        time.Time         `json:"startTime"`
	EndTime          time.Time         `json:"endTime"`
	StatusCode       int               `json:"statusCode"`
	StatusMessage    string            `json:"statusMessage,omitempty"`
	RequestHandling  int64             `json:"requestHandlingMs"`
	Transformation   int64             `json:"transformationMs"`
	ResponseHandling int64             `json:"responseHandlingMs"`
	Duration         int64             `json:"durationMs"`
	SourceMimetype   string            `json:"sourceMimetype,omitempty"`
	SourceSize       int64             `json:"sourceSize"`
	TargetMimetype   string            `json:"targetMimetype,omitempty"`
	ResultSize       int64             `json:"resultSize"`
	WorkerName       string            `json:"transformerName,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
}

func newLogEntry(e translog.Entry) LogEntry {
	return LogEntry{
		Host:             e.Host,
		SequenceNumber:   e.SequenceNumber,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		StatusCode:       e.StatusCode,
		StatusMessage:    e.StatusMessage,
		RequestHandling:  millis(e.RequestHandling),
		Transformation:   millis(e.Transformation),
		ResponseHandling: millis(e.ResponseHandling),
		Duration:         millis(e.Duration()),
		SourceMimetype:   e.SourceMimetype,
		SourceSize:       e.SourceSize,
		TargetMimetype:   e.TargetMimetype,
		ResultSize:       e.ResultSize,
		WorkerName:       e.WorkerName,
		Options:          e.Options,
	}
}

func millis(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

// handleLog lists the most recent transformations of this host, as JSON or, for browsers,
// as an HTML table.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := defaultLogCount
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "count must be a non-negative integer", http.StatusBadRequest)
			return
		}
		count = n
	}

	entries := s.log.MostRecentHostEntries(count)
	view := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		view = append(view, newLogEntry(e))
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		s.serveLogPage(w, r, view)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(view)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to encode log entries", "error", err)
	}
}

// handleVersion reports the engine version as plain text.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := w.Write([]byte(s.settings.Version))
	if err != nil {
		slog.Warn("Failed to write version", "error", err)
	}
}
