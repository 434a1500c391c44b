package translog

import (
	"maps"
	"time"
)

// Unknown marks a duration that was never measured.
const Unknown time.Duration = -1

// Entry is a closed, immutable record of one request.
type Entry struct {
	Host           string
	SequenceNumber int64
	StartTime      time.Time
	EndTime        time.Time
	StatusCode     int
	StatusMessage  string

	RequestHandling  time.Duration
	Transformation   time.Duration
	ResponseHandling time.Duration

	SourceMimetype string
	SourceSize     int64
	TargetMimetype string
	ResultSize     int64
	WorkerName     string
	Options        map[string]string
}

// MutableEntry is the open entry of a request in progress. It belongs to the goroutine handling
// the request and is not safe for concurrent use.
type MutableEntry struct {
	e     Entry
	now   func() time.Time
	ended bool
}

func newMutableEntry(host string, seq int64, now func() time.Time) *MutableEntry {
	return &MutableEntry{
		now: now,
		e: Entry{
			Host:             host,
			SequenceNumber:   seq,
			StartTime:        now(),
			RequestHandling:  Unknown,
			Transformation:   Unknown,
			ResponseHandling: Unknown,
			SourceSize:       -1,
			ResultSize:       -1,
		},
	}
}

func (m *MutableEntry) SequenceNumber() int64 { return m.e.SequenceNumber }
func (m *MutableEntry) StatusCode() int       { return m.e.StatusCode }

// SetStatus records the outcome; the message may be empty.
func (m *MutableEntry) SetStatus(code int, message string) {
	m.e.StatusCode = code
	m.e.StatusMessage = message
}

// MarkStartOfTransformation ends the request handling phase.
func (m *MutableEntry) MarkStartOfTransformation() error {
	if m.e.RequestHandling != Unknown {
		return &StateError{Op: "mark start of transformation", Err: ErrAlreadyMarked}
	}
	m.e.RequestHandling = m.now().Sub(m.e.StartTime)
	return nil
}

// MarkEndOfTransformation ends the transformation phase. The start must have been marked.
func (m *MutableEntry) MarkEndOfTransformation() error {
	if m.e.RequestHandling == Unknown {
		return &StateError{Op: "mark end of transformation", Err: ErrNotStarted}
	}
	if m.ended {
		return &StateError{Op: "mark end of transformation", Err: ErrAlreadyMarked}
	}
	m.e.Transformation = m.now().Sub(m.e.StartTime.Add(m.e.RequestHandling))
	m.ended = true
	return nil
}

// TransformationEnded reports whether MarkEndOfTransformation succeeded.
func (m *MutableEntry) TransformationEnded() bool { return m.ended }

func (m *MutableEntry) RecordRequestValues(sourceMimetype string, sourceSize int64, targetMimetype string, options map[string]string) {
	m.e.SourceMimetype = sourceMimetype
	m.e.SourceSize = sourceSize
	m.e.TargetMimetype = targetMimetype
	m.e.Options = maps.Clone(options)
}

func (m *MutableEntry) RecordSelectedWorker(name string) { m.e.WorkerName = name }
func (m *MutableEntry) RecordResultSize(size int64)      { m.e.ResultSize = size }

func (m *MutableEntry) close() Entry {
	closed := m.e
	closed.EndTime = m.now()
	if closed.RequestHandling != Unknown && closed.Transformation != Unknown {
		closed.ResponseHandling = closed.EndTime.Sub(closed.StartTime.Add(closed.RequestHandling + closed.Transformation))
	}
	closed.Options = maps.Clone(m.e.Options)
	return closed
}

// Duration is the total time between opening and closing the entry.
func (e Entry) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}
