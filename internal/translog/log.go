// Package translog keeps the audit trail of transformation requests.
//
// A request opens an entry with StartNewEntry, which binds it to the returned context. The
// entry is filled in along the request's call chain and closed with CloseCurrentEntry, which
// appends an immutable copy to a bounded in-memory history.
package translog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrEntryOpen     = errors.New("a transformation log entry is already open for this request")
	ErrNoEntry       = errors.New("no transformation log entry is open for this request")
	ErrNotStarted    = errors.New("start of transformation has not been marked")
	ErrAlreadyMarked = errors.New("already marked")
)

// StateError reports a misuse of the entry lifecycle.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

type contextKey struct{}

type handle struct {
	log   *Log
	entry *MutableEntry
}

// Log is the transformation log of one engine.
type Log struct {
	host       string
	maxEntries int
	now        func() time.Time
	sequence   atomic.Int64

	mu      sync.Mutex
	entries []Entry
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a log for host keeping at most maxEntries closed entries.
func New(host string, maxEntries int, opts ...Option) (*Log, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("transformation log capacity must be at least 1, got %d", maxEntries)
	}
	l := &Log{host: host, maxEntries: maxEntries, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Host returns the host name recorded on every entry.
func (l *Log) Host() string { return l.host }

// StartNewEntry opens an entry and binds it to the returned context.
func (l *Log) StartNewEntry(ctx context.Context) (context.Context, *MutableEntry, error) {
	if h, ok := ctx.Value(contextKey{}).(*handle); ok && h.log == l && h.entry != nil {
		return ctx, nil, &StateError{Op: "start new entry", Err: ErrEntryOpen}
	}
	entry := newMutableEntry(l.host, l.sequence.Add(1), l.now)
	return context.WithValue(ctx, contextKey{}, &handle{log: l, entry: entry}), entry, nil
}

// CurrentEntry returns the entry bound to ctx by this log, if it is still open.
func (l *Log) CurrentEntry(ctx context.Context) (*MutableEntry, bool) {
	h, ok := ctx.Value(contextKey{}).(*handle)
	if !ok || h.log != l || h.entry == nil {
		return nil, false
	}
	return h.entry, true
}

// CloseCurrentEntry closes the entry bound to ctx, appends it to the history and unbinds it.
func (l *Log) CloseCurrentEntry(ctx context.Context) (Entry, error) {
	h, ok := ctx.Value(contextKey{}).(*handle)
	if !ok || h.log != l || h.entry == nil {
		return Entry{}, &StateError{Op: "close current entry", Err: ErrNoEntry}
	}
	closed := h.entry.close()
	h.entry = nil

	l.mu.Lock()
	l.entries = append(l.entries, closed)
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.mu.Unlock()

	closed.Options = maps.Clone(closed.Options)
	return closed, nil
}

// MostRecentEntries returns up to count closed entries, newest first.
func (l *Log) MostRecentEntries(count int) []Entry {
	return l.mostRecent(count, func(Entry) bool { return true })
}

// MostRecentHostEntries is MostRecentEntries restricted to entries recorded by this host.
func (l *Log) MostRecentHostEntries(count int) []Entry {
	return l.mostRecent(count, func(e Entry) bool { return e.Host == l.host })
}

func (l *Log) mostRecent(count int, keep func(Entry) bool) []Entry {
	if count <= 0 {
		return []Entry{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, min(count, len(l.entries)))
	for i := len(l.entries) - 1; i >= 0 && len(out) < count; i-- {
		if keep(l.entries[i]) {
			e := l.entries[i]
			e.Options = maps.Clone(e.Options)
			out = append(out, e)
		}
	}
	return out
}

// EntryFromContext returns the open entry bound to ctx by any log.
func EntryFromContext(ctx context.Context) (*MutableEntry, bool) {
	h, ok := ctx.Value(contextKey{}).(*handle)
	if !ok || h.entry == nil {
		return nil, false
	}
	return h.entry, true
}
