package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/composite"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/metrics"
	"github.com/darkace1998/content-transformer/internal/options"
	"github.com/darkace1998/content-transformer/internal/registry"
	"github.com/darkace1998/content-transformer/internal/transformer"
	"github.com/darkace1998/content-transformer/internal/translog"
)

// scriptedTransformer converts text/plain to application/x-test by running fn.
type scriptedTransformer struct {
	name string
	fn   func(ctx context.Context, req *registry.Request) error
}

func (f *scriptedTransformer) Name() string             { return f.name }
func (f *scriptedTransformer) OptionProfiles() []string { return nil }
func (f *scriptedTransformer) SupportedTransformations() []capability.SupportedTransformation {
	return []capability.SupportedTransformation{
		{SourceMimetype: "text/plain", TargetMimetype: "application/x-test", MaxSourceSizeBytes: -1, Priority: 50},
	}
}

func (f *scriptedTransformer) Transform(ctx context.Context, req *registry.Request) error {
	return f.fn(ctx, req)
}

type testServer struct {
	*Server
	log     *translog.Log
	handler http.Handler
}

// newTestServer boots the built-in default configuration plus overrides, registering extra
// transformers after the configured ones.
func newTestServer(t *testing.T, overrides map[string]string, extra ...registry.Transformer) *testServer {
	t.Helper()

	props, err := config.Defaults()
	require.NoError(t, err)
	props.Set(config.KeyTempDir, t.TempDir())
	props.Set(config.KeyHost, "test-host")
	props.Set(config.KeyVersion, "1.2.3")
	props.Merge(config.FromMap(overrides))

	settings, err := config.NewSettings(props)
	require.NoError(t, err)
	schema, err := options.Build(props)
	require.NoError(t, err)
	store, err := composite.Load(props)
	require.NoError(t, err)
	reg, err := registry.New(schema, props, store)
	require.NoError(t, err)

	workers, err := transformer.Build(props)
	require.NoError(t, err)
	for _, w := range workers.Transformers {
		require.NoError(t, reg.RegisterTransformer(w))
	}
	for _, e := range workers.Extracters {
		require.NoError(t, reg.RegisterMetadataExtracter(e))
	}
	for _, w := range extra {
		require.NoError(t, reg.RegisterTransformer(w))
	}

	tlog, err := translog.New(settings.Host, settings.LogMaxEntries)
	require.NoError(t, err)
	live, err := LoadProbes(props, ProbeLive)
	require.NoError(t, err)
	ready, err := LoadProbes(props, ProbeReady)
	require.NoError(t, err)

	s := New(Options{
		Registry: reg,
		Log:      tlog,
		Settings: settings,
		Metrics:  metrics.NewWithRegisterer(prometheus.NewRegistry()),
		Live:     live,
		Ready:    ready,
	})
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return &testServer{Server: s, log: tlog, handler: s.Handler()}
}

func (ts *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)
	return rec
}

// transformRequest builds a multipart POST /transform; a nil content skips the file part.
func transformRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transform", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func lastEntry(t *testing.T, log *translog.Log) translog.Entry {
	t.Helper()
	entries := log.MostRecentEntries(1)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestTransformMarkdownToHTML(t *testing.T) {
	ts := newTestServer(t, nil)
	source := []byte("# Hello\n\nWorld\n")

	rec := ts.do(transformRequest(t, "notes.md", source, map[string]string{
		"sourceMimetype":  "text/markdown",
		"targetMimetype":  "text/html",
		"targetExtension": "html",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=notes.html`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "<h1>Hello</h1>")
	assert.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	entry := lastEntry(t, ts.log)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Equal(t, "markdown", entry.WorkerName)
	assert.Equal(t, "test-host", entry.Host)
	assert.Equal(t, int64(len(source)), entry.SourceSize)
	assert.Equal(t, int64(rec.Body.Len()), entry.ResultSize)
	assert.Equal(t, "text/markdown", entry.SourceMimetype)
	assert.NotEqual(t, translog.Unknown, entry.Transformation)

	leftovers, err := os.ReadDir(ts.workspace.Root())
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestTransformNonASCIIFileName(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(transformRequest(t, "straße.md", []byte("text"), map[string]string{
		"sourceMimetype":  "text/markdown",
		"targetMimetype":  "text/html",
		"targetExtension": "html",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename*=utf-8''stra%C3%9Fe.html`, rec.Header().Get("Content-Disposition"))
}

func TestTransformRejections(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		fields  map[string]string
		message string
	}{
		{
			name:    "no file",
			fields:  map[string]string{"sourceMimetype": "text/markdown", "targetMimetype": "text/html"},
			message: "Required request part 'file' is not present",
		},
		{
			name:    "no target mimetype",
			content: []byte("x"),
			fields:  map[string]string{"sourceMimetype": "text/markdown"},
			message: "Request parameter 'targetMimetype' is missing",
		},
		{
			name:    "unsupported pair",
			content: []byte("x"),
			fields:  map[string]string{"sourceMimetype": "text/markdown", "targetMimetype": "image/png"},
			message: noWorkerMessage,
		},
		{
			name:    "unknown option",
			content: []byte("x"),
			fields: map[string]string{
				"sourceMimetype":  "text/markdown",
				"targetMimetype":  "text/html",
				"targetExtension": "html",
				"pageLimit":       "3",
			},
			message: noWorkerMessage,
		},
		{
			name:    "invalid option value",
			content: []byte("<h1>x</h1>"),
			fields: map[string]string{
				"sourceMimetype":  "text/html",
				"targetMimetype":  "text/markdown",
				"targetExtension": "md",
				"headingStyle":    "fancy",
			},
			message: "headingStyle",
		},
		{
			name:    "bad timeout",
			content: []byte("x"),
			fields: map[string]string{
				"sourceMimetype":  "text/markdown",
				"targetMimetype":  "text/html",
				"targetExtension": "html",
				"timeout":         "soon",
			},
			message: "Request parameter 'timeout'",
		},
		{
			name:    "overflowing timeout",
			content: []byte("x"),
			fields: map[string]string{
				"sourceMimetype":  "text/markdown",
				"targetMimetype":  "text/html",
				"targetExtension": "html",
				"timeout":         "9223372036854775807",
			},
			message: "Request parameter 'timeout' must be a positive number of milliseconds",
		},
		{
			name:    "timeout reaches work dir age",
			content: []byte("x"),
			fields: map[string]string{
				"sourceMimetype":  "text/markdown",
				"targetMimetype":  "text/html",
				"targetExtension": "html",
				"timeout":         "3600000",
			},
			message: "Request parameter 'timeout' must be less than 3600000ms",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			rec := ts.do(transformRequest(t, "in.txt", tt.content, tt.fields))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			entry := lastEntry(t, ts.log)
			assert.Equal(t, http.StatusBadRequest, entry.StatusCode)
			assert.Contains(t, entry.StatusMessage, tt.message)
		})
	}
}

func TestTransformBlankOptionsAreIgnored(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(transformRequest(t, "in.md", []byte("*a*"), map[string]string{
		"sourceMimetype":  "text/markdown",
		"targetMimetype":  "text/html",
		"targetExtension": "html",
		"pageLimit":       "  ",
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, lastEntry(t, ts.log).Options)
}

func TestTransformSourceMimetypeFromPart(t *testing.T) {
	ts := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("targetMimetype", "text/html"))
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="in.md"`}
	h["Content-Type"] = []string{"text/markdown"}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("# T"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/transform", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/markdown", lastEntry(t, ts.log).SourceMimetype)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "in.htm")
}

func TestTransformExtractsMetadata(t *testing.T) {
	ts := newTestServer(t, nil)
	page := `<html lang="de"><head><title>Bericht</title><meta name="author" content="Ada"></head><body></body></html>`

	rec := ts.do(transformRequest(t, "page.html", []byte(page), map[string]string{
		"sourceMimetype": "text/html",
		"targetMimetype": registry.ExtractTarget,
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var metadata map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, "Bericht", metadata["title"])
	assert.Equal(t, "Ada", metadata["author"])
	assert.Equal(t, "de", metadata["language"])
	assert.Equal(t, "htmlMetadata", lastEntry(t, ts.log).WorkerName)
}

func TestTransformTimeout(t *testing.T) {
	slow := &scriptedTransformer{name: "slow", fn: func(ctx context.Context, _ *registry.Request) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	ts := newTestServer(t, nil, slow)

	rec := ts.do(transformRequest(t, "in.txt", []byte("x"), map[string]string{
		"sourceMimetype":  "text/plain",
		"targetMimetype":  "application/x-test",
		"targetExtension": "bin",
		"timeout":         "20",
	}))

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), timeoutMessage)
	entry := lastEntry(t, ts.log)
	assert.Equal(t, http.StatusRequestTimeout, entry.StatusCode)
	assert.Equal(t, "slow", entry.WorkerName)
	assert.GreaterOrEqual(t, entry.Transformation.Milliseconds(), int64(20))
}

func TestTransformWorkerFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, *registry.Request) error
		code int
	}{
		{
			name: "error",
			fn:   func(context.Context, *registry.Request) error { return errors.New("boom") },
			code: http.StatusInternalServerError,
		},
		{
			name: "no output",
			fn:   func(context.Context, *registry.Request) error { return nil },
			code: http.StatusInternalServerError,
		},
		{
			name: "remote client error",
			fn: func(context.Context, *registry.Request) error {
				return &transformer.RemoteError{StatusCode: http.StatusUnsupportedMediaType, Message: "nope"}
			},
			code: http.StatusUnsupportedMediaType,
		},
		{
			name: "disk full",
			fn: func(context.Context, *registry.Request) error {
				return &os.PathError{Op: "write", Path: "target", Err: syscall.ENOSPC}
			},
			code: http.StatusInsufficientStorage,
		},
		{
			name: "panic",
			fn:   func(context.Context, *registry.Request) error { panic("worker bug") },
			code: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil, &scriptedTransformer{name: "scripted", fn: tt.fn})

			rec := ts.do(transformRequest(t, "in.txt", []byte("x"), map[string]string{
				"sourceMimetype":  "text/plain",
				"targetMimetype":  "application/x-test",
				"targetExtension": "bin",
			}))

			assert.Equal(t, tt.code, rec.Code)
			entries := ts.log.MostRecentEntries(10)
			require.Len(t, entries, 1, "entry is closed even when the request fails")
		})
	}
}

func TestTransformMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/transform", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, ts.log.MostRecentEntries(1))
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, map[string]string{config.KeyRateLimit: "1"})

	first := ts.do(httptest.NewRequest(http.MethodGet, "/transform", nil))
	second := ts.do(httptest.NewRequest(http.MethodGet, "/transform", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	ts := newTestServer(t, map[string]string{config.KeyRateLimit: "1"})

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		req := httptest.NewRequest(http.MethodGet, "/transform", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		codes = append(codes, ts.do(req).Code)
	}

	assert.Equal(t, []int{http.StatusMethodNotAllowed, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateLimitPerForwardedClientBehindTrustedProxy(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		config.KeyRateLimit:      "1",
		config.KeyTrustedProxies: "192.0.2.0/24",
	})

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/transform", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		return ts.do(req).Code
	}

	assert.Equal(t, http.StatusMethodNotAllowed, send("198.51.100.1"))
	assert.Equal(t, http.StatusMethodNotAllowed, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/transform/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var doc struct {
		Transformers []struct {
			TransformerName string `json:"transformerName"`
		} `json:"transformers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	names := make([]string, 0, len(doc.Transformers))
	for _, d := range doc.Transformers {
		names = append(names, d.TransformerName)
	}
	assert.Equal(t, []string{"htmlMarkdown", "htmlMetadata", "markdown"}, names)
}

func TestLogEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		ts.do(transformRequest(t, "in.md", []byte("# x"), map[string]string{
			"sourceMimetype":  "text/markdown",
			"targetMimetype":  "text/html",
			"targetExtension": "html",
		}))
	}

	t.Run("json", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/log?count=2", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var entries []LogEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 2)
		assert.Greater(t, entries[0].SequenceNumber, entries[1].SequenceNumber)
		assert.Equal(t, "markdown", entries[0].WorkerName)
		assert.GreaterOrEqual(t, entries[0].Duration, int64(0))
	})

	t.Run("html", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/log", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "<table")
		assert.Contains(t, rec.Body.String(), "markdown")
	})

	t.Run("bad count", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/log?count=many", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", rec.Body.String())
}

func TestTestForm(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<option value="text/markdown">`)
	assert.Contains(t, rec.Body.String(), `name="headingStyle"`)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveProbe(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/live", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Success - Transformation via markdown took "))
	entry := lastEntry(t, ts.log)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Equal(t, int64(58), entry.ResultSize)
}

func TestLiveProbeOutsideExpectedLength(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"probe.live.markdown.expectedLength":       "1000",
		"probe.live.markdown.validLengthDeviation": "10",
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed - Transformation via markdown resulted in file of 58 bytes")
	assert.Equal(t, http.StatusInternalServerError, lastEntry(t, ts.log).StatusCode)
}

func TestLiveProbeNeedsEveryProbe(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"probe.live.transformerNames":       "markdown,missing",
		"probe.live.missing.sourceFileName": "probe.md",
		"probe.live.missing.sourceMimetype": "text/markdown",
		"probe.live.missing.targetMimetype": "text/html",
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	lines := strings.Split(rec.Body.String(), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Success - "))
	assert.True(t, strings.HasPrefix(lines[1], "Failed - Transformation via missing failed"))
}

func TestReadyProbe(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"probe.ready.transformerNames":     "markdown,ghost",
		"probe.ready.ghost.runTransform":   "true",
		"probe.ready.ghost.sourceFileName": "probe.md",
		"probe.ready.ghost.sourceMimetype": "text/markdown",
		"probe.ready.ghost.targetMimetype": "text/html",
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.SetAccepting(true)
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Success - No transform via transformer markdown\nFailed - "))
}

func TestProbesNotConfigured(t *testing.T) {
	ts := newTestServer(t, map[string]string{"probe.live.transformerNames": ""})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failure - No transformers configured for probe.", rec.Body.String())
}

func TestLoadProbesErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
		key   string
	}{
		{
			name:  "no source",
			props: map[string]string{"probe.live.transformerNames": "x"},
			key:   "probe.live.x.sourceFileName",
		},
		{
			name:  "missing source",
			props: map[string]string{"probe.live.transformerNames": "x", "probe.live.x.sourceFileName": "nope.bin"},
			key:   "probe.live.x.sourceFileName",
		},
		{
			name: "no target mimetype",
			props: map[string]string{
				"probe.live.transformerNames": "x",
				"probe.live.x.sourceFileName": "probe.md",
				"probe.live.x.sourceMimetype": "text/markdown",
			},
			key: "probe.live.x.targetMimetype",
		},
		{
			name: "zero expected length",
			props: map[string]string{
				"probe.live.transformerNames": "x",
				"probe.live.x.sourceFileName": "probe.md",
				"probe.live.x.sourceMimetype": "text/markdown",
				"probe.live.x.targetMimetype": "text/html",
				"probe.live.x.expectedLength": "0",
			},
			key: "probe.live.x.expectedLength",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProbes(config.FromMap(tt.props), ProbeLive)

			var cerr *config.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestLoadProbesDefaults(t *testing.T) {
	probes, err := LoadProbes(config.FromMap(map[string]string{
		"probe.live.transformerNames":       "x",
		"probe.live.x.sourceFileName":       "probe.md",
		"probe.live.x.sourceMimetype":       "text/markdown",
		"probe.live.x.targetMimetype":       "text/html",
		"probe.live.x.expectedLength":       "10",
		"probe.live.x.validLengthDeviation": "20",
	}), ProbeLive)

	require.NoError(t, err)
	require.Len(t, probes, 1)
	p := probes[0]
	assert.True(t, p.RunTransform)
	assert.Equal(t, "probe.md.transformed", p.TargetFileName)
	assert.Equal(t, int64(0), p.MinLength)
	assert.Equal(t, int64(30), p.MaxLength)
	assert.Zero(t, p.Timeout)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"status error", statusErrorf(http.StatusTeapot, "tea", nil), http.StatusTeapot},
		{"wrapped deadline", fmt.Errorf("interrupted: %w", context.DeadlineExceeded), http.StatusRequestTimeout},
		{"invalid option", &transformer.InvalidOptionError{Name: "x", Value: "y"}, http.StatusBadRequest},
		{"remote 4xx", &transformer.RemoteError{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{"remote 5xx", &transformer.RemoteError{StatusCode: http.StatusBadGateway}, http.StatusInternalServerError},
		{"no space", fmt.Errorf("write: %w", syscall.ENOSPC), http.StatusInsufficientStorage},
		{"plain", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := statusOf(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestTimeoutOf(t *testing.T) {
	ts := newTestServer(t, nil)

	d, err := ts.timeoutOf("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	d, err = ts.timeoutOf("3599999")
	require.NoError(t, err)
	assert.Equal(t, 3599999*time.Millisecond, d)

	for _, bad := range []string{"0", "-5", "9223372036854775807", "3600000"} {
		_, err := ts.timeoutOf(bad)
		code, _ := statusOf(err)
		assert.Equal(t, http.StatusBadRequest, code, bad)
	}

	unbounded := newTestServer(t, map[string]string{config.KeyWorkDirMaxAge: "0"})
	d, err = unbounded.timeoutOf("7200000")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name      string
		remote    string
		forwarded string
		trusted   []netip.Prefix
		want      string
	}{
		{name: "peer only", remote: "10.0.0.1:5000", want: "10.0.0.1"},
		{name: "untrusted peer ignores header", remote: "192.168.1.9:5000", forwarded: "1.2.3.4", trusted: proxies, want: "192.168.1.9"},
		{name: "no trusted proxies ignores header", remote: "10.0.0.1:5000", forwarded: "1.2.3.4", want: "10.0.0.1"},
		{name: "trusted peer", remote: "10.0.0.1:5000", forwarded: "192.168.1.7", trusted: proxies, want: "192.168.1.7"},
		{name: "spoofed leftmost hop", remote: "10.0.0.1:5000", forwarded: "6.6.6.6, 192.168.1.7, 10.0.0.2", trusted: proxies, want: "192.168.1.7"},
		{name: "only proxies", remote: "10.0.0.1:5000", forwarded: "10.0.0.3", trusted: proxies, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}

func TestTargetExtensionOf(t *testing.T) {
	ext, err := targetExtensionOf(".pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)

	ext, err = targetExtensionOf("", registry.ExtractTarget)
	require.NoError(t, err)
	assert.Equal(t, "json", ext)

	_, err = targetExtensionOf("", "application/x-unheard-of")
	assert.Error(t, err)

	_, err = targetExtensionOf("../x", "text/plain")
	assert.Error(t, err)
}
