package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/logger"
)

// Probe kinds.
const (
	ProbeLive  = "live"
	ProbeReady = "ready"
)

const (
	probeSuccess = "Success - "
	probeFailure = "Failed - "
)

//go:embed probes
var probeSamples embed.FS

// Probe is a test transformation run by /live or /ready.
type Probe struct {
	Kind           string
	Transformer    string
	RunTransform   bool
	SourceFile     string
	TargetFileName string
	SourceMimetype string
	TargetMimetype string
	MinLength      int64
	MaxLength      int64
	Timeout        time.Duration // 0 uses the default transform timeout
}

// LoadProbes reads the probes of kind from probe.<kind>.transformerNames and the per-probe
// keys probe.<kind>.<transformer>.*. Live probes run a transformation unless told otherwise,
// ready probes only when asked to.
func LoadProbes(props *config.Properties, kind string) ([]Probe, error) {
	prefix := "probe." + kind + "."
	var probes []Probe
	for _, name := range props.List(prefix + "transformerNames") {
		base := prefix + name + "."
		p := Probe{
			Kind:         kind,
			Transformer:  name,
			RunTransform: props.Bool(base+"runTransform", kind == ProbeLive),
		}
		if !p.RunTransform {
			probes = append(probes, p)
			continue
		}

		p.SourceFile = props.String(base+"sourceFileName", "")
		if p.SourceFile == "" {
			return nil, config.Errorf(base+"sourceFileName", "probe via %s has no source file", name)
		}
		if !sampleExists(p.SourceFile) {
			return nil, config.Errorf(base+"sourceFileName", "probe source %s is neither bundled nor a readable file", p.SourceFile)
		}
		p.TargetFileName = props.String(base+"targetFileName", filepath.Base(p.SourceFile)+".transformed")
		p.SourceMimetype = props.String(base+"sourceMimetype", "")
		if p.SourceMimetype == "" {
			return nil, config.Errorf(base+"sourceMimetype", "probe via %s has no source mimetype", name)
		}
		p.TargetMimetype = props.String(base+"targetMimetype", "")
		if p.TargetMimetype == "" {
			return nil, config.Errorf(base+"targetMimetype", "probe via %s has no target mimetype", name)
		}

		expected, err := props.Int64(base+"expectedLength", 1, 1, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		deviation, err := props.Int64(base+"validLengthDeviation", 0, 0, math.MaxInt64-expected)
		if err != nil {
			return nil, err
		}
		p.MinLength = max(0, expected-deviation)
		p.MaxLength = expected + deviation

		if p.Timeout, err = props.Millis(base+"transformTimeout", 0); err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}

// openSample opens a bundled probe sample, falling back to the file system.
func openSample(name string) (io.ReadCloser, error) {
	f, err := probeSamples.Open("probes/" + name)
	if err == nil {
		return f, nil
	}
	return os.Open(name)
}

func sampleExists(name string) bool {
	if info, err := fs.Stat(probeSamples, "probes/"+name); err == nil {
		return info.Mode().IsRegular()
	}
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.serveProbes(w, r, ProbeLive, s.live)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.accepting.Load() {
		writeProbeResult(w, http.StatusServiceUnavailable, []string{probeFailure + "Not accepting transformation requests"})
		return
	}
	s.serveProbes(w, r, ProbeReady, s.ready)
}

// serveProbes runs probes in order. Live succeeds only if every probe does, ready if any does.
func (s *Server) serveProbes(w http.ResponseWriter, r *http.Request, kind string, probes []Probe) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(probes) == 0 {
		logger.FromContext(r.Context()).Warn("No transformers configured for probe", "probe", kind)
		writeProbeResult(w, http.StatusInternalServerError, []string{"Failure - No transformers configured for probe."})
		return
	}

	messages := make([]string, 0, len(probes))
	succeeded := 0
	for _, p := range probes {
		msg := s.runProbe(r.Context(), p)
		if strings.HasPrefix(msg, probeSuccess) {
			succeeded++
		}
		messages = append(messages, msg)
	}

	ok := succeeded == len(probes)
	if kind == ProbeReady {
		ok = succeeded > 0
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusInternalServerError
	}
	writeProbeResult(w, code, messages)
}

func writeProbeResult(w http.ResponseWriter, code int, messages []string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, strings.Join(messages, "\n"))
}

// runProbe runs one probe transformation in its own log entry and returns its result line.
func (s *Server) runProbe(ctx context.Context, p Probe) string {
	if !p.RunTransform {
		return probeSuccess + "No transform via transformer " + p.Transformer
	}

	ctx, entry, err := s.log.StartNewEntry(ctx)
	if err != nil {
		return probeFailure + "Unable to record probe via " + p.Transformer + ": " + err.Error()
	}
	defer s.closeEntry(ctx)

	log := logger.FromContext(ctx).With("probe", p.Kind, "transformer", p.Transformer)
	entry.RecordSelectedWorker(p.Transformer)
	entry.RecordRequestValues(p.SourceMimetype, -1, p.TargetMimetype, map[string]string{})

	fail := func(code int, message string) string {
		message = probeFailure + message
		entry.SetStatus(code, message)
		return message
	}

	workDir, err := s.workspace.Create("probe")
	if err != nil {
		return fail(http.StatusInternalServerError, fmt.Sprintf("Probe via %s could not create a work directory: %v", p.Transformer, err))
	}
	defer func() {
		if err := s.workspace.Release(workDir); err != nil {
			log.Warn("Failed to remove work directory", "path", workDir, "error", err)
		}
	}()

	sourceFile := filepath.Join(workDir, "source_"+filepath.Base(p.SourceFile))
	size, err := copySample(p.SourceFile, sourceFile)
	if err != nil {
		return fail(http.StatusInternalServerError, fmt.Sprintf("Failed to copy from %s to temporary file", p.SourceFile))
	}
	entry.RecordRequestValues(p.SourceMimetype, size, p.TargetMimetype, map[string]string{})

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = s.settings.DefaultTimeout
	}
	j := &job{
		sourceFile:     sourceFile,
		sourceMimetype: p.SourceMimetype,
		sourceSize:     size,
		targetFile:     filepath.Join(workDir, "target_"+p.TargetFileName),
		targetMimetype: p.TargetMimetype,
		options:        map[string]string{},
		timeout:        timeout,
	}

	start := time.Now()
	err = s.run(ctx, entry, p.Transformer, j)
	duration := time.Since(start)

	if err != nil {
		log.Warn("Probe transformation failed", "error", err)
		code, _ := statusOf(err)
		return fail(code, fmt.Sprintf("Transformation via %s failed due to %v", p.Transformer, err))
	}
	if duration > timeout {
		log.Warn("Probe transformation exceeded its timeout", "duration", duration, "timeout", timeout)
		return fail(http.StatusRequestTimeout, fmt.Sprintf("Transformation via %s took %dms, which is more than the allowed %dms",
			p.Transformer, duration.Milliseconds(), timeout.Milliseconds()))
	}

	info, err := os.Stat(j.targetFile)
	if err != nil {
		log.Warn("Failed to determine probe result size", "error", err)
		return fail(http.StatusInternalServerError, fmt.Sprintf("Transformation via %s resulted in file of indeterminable size", p.Transformer))
	}
	entry.RecordResultSize(info.Size())
	if info.Size() < p.MinLength || info.Size() > p.MaxLength {
		return fail(http.StatusInternalServerError, fmt.Sprintf(
			"Transformation via %s resulted in file of %d bytes, which is outside the expected range of %d to %d bytes",
			p.Transformer, info.Size(), p.MinLength, p.MaxLength))
	}

	entry.SetStatus(http.StatusOK, "")
	return fmt.Sprintf("%sTransformation via %s took %dms", probeSuccess, p.Transformer, duration.Milliseconds())
}

func copySample(name, path string) (int64, error) {
	src, err := openSample(name)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	size, err := saveSource(src, path)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.New("probe sample is empty")
	}
	return size, nil
}
