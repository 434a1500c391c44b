package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/darkace1998/content-transformer/internal/logger"
	"github.com/darkace1998/content-transformer/internal/registry"
	"github.com/darkace1998/content-transformer/internal/transformer"
	"github.com/darkace1998/content-transformer/internal/translog"
)

// Multipart fields of a transform request.
const (
	fieldFile            = "file"
	fieldSourceMimetype  = "sourceMimetype"
	fieldTargetMimetype  = "targetMimetype"
	fieldSourceExtension = "sourceExtension"
	fieldTargetExtension = "targetExtension"
	fieldTimeout         = "timeout"
	fieldTestDelay       = "testDelay"
	fieldTransformName   = "transformName"
)

// requestParameters are the fields that control the request itself and never reach a worker.
var requestParameters = map[string]bool{
	fieldFile:            true,
	fieldSourceMimetype:  true,
	fieldTargetMimetype:  true,
	fieldSourceExtension: true,
	fieldTargetExtension: true,
	fieldTimeout:         true,
	fieldTestDelay:       true,
	fieldTransformName:   true,
}

const noWorkerMessage = "No transformers are able to handle the request"

// job is a transformation with its files in place.
type job struct {
	sourceFile     string
	sourceMimetype string
	sourceSize     int64
	targetFile     string
	targetMimetype string
	options        map[string]string
	timeout        time.Duration
}

// handleTransform runs one multipart transform request, recording it in the transformation log.
func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, entry, err := s.log.StartNewEntry(r.Context())
	if err != nil {
		logger.FromContext(ctx).Error("Failed to open transformation log entry", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer s.closeEntry(ctx)

	err = s.transform(ctx, w, r, entry)
	if err != nil {
		code, message := statusOf(err)
		entry.SetStatus(code, message)
		log := logger.FromContext(ctx).With("sequence", entry.SequenceNumber(), "status", code)
		if code >= http.StatusInternalServerError {
			log.Error("Transformation request failed", "error", err)
		} else {
			log.Warn("Transformation request rejected", "error", err)
		}
		http.Error(w, message, code)
	}
}

func (s *Server) transform(ctx context.Context, w http.ResponseWriter, r *http.Request, entry *translog.MutableEntry) error {
	err := r.ParseMultipartForm(s.settings.MultipartMemory)
	if err != nil {
		return statusErrorf(http.StatusBadRequest, "Failed to parse multipart form", err)
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.FromContext(ctx).Warn("Failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		return statusErrorf(http.StatusBadRequest, "Required request part 'file' is not present", nil)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("Failed to close uploaded file", "error", cerr)
		}
	}()

	sourceMimetype := strings.TrimSpace(r.FormValue(fieldSourceMimetype))
	if sourceMimetype == "" {
		sourceMimetype = header.Header.Get("Content-Type")
	}
	if sourceMimetype == "" {
		return statusErrorf(http.StatusBadRequest, "Request parameter 'sourceMimetype' is missing", nil)
	}
	targetMimetype := strings.TrimSpace(r.FormValue(fieldTargetMimetype))
	if targetMimetype == "" {
		return statusErrorf(http.StatusBadRequest, "Request parameter 'targetMimetype' is missing", nil)
	}
	targetExtension, err := targetExtensionOf(r.FormValue(fieldTargetExtension), targetMimetype)
	if err != nil {
		return err
	}
	timeout, err := s.timeoutOf(r.FormValue(fieldTimeout))
	if err != nil {
		return err
	}
	options := transformOptions(r)

	entry.RecordRequestValues(sourceMimetype, -1, targetMimetype, options)

	workDir, err := s.workspace.Create("request")
	if err != nil {
		return err
	}
	defer func() {
		if err := s.workspace.Release(workDir); err != nil {
			logger.FromContext(ctx).Warn("Failed to remove work directory", "path", workDir, "error", err)
		}
	}()

	sourceName := sourceFileName(header.Filename)
	sourceFile := filepath.Join(workDir, "source", sourceName)
	size, err := saveSource(file, sourceFile)
	if err != nil {
		return err
	}
	s.metrics.RecordBytesReceived(size)
	entry.RecordRequestValues(sourceMimetype, size, targetMimetype, options)

	targetName := strings.TrimSuffix(sourceName, filepath.Ext(sourceName)) + "." + targetExtension
	j := &job{
		sourceFile:     sourceFile,
		sourceMimetype: sourceMimetype,
		sourceSize:     size,
		targetFile:     filepath.Join(workDir, "target", targetName),
		targetMimetype: targetMimetype,
		options:        options,
		timeout:        timeout,
	}

	worker, ok := s.registry.FindTransformer(j.sourceMimetype, j.sourceSize, j.targetMimetype, j.options)
	s.metrics.RecordSelection(ok)
	if !ok {
		return statusErrorf(http.StatusBadRequest, noWorkerMessage, nil)
	}

	if err := s.run(ctx, entry, worker, j); err != nil {
		return err
	}
	return s.writeResult(ctx, w, entry, j, targetName)
}

// run executes worker on j with its effective options under the job's timeout.
func (s *Server) run(ctx context.Context, entry *translog.MutableEntry, worker string, j *job) error {
	entry.RecordSelectedWorker(worker)

	effective, err := s.registry.EffectiveOptions(worker, j.options)
	if err != nil {
		return err
	}
	req := &registry.Request{
		SourceFile:     j.sourceFile,
		SourceMimetype: j.sourceMimetype,
		TargetFile:     j.targetFile,
		TargetMimetype: j.targetMimetype,
		Options:        effective,
	}
	if err := os.MkdirAll(filepath.Dir(j.targetFile), 0o750); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	logger.FromContext(ctx).Debug("Running transformation",
		"worker", worker,
		"source_mimetype", j.sourceMimetype,
		"target_mimetype", j.targetMimetype,
		"source_size", j.sourceSize,
		"timeout", j.timeout)

	if err := entry.MarkStartOfTransformation(); err != nil {
		return err
	}
	s.metrics.RecordTransformationStarted()
	start := time.Now()

	if j.targetMimetype == registry.ExtractTarget {
		err = s.extract(runCtx, worker, req)
	} else {
		err = s.convert(runCtx, worker, req)
	}
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = statusErrorf(http.StatusRequestTimeout, timeoutMessage, nil)
	}

	if !entry.TransformationEnded() {
		if merr := entry.MarkEndOfTransformation(); merr != nil {
			return merr
		}
	}

	status := "success"
	if err != nil {
		code, _ := statusOf(err)
		status = strconv.Itoa(code)
	}
	s.metrics.RecordTransformationFinished(worker, status, time.Since(start).Seconds())
	return err
}

func (s *Server) convert(ctx context.Context, worker string, req *registry.Request) error {
	t, err := s.registry.Transformer(worker)
	if err != nil {
		return err
	}
	return t.Transform(ctx, req)
}

// extract writes the metadata of the source as a JSON object to the target file.
func (s *Server) extract(ctx context.Context, worker string, req *registry.Request) error {
	e, err := s.registry.MetadataExtracter(worker)
	if err != nil {
		return err
	}
	metadata, err := e.ExtractMetadata(ctx, req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(req.TargetFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *Server) writeResult(ctx context.Context, w http.ResponseWriter, entry *translog.MutableEntry, j *job, targetName string) error {
	size, err := transformer.ValidateOutput(j.targetFile)
	if err != nil {
		return fmt.Errorf("transformation produced no output: %w", err)
	}
	out, err := os.Open(j.targetFile)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer out.Close()

	entry.RecordResultSize(size)
	entry.SetStatus(http.StatusOK, "")

	contentType := j.targetMimetype
	if contentType == registry.ExtractTarget {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": targetName}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, out); err != nil {
		// headers are out, the client sees a truncated body
		logger.FromContext(ctx).Warn("Failed to stream transformation result", "error", err)
	}
	return nil
}

func (s *Server) closeEntry(ctx context.Context) {
	closed, err := s.log.CloseCurrentEntry(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to close transformation log entry", "error", err)
		return
	}
	logger.FromContext(ctx).Info("Transformation request completed",
		"sequence", closed.SequenceNumber,
		"status", closed.StatusCode,
		"worker", closed.WorkerName,
		"duration", closed.Duration())
}

// transformOptions collects the non-blank form values that are not request parameters.
func transformOptions(r *http.Request) map[string]string {
	options := make(map[string]string)
	for name, values := range r.MultipartForm.Value {
		if requestParameters[name] || len(values) == 0 {
			continue
		}
		if v := strings.TrimSpace(values[0]); v != "" {
			options[name] = values[0]
		}
	}
	return options
}

// targetExtensionOf returns the explicit extension or derives one from the target mimetype.
func targetExtensionOf(explicit, targetMimetype string) (string, error) {
	if ext := strings.TrimPrefix(strings.TrimSpace(explicit), "."); ext != "" {
		if strings.ContainsAny(ext, `/\`) {
			return "", statusErrorf(http.StatusBadRequest, "Request parameter 'targetExtension' is invalid", nil)
		}
		return ext, nil
	}
	if targetMimetype == registry.ExtractTarget {
		return "json", nil
	}
	if exts, err := mime.ExtensionsByType(targetMimetype); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], "."), nil
	}
	return "", statusErrorf(http.StatusBadRequest, "Request parameter 'targetExtension' is missing", nil)
}

func (s *Server) timeoutOf(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.settings.DefaultTimeout, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms < 1 || ms > math.MaxInt64/int64(time.Millisecond) {
		return 0, statusErrorf(http.StatusBadRequest, "Request parameter 'timeout' must be a positive number of milliseconds", nil)
	}
	timeout := time.Duration(ms) * time.Millisecond
	// a work directory older than maxAge is swept, so no run may last that long
	if maxAge := s.workspace.MaxAge(); maxAge > 0 && timeout >= maxAge {
		return 0, statusErrorf(http.StatusBadRequest,
			fmt.Sprintf("Request parameter 'timeout' must be less than %dms", maxAge.Milliseconds()), nil)
	}
	return timeout, nil
}

// sourceFileName strips any client-side directories from an upload's file name.
func sourceFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "source"
	}
	return name
}

func saveSource(src io.Reader, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create source directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create source file: %w", err)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save source file: %w", err)
	}
	return n, nil
}
