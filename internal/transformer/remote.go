package transformer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/logger"
	"github.com/darkace1998/content-transformer/internal/registry"
)

const maxErrorBody = 4096

// Remote delegates to another engine's /transform endpoint. Failures are reported, never
// retried.
type Remote struct {
	Base
	baseURL string
	client  *http.Client
}

// NewRemote creates a remote transformer; transformer.<name>.url is the other engine's base URL.
func NewRemote(props *config.Properties, state capability.State) (*Remote, error) {
	key := capability.PrefixTransformer + "." + state.Name + ".url"
	baseURL := strings.TrimSuffix(props.String(key, ""), "/")
	if baseURL == "" {
		return nil, config.Errorf(key, "remote transformer %s has no url", state.Name)
	}
	return &Remote{
		Base:    NewBase(state),
		baseURL: baseURL,
		client:  &http.Client{},
	}, nil
}

// Transform streams the source to the remote engine and writes its response to the target file
func (r *Remote) Transform(ctx context.Context, req *registry.Request) error {
	body, contentType := r.multipartBody(req)
	defer body.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transform", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if id := logger.CorrelationID(ctx); id != "" {
		httpReq.Header.Set(logger.CorrelationHeader, id)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call remote transformer %s: %w", r.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	out, err := os.Create(req.TargetFile)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write target file: %w", err)
	}

	slog.Debug("Remote transformation completed", "transformer", r.Name(), "size", written)
	return nil
}

// multipartBody writes the request form on a pipe so the source is never held in memory
func (r *Remote) multipartBody(req *registry.Request) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, req))
	}()
	return pr, mw.FormDataContentType()
}

func writeForm(mw *multipart.Writer, req *registry.Request) error {
	fields := map[string]string{
		"sourceMimetype":  req.SourceMimetype,
		"targetMimetype":  req.TargetMimetype,
		"targetExtension": strings.TrimPrefix(filepath.Ext(req.TargetFile), "."),
	}
	for name, value := range req.Options {
		fields[name] = value
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}

	src, err := os.Open(req.SourceFile)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(req.SourceFile))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// RemoteError is a non-200 answer of a remote engine.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote transformer returned status %d: %s", e.StatusCode, e.Message)
}
