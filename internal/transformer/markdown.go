package transformer

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/registry"
)

// Markdown renders Markdown to HTML.
//
// Options: gfm (GitHub tables, strikethrough, autolinks, task lists), hardWraps (newlines
// become <br>) and unsafeHtml (raw HTML passes through).
type Markdown struct {
	Base
}

func NewMarkdown(state capability.State) *Markdown {
	return &Markdown{Base: NewBase(state)}
}

func (m *Markdown) Transform(ctx context.Context, req *registry.Request) error {
	source, err := os.ReadFile(req.SourceFile)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := newMarkdown(req.Options).Convert(source, &buf); err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	return writeTarget(req.TargetFile, buf.Bytes())
}

func newMarkdown(opts map[string]string) goldmark.Markdown {
	var extensions []goldmark.Extender
	if boolOption(opts, "gfm") {
		extensions = append(extensions, extension.GFM)
	}

	var rendererOptions []renderer.Option
	if boolOption(opts, "hardWraps") {
		rendererOptions = append(rendererOptions, html.WithHardWraps())
	}
	if boolOption(opts, "unsafeHtml") {
		rendererOptions = append(rendererOptions, html.WithUnsafe())
	}

	return goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithRendererOptions(rendererOptions...),
	)
}
