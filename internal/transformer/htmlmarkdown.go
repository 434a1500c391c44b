package transformer

import (
	"context"
	"fmt"
	"os"
	"slices"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/registry"
)

var (
	headingStyles     = []string{"atx", "setext"}
	codeBlockStyles   = []string{"indented", "fenced"}
	bulletListMarkers = []string{"-", "+", "*"}
)

// HTMLMarkdown converts HTML to Markdown.
type HTMLMarkdown struct {
	Base
}

func NewHTMLMarkdown(state capability.State) *HTMLMarkdown {
	return &HTMLMarkdown{Base: NewBase(state)}
}

func (h *HTMLMarkdown) Transform(ctx context.Context, req *registry.Request) error {
	source, err := os.ReadFile(req.SourceFile)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	converter, err := newHTMLConverter(req.Options)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	markdown, err := converter.ConvertString(string(source))
	if err != nil {
		return fmt.Errorf("failed to convert html: %w", err)
	}
	return writeTarget(req.TargetFile, []byte(markdown))
}

func newHTMLConverter(opts map[string]string) (*md.Converter, error) {
	options := &md.Options{
		HeadingStyle:     stringOption(opts, "headingStyle", "atx"),
		CodeBlockStyle:   stringOption(opts, "codeBlockStyle", "fenced"),
		BulletListMarker: stringOption(opts, "bulletListMarker", "-"),
	}
	if !slices.Contains(headingStyles, options.HeadingStyle) {
		return nil, &InvalidOptionError{Name: "headingStyle", Value: options.HeadingStyle}
	}
	if !slices.Contains(codeBlockStyles, options.CodeBlockStyle) {
		return nil, &InvalidOptionError{Name: "codeBlockStyle", Value: options.CodeBlockStyle}
	}
	if !slices.Contains(bulletListMarkers, options.BulletListMarker) {
		return nil, &InvalidOptionError{Name: "bulletListMarker", Value: options.BulletListMarker}
	}

	converter := md.NewConverter(stringOption(opts, "domain", ""), true, options)
	if boolOption(opts, "gfm") {
		converter.Use(plugin.GitHubFlavored())
	}
	return converter, nil
}
