package transformer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/darkace1998/content-transformer/internal/registry"
)

// HTMLMetadata extracts document properties from the head of an HTML page.
type HTMLMetadata struct {
	ExtracterBase
}

func NewHTMLMetadata(name string, profiles, sources []string) *HTMLMetadata {
	return &HTMLMetadata{ExtracterBase: NewExtracterBase(name, profiles, sources)}
}

// metaProperties maps <meta name=...> to the reported property.
var metaProperties = map[string]string{
	"description": "description",
	"author":      "author",
	"keywords":    "keywords",
	"generator":   "generator",
}

func (h *HTMLMetadata) ExtractMetadata(ctx context.Context, req *registry.Request) (map[string]any, error) {
	f, err := os.Open(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metadata := make(map[string]any)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html":
				if lang := attr(n, "lang"); lang != "" {
					metadata["language"] = lang
				}
			case "title":
				if _, done := metadata["title"]; !done && n.FirstChild != nil {
					metadata["title"] = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name := strings.ToLower(attr(n, "name"))
				if prop, ok := metaProperties[name]; ok {
					value := strings.TrimSpace(attr(n, "content"))
					if prop == "keywords" {
						if list := keywords(value); len(list) > 0 {
							metadata[prop] = list
						}
					} else if value != "" {
						metadata[prop] = value
					}
				}
			case "body":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return metadata, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func keywords(v string) []string {
	var out []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
