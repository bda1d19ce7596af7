// Package page fetches a watched page over HTTP and extracts its visible text.
package page

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Source is a TextSource backed by plain HTTP GETs against a single URL.
type Source struct {
	url        string
	httpClient *http.Client
}

var _ driven.TextSource = (*Source)(nil)

func NewSource(url string) *Source {
	return &Source{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Origin returns the page URL the source watches, used to label captures.
func (s *Source) Origin() string {
	return s.url
}

// VisibleText fetches the page and returns its rendered-visible text, with
// runs of whitespace collapsed to single spaces.
func (s *Source) VisibleText(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build page request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("page %s returned %d", s.url, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page %s: %w", s.url, err)
	}

	var parts []string
	collectVisibleText(doc, &parts)
	return strings.Join(parts, " "), nil
}

// Elements whose text never renders, regardless of styling.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"template": true,
	"noscript": true,
}

func collectVisibleText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.ElementNode:
		if skippedElements[n.Data] || isHidden(n) {
			return
		}
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectVisibleText(c, parts)
	}
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			if hiddenByStyle(a.Val) {
				return true
			}
		}
	}
	return false
}

// hiddenByStyle matches the inline declarations that suppress rendering.
// This is a heuristic, not a CSS engine: stylesheet rules are out of reach
// without a layout pass.
func hiddenByStyle(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.ToLower(strings.TrimSpace(value))
		switch name {
		case "display":
			if value == "none" {
				return true
			}
		case "visibility":
			if value == "hidden" {
				return true
			}
		case "opacity":
			if value == "0" || value == "0.0" {
				return true
			}
		}
	}
	return false
}
