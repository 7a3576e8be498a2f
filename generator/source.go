package generator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const defaultSourceMaxChars = 20000

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// SourceFetcher 抓取参考链接并抽取正文文本，作为大纲生成的素材。
type SourceFetcher struct {
	Client   *http.Client
	MaxChars int
}

func NewSourceFetcher(client *http.Client, maxChars int) *SourceFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxChars <= 0 {
		maxChars = defaultSourceMaxChars
	}
	return &SourceFetcher{Client: client, MaxChars: maxChars}
}

// Fetch downloads url and returns its readable text, truncated to MaxChars.
func (f *SourceFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; sectional-blog-writer/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch source: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}

	text := string(body)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		text, err = extractText(text)
		if err != nil {
			return "", err
		}
	}
	if r := []rune(text); len(r) > f.MaxChars {
		text = string(r[:f.MaxChars])
	}
	return text, nil
}

func extractText(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse source html: %w", err)
	}
	var sb strings.Builder
	walkText(doc, &sb, 0)
	out := multiSpace.ReplaceAllString(sb.String(), " ")
	out = multiNewline.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "form":
			return
		case "h1", "h2", "h3", "h4", "p", "div", "li", "br", "section", "article":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}
}
