package generator

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
)

var (
	fenceRe   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")
	sanitizer = bluemonday.UGCPolicy()
)

// stripFences 去掉模型常见的 ```json / ```html 代码块包裹。
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseOutline 解析模型返回的大纲 JSON，并补全/去重 section id。
func ParseOutline(raw string) (Outline, error) {
	body := stripFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	if !gjson.Valid(body) {
		return Outline{}, fmt.Errorf("%w: not valid JSON", ErrMalformedOutline)
	}

	title := strings.TrimSpace(gjson.Get(body, "title").String())
	if title == "" {
		return Outline{}, fmt.Errorf("%w: missing title", ErrMalformedOutline)
	}

	seen := make(map[string]bool)
	var sections []Section
	for _, item := range gjson.Get(body, "sections").Array() {
		heading := strings.TrimSpace(item.Get("heading").String())
		if heading == "" {
			continue
		}
		var points []string
		for _, p := range item.Get("points").Array() {
			if t := strings.TrimSpace(p.String()); t != "" {
				points = append(points, t)
			}
		}
		if len(points) == 0 {
			continue
		}
		id := strings.TrimSpace(item.Get("id").String())
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		sections = append(sections, Section{ID: id, Heading: heading, Points: points})
	}
	if len(sections) == 0 {
		return Outline{}, fmt.Errorf("%w: no usable sections", ErrMalformedOutline)
	}
	return Outline{Title: title, Sections: sections}, nil
}

// PostProcessSection 把模型输出统一成安全的 HTML 片段；Markdown 先转 HTML。
func PostProcessSection(raw string) (string, error) {
	body := stripFences(raw)
	if body == "" {
		return "", ErrEmptyResponse
	}
	if !strings.HasPrefix(body, "<") {
		html, err := mdToHTML(body)
		if err != nil {
			return "", err
		}
		body = html
	}
	out := strings.TrimSpace(sanitizer.Sanitize(body))
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// PostProcessReplacement 清理润色结果；空结果视为失败。
func PostProcessReplacement(raw string) (string, error) {
	out := unwrapQuotes(strings.TrimSpace(stripFences(raw)))
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyReplacement
	}
	return out, nil
}

// unwrapQuotes 仅去掉包裹整段回复的一对引号，正文里的引号保持不变。
func unwrapQuotes(s string) string {
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}} {
		left, right := q[0], q[1]
		if len(s) < len(left)+len(right) || !strings.HasPrefix(s, left) || !strings.HasSuffix(s, right) {
			continue
		}
		inner := s[len(left) : len(s)-len(right)]
		if strings.Contains(inner, left) || strings.Contains(inner, right) {
			return s
		}
		return strings.TrimSpace(inner)
	}
	return s
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
