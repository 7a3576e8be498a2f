package workflow

import "html"

const fallbackMessage = "Content generation failed. Please try again."

type ResultStatus string

const (
	ResultOK     ResultStatus = "ok"
	ResultFailed ResultStatus = "failed"
)

// SectionResult is the outcome of generating one section. A failed result
// keeps only the heading; its markup is produced by HTML.
type SectionResult struct {
	Status  ResultStatus `json:"status"`
	Content string       `json:"content,omitempty"`
	Heading string       `json:"heading,omitempty"`
}

func Succeeded(content string) SectionResult {
	return SectionResult{Status: ResultOK, Content: content}
}

func Failed(heading string) SectionResult {
	return SectionResult{Status: ResultFailed, Heading: heading}
}

// HTML renders the result for display or for the merged document.
func (r SectionResult) HTML() string {
	if r.Status == ResultFailed {
		return FallbackHTML(r.Heading)
	}
	return r.Content
}

// FallbackHTML is the placeholder shown for a section whose generation failed.
func FallbackHTML(heading string) string {
	return "<h2>" + html.EscapeString(heading) + "</h2><p><em>" + fallbackMessage + "</em></p>"
}
