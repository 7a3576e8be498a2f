package generator

import (
	"fmt"
	"strings"
)

// Task 标记提示词的用途，Mock 实现据此构造返回值。
type Task string

const (
	TaskOutline Task = "outline"
	TaskSection Task = "section"
	TaskRewrite Task = "rewrite"
)

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	Task    Task
	Subject string
	System  string
	User    string
	History []Message
}

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

func writeStyle(sb *strings.Builder, style StyleConfig) {
	sb.WriteString(fmt.Sprintf("- Tone: %s.\n", style.Tone))
	sb.WriteString(fmt.Sprintf("- Audience: %s.\n", style.Audience))
}

// BuildOutlinePrompt 生成大纲提示词，要求模型只输出 JSON。
func BuildOutlinePrompt(req OutlineRequest, source string) Prompt {
	var sb strings.Builder
	sb.WriteString("You are an experienced blog editor. Plan a blog post as an outline.\n")
	sb.WriteString("Requirements:\n")
	writeStyle(&sb, req.Style)
	sb.WriteString(fmt.Sprintf("- Length: %s (about %d words per section).\n", req.Style.Length, req.Style.Length.SectionWords()))
	sb.WriteString("- Between 3 and 8 sections, each with a short heading and 2-5 bullet points.\n")
	sb.WriteString("- Respond with a single JSON object and nothing else, shaped as\n")
	sb.WriteString(`  {"title": "...", "sections": [{"id": "s1", "heading": "...", "points": ["..."]}]}`)
	sb.WriteString("\n")

	var user strings.Builder
	subject := strings.TrimSpace(req.Context)
	if subject != "" {
		user.WriteString("Topic and notes:\n")
		user.WriteString(subject)
		user.WriteString("\n\n")
	}
	if strings.TrimSpace(source) != "" {
		user.WriteString(fmt.Sprintf("Source material from %s:\n", req.URL))
		user.WriteString(source)
		user.WriteString("\n\n")
		if subject == "" {
			subject = req.URL
		}
	}
	user.WriteString("Return the outline JSON.")

	return Prompt{
		Task:    TaskOutline,
		Subject: subject,
		System:  sb.String(),
		User:    user.String(),
	}
}

// BuildSectionPrompt 生成单个章节的提示词。
func BuildSectionPrompt(req SectionRequest) Prompt {
	var sb strings.Builder
	sb.WriteString("You are a professional blog writer. Write exactly one section of a larger post.\n")
	sb.WriteString("Requirements:\n")
	writeStyle(&sb, req.Style)
	sb.WriteString(fmt.Sprintf("- About %d words.\n", req.Style.Length.SectionWords()))
	sb.WriteString("- Start with the section heading as an <h2>.\n")
	sb.WriteString("- Output an HTML fragment only (h2, h3, p, ul, ol, li, strong, em, code, pre, blockquote, a). No <html> or <body>.\n")
	sb.WriteString("- Do not write an introduction or conclusion for the whole post.\n")

	var user strings.Builder
	user.WriteString(fmt.Sprintf("Post title: %s\n", req.BlogTitle))
	user.WriteString(fmt.Sprintf("Section heading: %s\n", req.Heading))
	user.WriteString("Cover these points:\n")
	for i, p := range req.Points {
		user.WriteString(fmt.Sprintf("  %d. %s\n", i+1, p))
	}

	return Prompt{
		Task:    TaskSection,
		Subject: req.Heading,
		System:  sb.String(),
		User:    user.String(),
	}
}

var rewriteInstructions = map[RewriteMode]string{
	ModeFormat:     "Reformat the text into clean, well-structured HTML (paragraphs, lists, headings where obvious). Keep the wording.",
	ModeRewrite:    "Rewrite the text in fresh wording while keeping its meaning.",
	ModeImprove:    "Improve clarity and flow with the smallest necessary edits.",
	ModeShorten:    "Make the text noticeably shorter without losing key information.",
	ModeExpand:     "Expand the text with relevant detail and examples.",
	ModeFixGrammar: "Fix spelling, grammar and punctuation only.",
}

// BuildRewritePrompt 生成润色/改写提示词；上下文作为历史消息提供。
func BuildRewritePrompt(req RewriteRequest) Prompt {
	var sb strings.Builder
	sb.WriteString("You are a careful copy editor.\n")
	sb.WriteString(rewriteInstructions[req.Mode])
	sb.WriteString("\nReturn only the replacement text, without commentary or quotes.\n")

	var history []Message
	if c := strings.TrimSpace(req.Context); c != "" {
		history = append(history, Message{Role: "user", Content: "Surrounding context (do not rewrite this):\n" + c})
	}

	return Prompt{
		Task:    TaskRewrite,
		Subject: req.Text,
		System:  sb.String(),
		User:    "Text to edit:\n" + req.Text,
		History: history,
	}
}
