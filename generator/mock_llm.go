package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockLLM 一个确定性的占位实现，便于本地调试和测试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	switch prompt.Task {
	case TaskOutline:
		return mockOutline(prompt.Subject)
	case TaskSection:
		var sb strings.Builder
		sb.WriteString("## ")
		sb.WriteString(prompt.Subject)
		sb.WriteString("\n\n")
		sb.WriteString("This is placeholder content drafted offline for the section above.\n\n")
		for _, line := range strings.Split(prompt.User, "\n") {
			line = strings.TrimSpace(line)
			if i := strings.Index(line, ". "); i > 0 && i < 4 {
				sb.WriteString("- ")
				sb.WriteString(line[i+2:])
				sb.WriteString("\n")
			}
		}
		return sb.String(), nil
	case TaskRewrite:
		return strings.TrimSpace(prompt.Subject), nil
	default:
		return "", fmt.Errorf("mock llm: unknown task %q", prompt.Task)
	}
}

func mockOutline(subject string) (string, error) {
	topic := strings.TrimSpace(subject)
	if i := strings.IndexByte(topic, '\n'); i >= 0 {
		topic = topic[:i]
	}
	if topic == "" {
		topic = "Untitled"
	}
	payload := map[string]any{
		"title": topic,
		"sections": []map[string]any{
			{"id": "intro", "heading": "Introduction", "points": []string{"why " + topic + " matters"}},
			{"id": "details", "heading": "Key ideas", "points": []string{"core concepts", "common pitfalls"}},
			{"id": "wrap-up", "heading": "Conclusion", "points": []string{"summary", "next steps"}},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
