package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Agent 是远程生成客户端：大纲、章节、润色三类调用各自独立成功/失败。
type Agent struct {
	llm     LLMClient
	fetcher *SourceFetcher
	logger  *zap.Logger
}

func NewAgent(llm LLMClient, fetcher *SourceFetcher, logger *zap.Logger) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if fetcher == nil {
		fetcher = NewSourceFetcher(nil, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{llm: llm, fetcher: fetcher, logger: logger.Named("agent")}, nil
}

// GenerateOutline 根据主题/链接生成可编辑的大纲。
func (a *Agent) GenerateOutline(ctx context.Context, req OutlineRequest) (Outline, error) {
	style, err := req.Style.Normalize()
	if err != nil {
		return Outline{}, err
	}
	req.Style = style
	req.Context = strings.TrimSpace(req.Context)
	req.URL = strings.TrimSpace(req.URL)
	if req.Context == "" && req.URL == "" {
		return Outline{}, ErrEmptyInput
	}

	var source string
	if req.URL != "" {
		source, err = a.fetcher.Fetch(ctx, req.URL)
		if err != nil {
			return Outline{}, err
		}
		a.logger.Debug("fetched source", zap.String("url", req.URL), zap.Int("chars", len(source)))
	}

	raw, err := a.llm.Complete(ctx, BuildOutlinePrompt(req, source))
	if err != nil {
		return Outline{}, fmt.Errorf("generate outline: %w", err)
	}
	outline, err := ParseOutline(raw)
	if err != nil {
		a.logger.Warn("outline reply rejected", zap.Error(err), zap.Int("reply_len", len(raw)))
		return Outline{}, err
	}
	a.logger.Info("outline generated", zap.String("title", outline.Title), zap.Int("sections", len(outline.Sections)))
	return outline, nil
}

// GenerateSection 生成单个章节的 HTML 内容。
func (a *Agent) GenerateSection(ctx context.Context, req SectionRequest) (string, error) {
	style, err := req.Style.Normalize()
	if err != nil {
		return "", err
	}
	req.Style = style

	raw, err := a.llm.Complete(ctx, BuildSectionPrompt(req))
	if err != nil {
		return "", fmt.Errorf("generate section %s: %w", req.SectionID, err)
	}
	content, err := PostProcessSection(raw)
	if err != nil {
		return "", fmt.Errorf("generate section %s: %w", req.SectionID, err)
	}
	a.logger.Debug("section generated", zap.String("section_id", req.SectionID), zap.Int("chars", len(content)))
	return content, nil
}

// Rewrite 执行润色/格式化类工具，返回替换文本。
func (a *Agent) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	if !req.Mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyInput
	}
	raw, err := a.llm.Complete(ctx, BuildRewritePrompt(req))
	if err != nil {
		return "", fmt.Errorf("rewrite (%s): %w", req.Mode, err)
	}
	return PostProcessReplacement(raw)
}
