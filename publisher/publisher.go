package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"sectional_blog_writer/generator"
	"sectional_blog_writer/store"
	"sectional_blog_writer/workflow"
)

const excerptLimit = 160

var textOnly = bluemonday.StrictPolicy()

// Publisher hands a finished post to durable storage and returns its id.
type Publisher interface {
	Publish(ctx context.Context, post store.Post) (string, error)
}

// APIConfig points at the blog's save endpoint.
type APIConfig struct {
	URL   string
	Token string
}

type apiPostPayload struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Excerpt   string `json:"excerpt"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Tone      string `json:"tone,omitempty"`
	Audience  string `json:"audience,omitempty"`
	Length    string `json:"length,omitempty"`
}

type apiPostResp struct {
	ID      string `json:"id"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIPublisher posts finished documents to the blog save API.
type APIPublisher struct {
	cfg    APIConfig
	client *http.Client
	logger *zap.Logger
}

func NewAPIPublisher(cfg APIConfig, client *http.Client, logger *zap.Logger) (*APIPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("blog api url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIPublisher{cfg: cfg, client: client, logger: logger.Named("publisher")}, nil
}

func (p *APIPublisher) Publish(ctx context.Context, post store.Post) (string, error) {
	post = withDefaults(post)
	body, err := json.Marshal(apiPostPayload{
		Title:     post.Title,
		Content:   post.Content,
		Excerpt:   post.Excerpt,
		Status:    post.Status,
		SessionID: post.SessionID,
		Tone:      post.Tone,
		Audience:  post.Audience,
		Length:    post.Length,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var data apiPostResp
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("failed to decode blog api reply: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("failed to save post: HTTP %d %s", resp.StatusCode, data.Error)
	}
	if data.Success != nil && !*data.Success {
		return "", fmt.Errorf("failed to save post: %s", data.Error)
	}
	if data.ID == "" {
		return "", errors.New("failed to save post: reply has no id")
	}
	p.logger.Info("post published", zap.String("post_id", data.ID), zap.String("title", post.Title))
	return data.ID, nil
}

// StorePublisher saves finished documents into the local post store.
type StorePublisher struct {
	Store *store.Store
}

func (p StorePublisher) Publish(ctx context.Context, post store.Post) (string, error) {
	saved, err := p.Store.SavePost(ctx, withDefaults(post))
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

func withDefaults(post store.Post) store.Post {
	if post.Excerpt == "" {
		post.Excerpt = defaultDigest(plainText(post.Content), excerptLimit)
	}
	if post.Status == "" {
		post.Status = "draft"
	}
	return post
}

// plainText strips markup; tags become spaces so adjacent blocks don't merge.
func plainText(fragment string) string {
	return html.UnescapeString(textOnly.Sanitize(strings.ReplaceAll(fragment, "<", " <")))
}

// defaultDigest compacts whitespace and cuts at limit runes.
func defaultDigest(text string, limit int) string {
	joined := strings.Join(strings.Fields(text), " ")
	r := []rune(joined)
	if len(r) <= limit {
		return joined
	}
	return string(r[:limit])
}

// SessionSink adapts a Publisher to the session's completion port.
type SessionSink struct {
	Publisher Publisher
	SessionID string
	Style     func() generator.StyleConfig
	Logger    *zap.Logger
}

func (s SessionSink) ContentComplete(ctx context.Context, doc workflow.Document) (string, error) {
	post := store.Post{
		SessionID: s.SessionID,
		Title:     doc.Title,
		Content:   doc.Content,
	}
	if s.Style != nil {
		style := s.Style()
		post.Tone = string(style.Tone)
		post.Audience = string(style.Audience)
		post.Length = string(style.Length)
	}
	return s.Publisher.Publish(ctx, post)
}

func (s SessionSink) Cancel(ctx context.Context) {
	if s.Logger != nil {
		s.Logger.Info("session left without saving", zap.String("session_id", s.SessionID))
	}
}
