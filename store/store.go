// Package store persists finished blog posts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var ErrPostNotFound = errors.New("post not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultListLimit = 50

// Post is a saved blog post produced by a completed session.
type Post struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	Content   string    `json:"content"`
	Tone      string    `json:"tone,omitempty"`
	Audience  string    `json:"audience,omitempty"`
	Length    string    `json:"length,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a database/sql handle for either SQLite or PostgreSQL.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects, verifies the connection and applies migrations.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("storage dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// single writer; avoids "database is locked" between pooled conns
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger.Named("store")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("storage ready", zap.String("driver", driver))
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	var pragmas []string
	if s.driver == DriverSQLite {
		pragmas = []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA busy_timeout=5000;",
		}
	}
	stmts := append(pragmas,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			title TEXT NOT NULL,
			excerpt TEXT NOT NULL,
			content TEXT NOT NULL,
			tone TEXT NOT NULL DEFAULT '',
			audience TEXT NOT NULL DEFAULT '',
			length TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at_unixms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS posts_created_idx ON posts (created_at_unixms)`,
	)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SavePost inserts p, assigning an id, status and timestamp when missing.
func (s *Store) SavePost(ctx context.Context, p Post) (Post, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Post{}, errors.New("post title is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = "draft"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO posts (id, session_id, title, excerpt, content, tone, audience, length, status, created_at_unixms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.SessionID, p.Title, p.Excerpt, p.Content, p.Tone, p.Audience, p.Length, p.Status, p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Post{}, fmt.Errorf("save post: %w", err)
	}
	s.logger.Info("post saved", zap.String("post_id", p.ID), zap.String("session_id", p.SessionID))
	return p, nil
}

const postColumns = `id, session_id, title, excerpt, content, tone, audience, length, status, created_at_unixms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	var ms int64
	if err := row.Scan(&p.ID, &p.SessionID, &p.Title, &p.Excerpt, &p.Content, &p.Tone, &p.Audience, &p.Length, &p.Status, &ms); err != nil {
		return Post{}, err
	}
	p.CreatedAt = time.UnixMilli(ms).UTC()
	return p, nil
}

// GetPost loads one post by id.
func (s *Store) GetPost(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+postColumns+` FROM posts WHERE id = ?`), id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// ListPosts returns the newest posts first.
func (s *Store) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+postColumns+` FROM posts ORDER BY created_at_unixms DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("list posts: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
