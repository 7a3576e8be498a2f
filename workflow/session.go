package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sectional_blog_writer/generator"
)

var (
	ErrInvalidStage     = errors.New("operation not allowed in the current stage")
	ErrBusy             = errors.New("another generation is in progress")
	ErrStale            = errors.New("session was reset while the request was in flight")
	ErrSectionNotFound  = errors.New("section not found")
	ErrNotEditing       = errors.New("no section is being edited")
	ErrEmptyHeading     = errors.New("section heading cannot be empty")
	ErrNoPoints         = errors.New("section needs at least one point")
	ErrDuplicateSection = errors.New("outline contains duplicate section ids")
	ErrAlreadyCompleted = errors.New("session already completed")
)

// Stage is the session's position in the outline → sections → merge flow.
type Stage string

const (
	StageInput      Stage = "input"
	StageOutline    Stage = "outline"
	StageGenerating Stage = "generating"
	StageComplete   Stage = "complete"
)

// Generator is the remote generation client the session drives.
type Generator interface {
	GenerateOutline(ctx context.Context, req generator.OutlineRequest) (generator.Outline, error)
	GenerateSection(ctx context.Context, req generator.SectionRequest) (string, error)
}

// Document is the merged post handed to the caller on completion.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Sink is the embedding application's side of the session: it receives the
// finished document once, or hears that the user left without finishing.
type Sink interface {
	ContentComplete(ctx context.Context, doc Document) (string, error)
	Cancel(ctx context.Context)
}

// Completion is what Complete returns: the document and the sink's reference
// for it (for example a stored post id).
type Completion struct {
	Document  Document `json:"document"`
	Reference string   `json:"reference,omitempty"`
}

// EditBuffer holds an in-progress edit of one section. Points are kept as
// newline separated text, the way the editor presents them.
type EditBuffer struct {
	SectionID  string `json:"section_id"`
	Heading    string `json:"heading"`
	PointsText string `json:"points_text"`
}

// Session owns all state of one editing session. Every reply from the
// generator is checked against the epoch it was issued under, so replies
// landing after StartOver are dropped.
type Session struct {
	ID string

	gen    Generator
	notify Notifier
	sink   Sink
	logger *zap.Logger

	mu             sync.Mutex
	stage          Stage
	style          generator.StyleConfig
	outline        generator.Outline
	results        map[string]SectionResult
	current        string
	editing        *EditBuffer
	outlinePending bool
	completing     bool
	completed      bool
	cancelled      bool
	epoch          uint64
	updatedAt      time.Time
}

// NewSession creates a session in the input stage. notify, sink and logger may be nil.
func NewSession(id string, gen Generator, notify Notifier, sink Sink, logger *zap.Logger) *Session {
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ID:        id,
		gen:       gen,
		notify:    notify,
		sink:      sink,
		logger:    logger.Named("session").With(zap.String("session_id", id)),
		stage:     StageInput,
		results:   make(map[string]SectionResult),
		updatedAt: time.Now(),
	}
}

func (s *Session) touch() { s.updatedAt = time.Now() }

// GenerateOutline asks the generator for an outline. On failure the session
// keeps its stage and nothing from the attempt is retained.
func (s *Session) GenerateOutline(ctx context.Context, req generator.OutlineRequest) (generator.Outline, error) {
	style, err := req.Style.Normalize()
	if err != nil {
		s.notify.Notify(NoticeError, err.Error())
		return generator.Outline{}, err
	}
	req.Style = style
	if strings.TrimSpace(req.Context) == "" && strings.TrimSpace(req.URL) == "" {
		s.notify.Notify(NoticeError, "Please provide a topic or a source URL.")
		return generator.Outline{}, generator.ErrEmptyInput
	}

	s.mu.Lock()
	if s.stage != StageInput && s.stage != StageOutline {
		s.mu.Unlock()
		return generator.Outline{}, fmt.Errorf("generate outline in %s: %w", s.stage, ErrInvalidStage)
	}
	if s.outlinePending {
		s.mu.Unlock()
		return generator.Outline{}, ErrBusy
	}
	s.outlinePending = true
	epoch := s.epoch
	s.mu.Unlock()

	outline, err := s.gen.GenerateOutline(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug("dropping stale outline reply")
		return generator.Outline{}, ErrStale
	}
	s.outlinePending = false
	if err == nil {
		err = checkUniqueIDs(outline)
	}
	if err != nil {
		s.logger.Warn("outline generation failed", zap.Error(err))
		s.notify.Notify(NoticeError, "Failed to generate outline: "+err.Error())
		return generator.Outline{}, err
	}

	s.outline = outline.Clone()
	s.style = style
	s.results = make(map[string]SectionResult)
	s.editing = nil
	s.stage = StageOutline
	s.touch()
	s.logger.Info("outline ready", zap.String("title", outline.Title), zap.Int("sections", len(outline.Sections)))
	s.notify.Notify(NoticeSuccess, "Outline generated.")
	return s.outline.Clone(), nil
}

func checkUniqueIDs(o generator.Outline) error {
	if len(o.Sections) == 0 {
		return generator.ErrMalformedOutline
	}
	seen := make(map[string]bool, len(o.Sections))
	for _, sec := range o.Sections {
		if sec.ID == "" || seen[sec.ID] {
			return ErrDuplicateSection
		}
		seen[sec.ID] = true
	}
	return nil
}

// BeginEdit loads a section into the edit buffer.
func (s *Session) BeginEdit(sectionID string) (EditBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageOutline {
		return EditBuffer{}, fmt.Errorf("edit in %s: %w", s.stage, ErrInvalidStage)
	}
	if s.outlinePending {
		return EditBuffer{}, ErrBusy
	}
	idx := s.outline.Index(sectionID)
	if idx < 0 {
		return EditBuffer{}, fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}
	sec := s.outline.Sections[idx]
	s.editing = &EditBuffer{
		SectionID:  sec.ID,
		Heading:    sec.Heading,
		PointsText: strings.Join(sec.Points, "\n"),
	}
	return *s.editing, nil
}

// SaveEdit validates the buffer contents and replaces the edited section in
// place. sectionID must match the open buffer. A rejected edit leaves both the
// outline and the buffer untouched.
func (s *Session) SaveEdit(sectionID, heading, pointsText string) (generator.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageOutline {
		return generator.Section{}, fmt.Errorf("save edit in %s: %w", s.stage, ErrInvalidStage)
	}
	if s.outlinePending {
		return generator.Section{}, ErrBusy
	}
	if s.editing == nil || s.editing.SectionID != sectionID {
		return generator.Section{}, ErrNotEditing
	}
	heading = strings.TrimSpace(heading)
	if heading == "" {
		s.notify.Notify(NoticeError, "Section heading cannot be empty.")
		return generator.Section{}, ErrEmptyHeading
	}
	points := SplitPoints(pointsText)
	if len(points) == 0 {
		s.notify.Notify(NoticeError, "Add at least one point to the section.")
		return generator.Section{}, ErrNoPoints
	}
	idx := s.outline.Index(s.editing.SectionID)
	if idx < 0 {
		s.editing = nil
		return generator.Section{}, ErrSectionNotFound
	}

	sec := generator.Section{ID: s.editing.SectionID, Heading: heading, Points: points}
	s.outline.Sections[idx] = sec
	s.editing = nil
	s.touch()
	s.notify.Notify(NoticeSuccess, "Section updated.")
	return sec, nil
}

// CancelEdit discards the edit buffer.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	s.editing = nil
	s.mu.Unlock()
}

// SplitPoints turns a multi-line buffer into trimmed, non-empty points.
func SplitPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			points = append(points, p)
		}
	}
	return points
}

// GenerateSections runs generation for every section in outline order, one
// at a time. A failed section gets a failed result and the run moves on; the
// session always ends in StageComplete unless it was reset meanwhile.
func (s *Session) GenerateSections(ctx context.Context) error {
	run, err := s.StartSections()
	if err != nil {
		return err
	}
	return run(ctx)
}

// StartSections moves the session into StageGenerating and returns the
// sequential run. Callers that run it in the background get stage errors
// synchronously.
func (s *Session) StartSections() (func(ctx context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageOutline {
		return nil, fmt.Errorf("generate sections in %s: %w", s.stage, ErrInvalidStage)
	}
	if s.outlinePending {
		return nil, ErrBusy
	}
	s.stage = StageGenerating
	s.editing = nil
	s.results = make(map[string]SectionResult)
	outline := s.outline.Clone()
	style := s.style
	epoch := s.epoch
	s.touch()
	return func(ctx context.Context) error {
		return s.runSections(ctx, outline, style, epoch)
	}, nil
}

func (s *Session) runSections(ctx context.Context, outline generator.Outline, style generator.StyleConfig, epoch uint64) error {
	s.logger.Info("section generation started", zap.Int("sections", len(outline.Sections)))
	failed := 0
	for _, sec := range outline.Sections {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return ErrStale
		}
		s.current = sec.ID
		s.mu.Unlock()

		content, err := s.gen.GenerateSection(ctx, generator.SectionRequest{
			SectionID: sec.ID,
			Heading:   sec.Heading,
			Points:    sec.Points,
			BlogTitle: outline.Title,
			Style:     style,
		})

		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			s.logger.Debug("dropping stale section reply", zap.String("section_id", sec.ID))
			return ErrStale
		}
		if err != nil {
			failed++
			s.logger.Warn("section generation failed", zap.String("section_id", sec.ID), zap.Error(err))
			s.results[sec.ID] = Failed(sec.Heading)
		} else {
			s.results[sec.ID] = Succeeded(content)
		}
		s.touch()
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return ErrStale
	}
	s.current = ""
	s.stage = StageComplete
	s.touch()
	s.logger.Info("section generation finished", zap.Int("sections", len(outline.Sections)), zap.Int("failed", failed))
	s.notify.Notify(NoticeSuccess, "Blog content generated.")
	return nil
}

// Regenerate re-runs generation for one section after the initial pass.
// Only one regeneration may be in flight; a failure keeps the old content.
func (s *Session) Regenerate(ctx context.Context, sectionID string) (SectionResult, error) {
	s.mu.Lock()
	if s.stage != StageComplete {
		s.mu.Unlock()
		return SectionResult{}, fmt.Errorf("regenerate in %s: %w", s.stage, ErrInvalidStage)
	}
	if s.completed || s.completing {
		s.mu.Unlock()
		return SectionResult{}, ErrAlreadyCompleted
	}
	if s.current != "" {
		s.mu.Unlock()
		return SectionResult{}, ErrBusy
	}
	idx := s.outline.Index(sectionID)
	if idx < 0 {
		s.mu.Unlock()
		return SectionResult{}, fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}
	sec := s.outline.Sections[idx]
	sec.Points = append([]string(nil), sec.Points...)
	title := s.outline.Title
	style := s.style
	epoch := s.epoch
	s.current = sectionID
	s.mu.Unlock()

	content, err := s.gen.GenerateSection(ctx, generator.SectionRequest{
		SectionID: sec.ID,
		Heading:   sec.Heading,
		Points:    sec.Points,
		BlogTitle: title,
		Style:     style,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return SectionResult{}, ErrStale
	}
	s.current = ""
	if err != nil {
		s.logger.Warn("regeneration failed", zap.String("section_id", sectionID), zap.Error(err))
		s.notify.Notify(NoticeError, fmt.Sprintf("Failed to regenerate %q.", sec.Heading))
		return s.results[sectionID], fmt.Errorf("regenerate %s: %w", sectionID, err)
	}
	res := Succeeded(content)
	s.results[sectionID] = res
	s.touch()
	s.notify.Notify(NoticeSuccess, fmt.Sprintf("Regenerated %q.", sec.Heading))
	return res, nil
}

// Finalize merges all section results in outline order.
func (s *Session) Finalize() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked()
}

func (s *Session) finalizeLocked() (Document, error) {
	if s.stage != StageComplete {
		return Document{}, fmt.Errorf("finalize in %s: %w", s.stage, ErrInvalidStage)
	}
	parts := make([]string, len(s.outline.Sections))
	for i, sec := range s.outline.Sections {
		if res, ok := s.results[sec.ID]; ok {
			parts[i] = res.HTML()
		}
	}
	return Document{Title: s.outline.Title, Content: strings.Join(parts, "\n\n")}, nil
}

// Complete finalizes the document and hands it to the sink. It succeeds at
// most once per generated draft.
func (s *Session) Complete(ctx context.Context) (Completion, error) {
	s.mu.Lock()
	if s.completed || s.completing {
		s.mu.Unlock()
		return Completion{}, ErrAlreadyCompleted
	}
	if s.current != "" {
		s.mu.Unlock()
		return Completion{}, ErrBusy
	}
	doc, err := s.finalizeLocked()
	if err != nil {
		s.mu.Unlock()
		return Completion{}, err
	}
	s.completing = true
	epoch := s.epoch
	sink := s.sink
	s.mu.Unlock()

	var ref string
	if sink != nil {
		ref, err = sink.ContentComplete(ctx, doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return Completion{}, ErrStale
	}
	s.completing = false
	if err != nil {
		s.logger.Error("saving document failed", zap.Error(err))
		s.notify.Notify(NoticeError, "Failed to save the post: "+err.Error())
		return Completion{}, fmt.Errorf("complete: %w", err)
	}
	s.completed = true
	s.touch()
	s.logger.Info("document completed", zap.String("title", doc.Title), zap.String("reference", ref))
	s.notify.Notify(NoticeSuccess, "Post saved.")
	return Completion{Document: doc, Reference: ref}, nil
}

// Cancel tells the sink the user left without completing. It is a no-op
// after completion or a previous cancel.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	if s.completed || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Cancel(ctx)
	}
	s.logger.Info("session cancelled")
}

// StartOver resets the session to the input stage from anywhere. Replies to
// requests issued before the reset are dropped when they arrive.
func (s *Session) StartOver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.stage = StageInput
	s.style = generator.StyleConfig{}
	s.outline = generator.Outline{}
	s.results = make(map[string]SectionResult)
	s.current = ""
	s.editing = nil
	s.outlinePending = false
	s.completing = false
	s.completed = false
	s.touch()
	s.logger.Info("session reset")
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Outline() generator.Outline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outline.Clone()
}

// Style returns the style the current outline was generated with.
func (s *Session) Style() generator.StyleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// CurrentSectionID returns the section being generated, or "" when idle.
func (s *Session) CurrentSectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Result returns the recorded result for a section.
func (s *Session) Result(sectionID string) (SectionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[sectionID]
	return res, ok
}

// Results returns a copy of all recorded section results.
func (s *Session) Results() map[string]SectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SectionResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}
