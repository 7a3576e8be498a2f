package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sectional_blog_writer/generator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeGenerator returns canned outlines and per-section replies.
type fakeGenerator struct {
	mu         sync.Mutex
	outline    generator.Outline
	outlineErr error
	content    map[string]string
	fail       map[string]error
	delay      map[string]time.Duration
	calls      []string
	requests   []generator.SectionRequest
	inFlight   int32
	maxFlight  int32
	block      chan struct{}
}

func newFake(outline generator.Outline) *fakeGenerator {
	return &fakeGenerator{
		outline: outline,
		content: make(map[string]string),
		fail:    make(map[string]error),
		delay:   make(map[string]time.Duration),
	}
}

func (f *fakeGenerator) GenerateOutline(ctx context.Context, req generator.OutlineRequest) (generator.Outline, error) {
	if f.block != nil {
		<-f.block
	}
	if f.outlineErr != nil {
		return generator.Outline{}, f.outlineErr
	}
	return f.outline.Clone(), nil
}

func (f *fakeGenerator) GenerateSection(ctx context.Context, req generator.SectionRequest) (string, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxFlight, m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.SectionID)
	f.requests = append(f.requests, req)
	d := f.delay[req.SectionID]
	err := f.fail[req.SectionID]
	content, ok := f.content[req.SectionID]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if d > 0 {
		time.Sleep(d)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		content = "<content-" + req.SectionID + ">"
	}
	return content, nil
}

func (f *fakeGenerator) setFail(id string, err error) {
	f.mu.Lock()
	f.fail[id] = err
	f.mu.Unlock()
}

func (f *fakeGenerator) setContent(id, content string) {
	f.mu.Lock()
	f.content[id] = content
	f.mu.Unlock()
}

func (f *fakeGenerator) callIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordedNotice struct {
	kind NoticeKind
	msg  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
}

func (r *recordingNotifier) Notify(kind NoticeKind, msg string) {
	r.mu.Lock()
	r.notices = append(r.notices, recordedNotice{kind, msg})
	r.mu.Unlock()
}

func (r *recordingNotifier) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notices {
		if n.kind == NoticeError {
			out = append(out, n.msg)
		}
	}
	return out
}

type recordingSink struct {
	mu        sync.Mutex
	docs      []Document
	cancelled int
	err       error
}

func (r *recordingSink) ContentComplete(ctx context.Context, doc Document) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.docs = append(r.docs, doc)
	return "post-1", nil
}

func (r *recordingSink) Cancel(ctx context.Context) {
	r.mu.Lock()
	r.cancelled++
	r.mu.Unlock()
}

func genericsOutline() generator.Outline {
	return generator.Outline{
		Title: "TS Generics",
		Sections: []generator.Section{
			{ID: "a", Heading: "Intro", Points: []string{"what are generics"}},
			{ID: "b", Heading: "Examples", Points: []string{"basic example", "constraint example"}},
		},
	}
}

func threeSectionOutline() generator.Outline {
	return generator.Outline{
		Title: "Three",
		Sections: []generator.Section{
			{ID: "s1", Heading: "First", Points: []string{"one"}},
			{ID: "s2", Heading: "Second", Points: []string{"two"}},
			{ID: "s3", Heading: "Third", Points: []string{"three"}},
		},
	}
}

func outlineReq(topic string) generator.OutlineRequest {
	return generator.OutlineRequest{Context: topic}
}

func newReadySession(t *testing.T, fake *fakeGenerator, n Notifier, sink Sink) *Session {
	t.Helper()
	s := NewSession("test", fake, n, sink, nil)
	_, err := s.GenerateOutline(context.Background(), outlineReq("topic"))
	require.NoError(t, err)
	require.Equal(t, StageOutline, s.Stage())
	return s
}

func TestEndToEnd_TypeScriptGenerics(t *testing.T) {
	fake := newFake(genericsOutline())
	s := NewSession("e2e", fake, nil, nil, nil)

	outline, err := s.GenerateOutline(context.Background(), generator.OutlineRequest{
		Context: "Write about TypeScript generics",
		URL:     "",
	})
	require.NoError(t, err)
	assert.Equal(t, "TS Generics", outline.Title)
	assert.Equal(t, StageOutline, s.Stage())

	require.NoError(t, s.GenerateSections(context.Background()))
	assert.Equal(t, StageComplete, s.Stage())
	assert.Empty(t, s.CurrentSectionID())

	doc, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, Document{Title: "TS Generics", Content: "<content-a>\n\n<content-b>"}, doc)
}

func TestGenerateSections_PreservesOrderUnderLatency(t *testing.T) {
	fake := newFake(threeSectionOutline())
	fake.delay["s1"] = 30 * time.Millisecond
	fake.delay["s2"] = 10 * time.Millisecond
	fake.delay["s3"] = 0
	s := newReadySession(t, fake, nil, nil)

	require.NoError(t, s.GenerateSections(context.Background()))

	assert.Equal(t, []string{"s1", "s2", "s3"}, fake.callIDs())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.maxFlight), "sections must be generated one at a time")

	doc, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "<content-s1>\n\n<content-s2>\n\n<content-s3>", doc.Content)
}

func TestGenerateSections_FailureIsolation(t *testing.T) {
	fake := newFake(threeSectionOutline())
	fake.setFail("s2", errors.New("upstream 500"))
	notes := &recordingNotifier{}
	s := newReadySession(t, fake, notes, nil)

	require.NoError(t, s.GenerateSections(context.Background()))
	assert.Equal(t, StageComplete, s.Stage())

	res, ok := s.Result("s2")
	require.True(t, ok)
	assert.Equal(t, ResultFailed, res.Status)
	assert.Equal(t, "Second", res.Heading)

	doc, err := s.Finalize()
	require.NoError(t, err)
	want := "<content-s1>\n\n" +
		"<h2>Second</h2><p><em>Content generation failed. Please try again.</em></p>\n\n" +
		"<content-s3>"
	assert.Equal(t, want, doc.Content)
	assert.Empty(t, notes.errors(), "initial-pass failures are not reported")
}

func TestGenerateSections_PassesStyleAndTitle(t *testing.T) {
	fake := newFake(genericsOutline())
	s := NewSession("style", fake, nil, nil, nil)
	style := generator.StyleConfig{Tone: generator.ToneCasual, Audience: generator.AudienceDevelopers, Length: generator.LengthShort}
	_, err := s.GenerateOutline(context.Background(), generator.OutlineRequest{Context: "x", Style: style})
	require.NoError(t, err)
	require.NoError(t, s.GenerateSections(context.Background()))

	require.Len(t, fake.requests, 2)
	for _, req := range fake.requests {
		assert.Equal(t, style, req.Style)
		assert.Equal(t, "TS Generics", req.BlogTitle)
	}
	assert.Equal(t, []string{"basic example", "constraint example"}, fake.requests[1].Points)
}

func TestGenerateOutline_FailureKeepsInputStage(t *testing.T) {
	fake := newFake(genericsOutline())
	fake.outlineErr = errors.New("network down")
	notes := &recordingNotifier{}
	s := NewSession("fail", fake, notes, nil, nil)

	_, err := s.GenerateOutline(context.Background(), outlineReq("topic"))
	require.Error(t, err)
	assert.Equal(t, StageInput, s.Stage())
	assert.Empty(t, s.Outline().Sections)
	require.Len(t, notes.errors(), 1)
	assert.Contains(t, notes.errors()[0], "network down")
}

func TestGenerateOutline_Validation(t *testing.T) {
	s := NewSession("v", newFake(genericsOutline()), nil, nil, nil)

	_, err := s.GenerateOutline(context.Background(), generator.OutlineRequest{Context: "  ", URL: ""})
	assert.ErrorIs(t, err, generator.ErrEmptyInput)

	_, err = s.GenerateOutline(context.Background(), generator.OutlineRequest{Context: "x", Style: generator.StyleConfig{Tone: "angry"}})
	assert.ErrorIs(t, err, generator.ErrInvalidStyle)
	assert.Equal(t, StageInput, s.Stage())
}

func TestGenerateOutline_RejectsDuplicateIDs(t *testing.T) {
	outline := genericsOutline()
	outline.Sections[1].ID = "a"
	s := NewSession("dup", newFake(outline), nil, nil, nil)

	_, err := s.GenerateOutline(context.Background(), outlineReq("topic"))
	assert.ErrorIs(t, err, ErrDuplicateSection)
	assert.Equal(t, StageInput, s.Stage())
}

func TestEdit_SaveReplacesInPlace(t *testing.T) {
	s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)

	buf, err := s.BeginEdit("s2")
	require.NoError(t, err)
	assert.Equal(t, EditBuffer{SectionID: "s2", Heading: "Second", PointsText: "two"}, buf)

	sec, err := s.SaveEdit("s2", "  Renamed ", "  \n\n a \n b \n ")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sec.Points)

	outline := s.Outline()
	require.Len(t, outline.Sections, 3)
	assert.Equal(t, generator.Section{ID: "s2", Heading: "Renamed", Points: []string{"a", "b"}}, outline.Sections[1])
	assert.Nil(t, s.Snapshot().Editing)
}

func TestEdit_RejectsEmptyHeading(t *testing.T) {
	notes := &recordingNotifier{}
	s := newReadySession(t, newFake(threeSectionOutline()), notes, nil)
	before := s.Outline()

	_, err := s.BeginEdit("s1")
	require.NoError(t, err)
	_, err = s.SaveEdit("s1", "   ", "a\nb")
	assert.ErrorIs(t, err, ErrEmptyHeading)
	assert.Equal(t, before, s.Outline())
	assert.NotEmpty(t, notes.errors())
	assert.NotNil(t, s.Snapshot().Editing, "buffer stays open after a rejected save")

	_, err = s.SaveEdit("s1", "Heading", " \n \n")
	assert.ErrorIs(t, err, ErrNoPoints)
	assert.Equal(t, before, s.Outline())
}

func TestEdit_CancelDiscardsBuffer(t *testing.T) {
	s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
	before := s.Outline()

	_, err := s.BeginEdit("s3")
	require.NoError(t, err)
	s.CancelEdit()

	_, err = s.SaveEdit("s3", "x", "y")
	assert.ErrorIs(t, err, ErrNotEditing)
	assert.Equal(t, before, s.Outline())
}

func TestEdit_SaveRequiresMatchingSection(t *testing.T) {
	s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
	before := s.Outline()

	_, err := s.BeginEdit("s1")
	require.NoError(t, err)
	_, err = s.SaveEdit("s2", "Other", "x")
	assert.ErrorIs(t, err, ErrNotEditing)
	assert.Equal(t, before, s.Outline())
	require.NotNil(t, s.Snapshot().Editing)
	assert.Equal(t, "s1", s.Snapshot().Editing.SectionID)
}

func TestEdit_BlockedWhileOutlineRegenerates(t *testing.T) {
	fake := newFake(threeSectionOutline())
	s := newReadySession(t, fake, nil, nil)
	_, err := s.BeginEdit("s1")
	require.NoError(t, err)

	fake.block = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.GenerateOutline(context.Background(), outlineReq("again"))
		done <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outlinePending
	}, time.Second, 5*time.Millisecond)

	_, err = s.SaveEdit("s1", "Edited", "x")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.BeginEdit("s2")
	assert.ErrorIs(t, err, ErrBusy)

	close(fake.block)
	require.NoError(t, <-done)
	assert.Equal(t, "First", s.Outline().Sections[0].Heading)
	assert.Nil(t, s.Snapshot().Editing)
}

func TestEdit_Guards(t *testing.T) {
	s := NewSession("g", newFake(threeSectionOutline()), nil, nil, nil)
	_, err := s.BeginEdit("s1")
	assert.ErrorIs(t, err, ErrInvalidStage)

	s = newReadySession(t, newFake(threeSectionOutline()), nil, nil)
	_, err = s.BeginEdit("nope")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestSplitPoints(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitPoints("  \n\n a \n b \n "))
	assert.Nil(t, SplitPoints("\n \n"))
	assert.Equal(t, []string{"one line"}, SplitPoints("one line"))
}

func TestRegenerate_SuccessOverwrites(t *testing.T) {
	fake := newFake(threeSectionOutline())
	s := newReadySession(t, fake, nil, nil)
	require.NoError(t, s.GenerateSections(context.Background()))

	fake.setContent("s1", "<p>fresh</p>")
	res, err := s.Regenerate(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, Succeeded("<p>fresh</p>"), res)

	got, _ := s.Result("s1")
	assert.Equal(t, "<p>fresh</p>", got.Content)
	assert.Empty(t, s.CurrentSectionID())
}

func TestRegenerate_FailureKeepsPreviousContent(t *testing.T) {
	fake := newFake(threeSectionOutline())
	fake.setContent("s1", "X")
	notes := &recordingNotifier{}
	s := newReadySession(t, fake, notes, nil)
	require.NoError(t, s.GenerateSections(context.Background()))

	fake.setFail("s1", errors.New("rate limited"))
	_, err := s.Regenerate(context.Background(), "s1")
	require.Error(t, err)

	got, ok := s.Result("s1")
	require.True(t, ok)
	assert.Equal(t, Succeeded("X"), got)
	assert.Empty(t, s.CurrentSectionID())
	assert.Len(t, notes.errors(), 1)
	assert.Equal(t, StageComplete, s.Stage())
}

func TestRegenerate_Guards(t *testing.T) {
	fake := newFake(threeSectionOutline())
	s := newReadySession(t, fake, nil, nil)

	_, err := s.Regenerate(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrInvalidStage)

	require.NoError(t, s.GenerateSections(context.Background()))
	_, err = s.Regenerate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestRegenerate_RejectsConcurrentCalls(t *testing.T) {
	fake := newFake(threeSectionOutline())
	s := newReadySession(t, fake, nil, nil)
	require.NoError(t, s.GenerateSections(context.Background()))

	fake.mu.Lock()
	fake.block = make(chan struct{})
	fake.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Regenerate(context.Background(), "s1")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.CurrentSectionID() == "s1" }, time.Second, 5*time.Millisecond)

	_, err := s.Regenerate(context.Background(), "s2")
	assert.ErrorIs(t, err, ErrBusy)

	close(fake.block)
	require.NoError(t, <-done)
	assert.Empty(t, s.CurrentSectionID())

	fake.mu.Lock()
	fake.block = nil
	fake.mu.Unlock()
	_, err = s.Regenerate(context.Background(), "s2")
	assert.NoError(t, err)
}

func TestStartOver_ResetsFromEveryStage(t *testing.T) {
	assertReset := func(t *testing.T, s *Session) {
		t.Helper()
		assert.Equal(t, StageInput, s.Stage())
		assert.Empty(t, s.Outline().Sections)
		assert.Empty(t, s.Outline().Title)
		assert.Empty(t, s.Results())
		assert.Empty(t, s.CurrentSectionID())
		assert.Nil(t, s.Snapshot().CurrentSectionID)
	}

	t.Run("outline", func(t *testing.T) {
		s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
		_, err := s.BeginEdit("s1")
		require.NoError(t, err)
		s.StartOver()
		assertReset(t, s)
		assert.Nil(t, s.Snapshot().Editing)
	})

	t.Run("complete", func(t *testing.T) {
		s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
		require.NoError(t, s.GenerateSections(context.Background()))
		s.StartOver()
		assertReset(t, s)
	})

	t.Run("generating", func(t *testing.T) {
		fake := newFake(threeSectionOutline())
		s := newReadySession(t, fake, nil, nil)
		fake.mu.Lock()
		fake.block = make(chan struct{})
		fake.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- s.GenerateSections(context.Background()) }()
		require.Eventually(t, func() bool { return s.CurrentSectionID() == "s1" }, time.Second, 5*time.Millisecond)
		assert.Equal(t, StageGenerating, s.Stage())

		s.StartOver()
		assertReset(t, s)

		// The in-flight reply lands after the reset and must be dropped.
		close(fake.block)
		assert.ErrorIs(t, <-done, ErrStale)
		assertReset(t, s)
		assert.Equal(t, []string{"s1"}, fake.callIDs())
	})
}

func TestStartOver_DropsStaleOutline(t *testing.T) {
	fake := newFake(threeSectionOutline())
	fake.block = make(chan struct{})
	s := NewSession("stale", fake, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.GenerateOutline(context.Background(), outlineReq("topic"))
		done <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outlinePending
	}, time.Second, 5*time.Millisecond)

	_, err := s.GenerateOutline(context.Background(), outlineReq("again"))
	assert.ErrorIs(t, err, ErrBusy)

	s.StartOver()
	close(fake.block)
	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, StageInput, s.Stage())
	assert.Empty(t, s.Outline().Sections)
}

func TestFinalize_RequiresComplete(t *testing.T) {
	s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
	_, err := s.Finalize()
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestFinalize_MissingResultIsEmpty(t *testing.T) {
	s := newReadySession(t, newFake(threeSectionOutline()), nil, nil)
	require.NoError(t, s.GenerateSections(context.Background()))
	s.mu.Lock()
	delete(s.results, "s2")
	s.mu.Unlock()

	doc, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "<content-s1>\n\n\n\n<content-s3>", doc.Content)
}

func TestComplete_HandsDocumentToSinkOnce(t *testing.T) {
	sink := &recordingSink{}
	s := newReadySession(t, newFake(genericsOutline()), nil, sink)
	require.NoError(t, s.GenerateSections(context.Background()))

	c, err := s.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "post-1", c.Reference)
	assert.Equal(t, "TS Generics", c.Document.Title)

	_, err = s.Complete(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	_, err = s.Regenerate(context.Background(), "a")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	require.Len(t, sink.docs, 1)

	s.Cancel(context.Background())
	assert.Zero(t, sink.cancelled, "cancel after completion is ignored")
}

func TestComplete_SinkFailureAllowsRetry(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	notes := &recordingNotifier{}
	s := newReadySession(t, newFake(genericsOutline()), notes, sink)
	require.NoError(t, s.GenerateSections(context.Background()))

	_, err := s.Complete(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, notes.errors())

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	_, err = s.Complete(context.Background())
	assert.NoError(t, err)
}

func TestCancel_NotifiesSinkOnce(t *testing.T) {
	sink := &recordingSink{}
	s := NewSession("c", newFake(genericsOutline()), nil, sink, nil)
	s.Cancel(context.Background())
	s.Cancel(context.Background())
	assert.Equal(t, 1, sink.cancelled)
}

func TestSnapshot_SectionStatuses(t *testing.T) {
	fake := newFake(threeSectionOutline())
	fake.setFail("s3", errors.New("boom"))
	s := newReadySession(t, fake, nil, nil)

	v := s.Snapshot()
	for _, sec := range v.Sections {
		assert.Equal(t, SectionPending, sec.Status)
	}

	require.NoError(t, s.GenerateSections(context.Background()))
	v = s.Snapshot()
	assert.Equal(t, StageComplete, v.Stage)
	assert.Equal(t, SectionDone, v.Sections[0].Status)
	assert.Equal(t, SectionFailed, v.Sections[2].Status)
	assert.True(t, strings.HasPrefix(v.Sections[2].HTML, "<h2>Third</h2>"))
}

func TestFallbackHTML_EscapesHeading(t *testing.T) {
	assert.Equal(t,
		"<h2>A &lt;b&gt; &amp; C</h2><p><em>Content generation failed. Please try again.</em></p>",
		FallbackHTML("A <b> & C"))
}

type slowGenerator struct{}

func (slowGenerator) GenerateOutline(ctx context.Context, req generator.OutlineRequest) (generator.Outline, error) {
	<-ctx.Done()
	return generator.Outline{}, ctx.Err()
}

func (slowGenerator) GenerateSection(ctx context.Context, req generator.SectionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTimeoutGenerator_BoundsEachCall(t *testing.T) {
	g := TimeoutGenerator{Generator: slowGenerator{}, OutlineTimeout: 10 * time.Millisecond, SectionTimeout: 10 * time.Millisecond}

	_, err := g.GenerateOutline(context.Background(), outlineReq("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = g.GenerateSection(context.Background(), generator.SectionRequest{SectionID: "s1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartSections_ClaimsSessionBeforeRunning(t *testing.T) {
	fake := newFake(threeSectionOutline())
	s := newReadySession(t, fake, nil, nil)

	run, err := s.StartSections()
	require.NoError(t, err)
	assert.Equal(t, StageGenerating, s.Stage())
	assert.Empty(t, fake.callIDs(), "nothing generated until the run is invoked")

	_, err = s.StartSections()
	assert.ErrorIs(t, err, ErrInvalidStage)

	require.NoError(t, run(context.Background()))
	assert.Equal(t, StageComplete, s.Stage())
	assert.Len(t, fake.callIDs(), 3)
}
