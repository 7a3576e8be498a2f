package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sectional_blog_writer/generator"
	"sectional_blog_writer/publisher"
	"sectional_blog_writer/workflow"
)

var (
	draftContext  string
	draftURL      string
	draftTone     string
	draftAudience string
	draftLength   string
	draftOut      string
	draftSave     bool

	rewriteMode    string
	rewriteText    string
	rewriteContext string

	postsLimit int
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Generate a whole post headlessly: outline, every section, merged HTML",
	Example: `  sectional-blog-writer draft --context "TypeScript Generics" --tone casual
  sectional-blog-writer draft --url https://go.dev/blog/intro-generics --save`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(draftContext) == "" && strings.TrimSpace(draftURL) == "" {
			return errors.New("--context or --url is required")
		}
		return nil
	},
	RunE: runDraft,
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Run one style tool (format, rewrite, improve, shorten, expand, fix-grammar) on a text",
	RunE:  runRewrite,
}

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List saved posts, newest first",
	RunE:  runPosts,
}

func init() {
	draftCmd.Flags().StringVar(&draftContext, "context", "", "topic and notes")
	draftCmd.Flags().StringVar(&draftURL, "url", "", "reference URL to draft from")
	draftCmd.Flags().StringVar(&draftTone, "tone", "", "professional|casual|friendly|authoritative|humorous")
	draftCmd.Flags().StringVar(&draftAudience, "audience", "", "general|beginners|developers|experts|executives")
	draftCmd.Flags().StringVar(&draftLength, "length", "", "short|medium|long")
	draftCmd.Flags().StringVarP(&draftOut, "out", "o", "", "write the merged HTML to this file instead of stdout")
	draftCmd.Flags().BoolVar(&draftSave, "save", false, "hand the finished post to the configured sink")

	rewriteCmd.Flags().StringVar(&rewriteMode, "mode", string(generator.ModeImprove), "style tool to apply")
	rewriteCmd.Flags().StringVar(&rewriteText, "text", "", "text to edit (required)")
	rewriteCmd.Flags().StringVar(&rewriteContext, "context", "", "surrounding text for reference")
	_ = rewriteCmd.MarkFlagRequired("text")

	postsCmd.Flags().IntVar(&postsLimit, "limit", 20, "maximum number of posts")
}

func runDraft(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	agent, err := buildAgent(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	var (
		sess *workflow.Session
		sink workflow.Sink
	)
	if draftSave {
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		pub, err := buildPublisher(st)
		if err != nil {
			return err
		}
		sink = publisher.SessionSink{
			Publisher: pub,
			SessionID: id,
			Style:     func() generator.StyleConfig { return sess.Style() },
			Logger:    logger,
		}
	}

	timed := workflow.TimeoutGenerator{
		Generator:      agent,
		OutlineTimeout: cfg.Generation.OutlineTimeout,
		SectionTimeout: cfg.Generation.SectionTimeout,
	}
	sess = workflow.NewSession(id, timed, workflow.LogNotifier{Logger: logger}, sink, logger)

	outline, err := sess.GenerateOutline(ctx, generator.OutlineRequest{
		Context: draftContext,
		URL:     draftURL,
		Style: generator.StyleConfig{
			Tone:     generator.Tone(draftTone),
			Audience: generator.Audience(draftAudience),
			Length:   generator.Length(draftLength),
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Outline: %s\n", outline.Title)
	for i, sec := range outline.Sections {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %d. %s\n", i+1, sec.Heading)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Generation.RunTimeout)
	defer cancel()
	if err := sess.GenerateSections(runCtx); err != nil {
		return err
	}
	failed := 0
	for _, res := range sess.Results() {
		if res.Status == workflow.ResultFailed {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("some sections fell back to placeholders", zap.Int("failed", failed))
	}

	var doc workflow.Document
	if draftSave {
		c, err := sess.Complete(ctx)
		if err != nil {
			return err
		}
		doc = c.Document
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved post %s\n", c.Reference)
	} else {
		doc, err = sess.Finalize()
		if err != nil {
			return err
		}
	}

	if draftOut != "" {
		if err := ensureParentDir(draftOut); err != nil {
			return err
		}
		return os.WriteFile(draftOut, []byte(doc.Content), 0o644)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.Content)
	return err
}

func runRewrite(cmd *cobra.Command, args []string) error {
	agent, err := buildAgent(cmd.Context())
	if err != nil {
		return err
	}
	out, err := agent.Rewrite(cmd.Context(), generator.RewriteRequest{
		Mode:    generator.RewriteMode(rewriteMode),
		Text:    rewriteText,
		Context: rewriteContext,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runPosts(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()
	posts, err := st.ListPosts(cmd.Context(), postsLimit)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No posts yet.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tTITLE")
	for _, p := range posts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.CreatedAt.Local().Format("2006-01-02 15:04"), p.Status, p.Title)
	}
	return w.Flush()
}

func ensureParentDir(path string) error {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
