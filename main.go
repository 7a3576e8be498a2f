package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sectional_blog_writer/config"
	"sectional_blog_writer/generator"
	"sectional_blog_writer/logging"
	"sectional_blog_writer/publisher"
	"sectional_blog_writer/server"
	"sectional_blog_writer/store"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sectional-blog-writer",
	Short: "Outline-first blog drafting: plan, generate section by section, merge",
	Long: `sectional-blog-writer turns a topic or a reference URL into an editable
outline, generates each section in order with an LLM, and merges the
results into one HTML post that is saved locally or sent to a blog API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return err
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server_addr)")

	rootCmd.AddCommand(serveCmd, draftCmd, rewriteCmd, postsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := buildAgent(ctx)
	if err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	pub, err := buildPublisher(st)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Generator:      agent,
		Publisher:      pub,
		Posts:          st,
		AllowedOrigins: cfg.AllowedOrigins,
		OutlineTimeout: cfg.Generation.OutlineTimeout,
		SectionTimeout: cfg.Generation.SectionTimeout,
		RunTimeout:     cfg.Generation.RunTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	listen := cfg.ServerAddr
	if serveAddr != "" {
		listen = serveAddr
	}
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// regenerate holds the request open for one section call
		WriteTimeout: cfg.Generation.SectionTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", zap.String("addr", listen), zap.String("llm", cfg.LLM.Provider), zap.String("sink", cfg.Sink))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func buildAgent(ctx context.Context) (*generator.Agent, error) {
	llm, err := generator.NewLLM(ctx, &generator.LLMSettings{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return generator.NewAgent(llm, generator.NewSourceFetcher(nil, cfg.Generation.SourceMaxChars), logger)
}

func openStore(ctx context.Context) (*store.Store, error) {
	if cfg.Storage.Driver == store.DriverSQLite {
		if err := ensureParentDir(cfg.Storage.DSN); err != nil {
			return nil, err
		}
	}
	return store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, logger)
}

func buildPublisher(st *store.Store) (publisher.Publisher, error) {
	if cfg.Sink == config.SinkAPI {
		return publisher.NewAPIPublisher(publisher.APIConfig{URL: cfg.BlogAPI.URL, Token: cfg.BlogAPI.Token}, nil, logger)
	}
	return publisher.StorePublisher{Store: st}, nil
}
