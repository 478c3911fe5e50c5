package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"
	"golang.org/x/sync/errgroup"

	app "github.com/kode4food/tollgate"
	"github.com/kode4food/tollgate/internal/archive"
	"github.com/kode4food/tollgate/internal/config"
	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/internal/journal"
	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/internal/server"
	"github.com/kode4food/tollgate/internal/workflow/gate"
	"github.com/kode4food/tollgate/internal/workflow/order"
	"github.com/kode4food/tollgate/pkg/log"
)

type tollgate struct {
	cfg        *config.Config
	timebox    *timebox.Timebox
	store      *timebox.Store
	index      *journal.Index
	archiver   *archive.BlobArchiver
	notifier   notify.Notifier
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
}

const archivePrefix = "executions/"

var (
	ErrCreateTimebox  = errors.New("failed to create timebox")
	ErrCreateStore    = errors.New("failed to create journal store")
	ErrOpenArchive    = errors.New("failed to open archive bucket")
	ErrCreateNotifier = errors.New("failed to create notifier")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &tollgate{cfg: cfg}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *tollgate) run() error {
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	if err := s.initializeStores(ctx); err != nil {
		return err
	}
	defer s.closeStores()

	if err := s.initializeEngine(); err != nil {
		return err
	}

	s.setupServer()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(s.serve)
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *tollgate) setupLogging() {
	level, err := log.ParseLevel(s.cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Tollgate starting",
		slog.String("log_level", s.cfg.LogLevel),
		slog.String("mode", string(s.cfg.Mode)))

	slog.Info("Configuration loaded",
		slog.String("journal_redis_addr", s.cfg.Journal.Addr),
		slog.Int("journal_redis_db", s.cfg.Journal.DB),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort),
		slog.Bool("slack_enabled", s.cfg.Slack.Enabled()),
		slog.Bool("archive_enabled", s.cfg.ArchiveBucketURL != ""))
}

func (s *tollgate) initializeStores(ctx context.Context) error {
	var err error

	s.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  s.cfg.CacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	s.store, err = s.timebox.NewStore(s.cfg.Journal)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateStore, err)
	}
	s.index = journal.NewIndex(s.cfg.Journal)

	if url := s.cfg.ArchiveBucketURL; url != "" {
		s.archiver, err = archive.NewBlobArchiver(ctx, url, archivePrefix)
		if err != nil {
			s.closeStores()
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
	}
	return nil
}

func (s *tollgate) initializeEngine() error {
	if err := s.initializeNotifier(); err != nil {
		return err
	}

	deps := engine.Dependencies{
		Store:    s.store,
		Index:    s.index,
		Notifier: s.notifier,
	}
	if s.archiver != nil {
		deps.Archiver = s.archiver
	}

	eng, err := engine.New(s.cfg, deps)
	if err != nil {
		return err
	}
	s.engine = eng

	if err := s.registerPrograms(); err != nil {
		return err
	}
	return s.engine.Start()
}

func (s *tollgate) initializeNotifier() error {
	if !s.cfg.Slack.Enabled() {
		s.notifier = notify.NewLogNotifier(slog.Default())
		return nil
	}
	n, err := notify.NewSlackNotifier(s.cfg.Slack)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateNotifier, err)
	}
	s.notifier = n
	return nil
}

func (s *tollgate) registerPrograms() error {
	return errors.Join(
		s.engine.Register(order.Program(order.Options{
			ApprovalTimeout: s.cfg.ApprovalTimeout,
		})),
		s.engine.Register(gate.Program(s.cfg.ApprovalTimeout)),
	)
}

func (s *tollgate) setupServer() {
	s.apiServer = server.NewServer(s.engine)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: s.apiServer.SetupRoutes(),
	}
}

func (s *tollgate) serve() error {
	slog.Info("HTTP server starting",
		slog.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server error", log.Error(err))
		return err
	}
	return nil
}

func (s *tollgate) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}
	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	slog.Info("Server exited")
}

func (s *tollgate) closeStores() {
	if s.archiver != nil {
		_ = s.archiver.Close()
	}
	if s.index != nil {
		_ = s.index.Close()
	}
	_ = s.timebox.Close()
}
