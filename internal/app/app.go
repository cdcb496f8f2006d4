package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/auth"
	"github.com/abrezinsky/cragboard/internal/config"
	"github.com/abrezinsky/cragboard/internal/handlers"
	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/repository"
	"github.com/abrezinsky/cragboard/internal/services"
	"github.com/abrezinsky/cragboard/internal/websocket"
	"github.com/abrezinsky/cragboard/pkg/resultsapi"
)

const shutdownTimeout = 10 * time.Second

// App holds all application dependencies
type App struct {
	cfg       config.Config
	log       logger.Logger
	handlers  *handlers.Handlers
	repo      *repository.Repository
	settings  *services.SettingsService
	contest   *services.ContestService
	hub       *websocket.Hub
	publisher services.Publisher
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type options struct {
	clock     clockwork.Clock
	results   resultsapi.Client
	publisher services.Publisher
}

// Option overrides a collaborator, mostly for tests
type Option func(*options)

// WithClock sets the clock shared by sessions, heartbeats and timer sync
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithResultsClient replaces the HTTP client for the external results service
func WithResultsClient(c resultsapi.Client) Option {
	return func(o *options) { o.results = c }
}

// WithPublisher replaces the NATS publisher
func WithPublisher(p services.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New creates and initializes a new application instance
func New(cfg config.Config, log logger.Logger, operatorAuth *auth.Auth, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	settingsService := services.NewSettingsService(log, repo)

	resultsClient := o.results
	if resultsClient == nil {
		resultsClient = resultsapi.NewHTTPClient("", log)
	}
	settingsService.UseResultsClient(resultsClient)
	if cfg.ResultsURL != "" {
		err = settingsService.SetResultsURL(ctx, cfg.ResultsURL)
	} else {
		var stored string
		if stored, err = settingsService.GetResultsURL(ctx); err == nil && stored != "" {
			resultsClient.SetBaseURL(stored)
		}
	}
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("results service url: %w", err)
	}
	if cfg.BaseURL != "" {
		if err := settingsService.SetBaseURL(ctx, strings.TrimSuffix(cfg.BaseURL, "/")); err != nil {
			repo.Close()
			return nil, fmt.Errorf("base url: %w", err)
		}
	}

	publisher := o.publisher
	if publisher == nil && cfg.NATSURL != "" {
		nats, err := services.NewNATSPublisher(services.DefaultNATSConfig(cfg.NATSURL, cfg.NATSSubjectPrefix), log)
		if err != nil {
			repo.Close()
			return nil, err
		}
		log.Info("Publishing to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
		publisher = nats
	}
	if publisher == nil {
		publisher = services.NoopPublisher{}
	}

	resultsService := services.NewResultsService(log, repo, resultsClient, publisher)
	contestService := services.NewContestService(log,
		services.WithClock(o.clock),
		services.WithPublisher(publisher),
		services.WithFinalizer(resultsService),
		services.WithTimerSyncInterval(cfg.TimerSyncInterval))

	corsOpts := handlers.Options{
		AllowedOrigins:       cfg.AllowedOrigins,
		AllowedOriginPattern: cfg.AllowedOriginPattern,
	}
	hubOpts := []websocket.Option{
		websocket.WithClock(o.clock),
		websocket.WithHeartbeat(cfg.HeartbeatInterval),
	}
	checkOrigin, err := handlers.OriginChecker(corsOpts)
	if err != nil {
		repo.Close()
		publisher.Close()
		return nil, err
	}
	if checkOrigin != nil {
		hubOpts = append(hubOpts, websocket.WithCheckOrigin(checkOrigin))
	}
	hub := websocket.New(log, contestService, hubOpts...)
	contestService.SetBroadcaster(hub)

	linkService := services.NewLinkService(settingsService, contestService)

	h, err := handlers.New(
		contestService,
		resultsService,
		settingsService,
		linkService,
		operatorAuth,
		hub,
		log,
		corsOpts,
	)
	if err != nil {
		repo.Close()
		publisher.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	if cfg.EventFile != "" {
		if err := loadEvent(ctx, contestService, cfg.EventFile, log); err != nil {
			repo.Close()
			publisher.Close()
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	hub.Start(runCtx)
	go contestService.Run(runCtx)

	return &App{
		cfg:       cfg,
		log:       log,
		handlers:  h,
		repo:      repo,
		settings:  settingsService,
		contest:   contestService,
		hub:       hub,
		publisher: publisher,
		cancel:    cancel,
	}, nil
}

// loadEvent creates the boxes declared in the event file
func loadEvent(ctx context.Context, contest *services.ContestService, path string, log logger.Logger) error {
	ef, err := config.LoadEventFile(path)
	if err != nil {
		return err
	}
	for i, box := range ef.Boxes {
		if _, err := contest.Ingest(ctx, box.Roster()); err != nil {
			return fmt.Errorf("event file box %d: %w", i, err)
		}
	}
	log.Info("Event loaded", "file", path, "name", ef.Name, "boxes", len(ef.Boxes))
	return nil
}

// Router returns the configured HTTP router
func (a *App) Router() chi.Router {
	return a.handlers.Router()
}

// Contest exposes the box authority
func (a *App) Contest() *services.ContestService {
	return a.contest
}

// Close stops background work, waits for pending results deliveries and
// releases the database and bus connections. It is safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.contest.Wait()
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("Failed to close publisher", "error", err)
		}
		if err := a.repo.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	})
}

// Run serves HTTP until ctx is done, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	if a.cfg.BaseURL == "" {
		// Judges scan the QR link from phones, so loopback is no use here.
		a.ensureBaseURL(ctx, fmt.Sprintf("http://%s%s", lanAddress(systemInterfaces), portSuffix(a.cfg.Addr)))
	}
	baseURL, _ := a.settings.GetBaseURL(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	a.log.Info("Server starting", "addr", a.cfg.Addr, "url", baseURL)

	select {
	case err := <-errc:
		a.Close()
		return err
	case <-ctx.Done():
	}

	a.log.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.Close()
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// portSuffix turns ":8081" or "0.0.0.0:8081" into ":8081"
func portSuffix(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil && port != "" {
		return ":" + port
	}
	return addr
}
