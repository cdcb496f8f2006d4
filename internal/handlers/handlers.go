package handlers

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/rs/cors"

	"github.com/abrezinsky/cragboard/internal/auth"
	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/services"
)

// BoxServer upgrades a request into a box subscription
type BoxServer interface {
	ServeBox(w http.ResponseWriter, r *http.Request, boxID int, trusted bool)
}

// Options configures cross-origin access for display and judge clients
type Options struct {
	AllowedOrigins       []string
	AllowedOriginPattern string
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Contest  services.ContestServicer
	Results  services.ResultsServicer
	Settings services.SettingsServicer
	Links    services.LinkServicer
	Auth     *auth.Auth
	Hub      BoxServer
	Log      logger.Logger
	cors     *cors.Cors
}

// New creates a new Handlers instance with all dependencies
func New(
	contest services.ContestServicer,
	results services.ResultsServicer,
	settings services.SettingsServicer,
	links services.LinkServicer,
	operatorAuth *auth.Auth,
	hub BoxServer,
	log logger.Logger,
	opts Options,
) (*Handlers, error) {
	c, err := newCORS(opts)
	if err != nil {
		return nil, err
	}

	return &Handlers{
		Contest:  contest,
		Results:  results,
		Settings: settings,
		Links:    links,
		Auth:     operatorAuth,
		Hub:      hub,
		Log:      log,
		cors:     c,
	}, nil
}

// NewForTesting creates a Handlers instance with a known operator password
// ("test-password"), no websocket hub and permissive CORS.
func NewForTesting(
	contest services.ContestServicer,
	results services.ResultsServicer,
	settings services.SettingsServicer,
	links services.LinkServicer,
) *Handlers {
	return &Handlers{
		Contest:  contest,
		Results:  results,
		Settings: settings,
		Links:    links,
		Auth:     auth.New("test-password"),
		Log:      logger.Discard(),
	}
}

func newCORS(opts Options) (*cors.Cors, error) {
	allow, err := originMatcher(opts)
	if err != nil || allow == nil {
		return nil, err
	}
	return cors.New(cors.Options{
		AllowOriginFunc:  allow,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}), nil
}

// originMatcher returns nil when no cross-origin access is configured
func originMatcher(opts Options) (func(origin string) bool, error) {
	if len(opts.AllowedOrigins) == 0 && opts.AllowedOriginPattern == "" {
		return nil, nil
	}

	var re *regexp.Regexp
	if opts.AllowedOriginPattern != "" {
		var err error
		if re, err = regexp.Compile(opts.AllowedOriginPattern); err != nil {
			return nil, fmt.Errorf("allowed origin pattern: %w", err)
		}
	}
	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = true
	}
	return func(origin string) bool {
		if allowed["*"] || allowed[origin] {
			return true
		}
		return re != nil && re.MatchString(origin)
	}, nil
}

// OriginChecker returns a websocket origin check consistent with the CORS
// settings. A nil result leaves the upgrader's same-origin default.
func OriginChecker(opts Options) (func(r *http.Request) bool, error) {
	allow, err := originMatcher(opts)
	if err != nil || allow == nil {
		return nil, err
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allow(origin)
	}, nil
}
