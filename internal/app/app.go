package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lfialho/parley/internal/httpapi"
	"github.com/lfialho/parley/internal/jobs"
	"github.com/lfialho/parley/internal/notifications"
	"github.com/lfialho/parley/internal/store"
	"github.com/lfialho/parley/internal/timeline"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	store      *store.Store
	timeline   *timeline.Logger
	httpClient *http.Client // Shared HTTP client with connection pooling for TTS
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	tl := timeline.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Shared HTTP client with connection pooling for TTS.
	// Keeps TCP connections alive to reduce latency for repeated TTS calls to ElevenLabs.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // ElevenLabs is single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      s,
		timeline:   tl,
		httpClient: httpClient,
	}, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:          a.cfg.PublicBaseURL,
		OpenAIAPIKey:           a.cfg.OpenAIAPIKey,
		ElevenLabsAPIKey:       a.cfg.ElevenLabsAPIKey,
		TTSVoiceID:             a.cfg.TTSVoiceID,
		TTSStability:           a.cfg.TTSStability,
		TTSSimilarity:          a.cfg.TTSSimilarity,
		TTSHTTPClient:          a.httpClient,
		DefaultDeadlineSeconds: a.cfg.DefaultDeadlineSeconds,
		Autoplay:               a.cfg.Autoplay,
		GreetingText:           a.cfg.GreetingText,
		TranscribeEndpoint:     a.cfg.TranscribeEndpoint,
		TranscribeAuthToken:    a.cfg.TranscribeAuthToken,
		JWTSecret:              a.cfg.JWTSecret,
		JWTExpiry:              a.cfg.JWTExpiry,
		CandidateExpiry:        a.cfg.CandidateExpiry,
		RecruiterKeys:          a.cfg.RecruiterKeys,
		DiscordWebhookURL:      a.cfg.DiscordWebhookURL,
		APNsKeyPath:            a.cfg.APNsKeyPath,
		APNsKeyID:              a.cfg.APNsKeyID,
		APNsTeamID:             a.cfg.APNsTeamID,
		APNsBundleID:           a.cfg.APNsBundleID,
		APNsProduction:         a.cfg.APNsProduction,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.timeline, sessions)
}

// Janitor builds the background sweep job for stale interviews and
// stuck uploads.
func (a *App) Janitor() *jobs.JanitorJob {
	discord := notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.logger)
	return jobs.NewJanitorJob(a.store, discord, a.logger, a.cfg.JanitorInterval)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
