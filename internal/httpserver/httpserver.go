package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/api"
	"github.com/caldave/caldave/internal/config"
	"github.com/caldave/caldave/internal/feed"
	"github.com/caldave/caldave/internal/ingest"
	"github.com/caldave/caldave/internal/mailer"
	"github.com/caldave/caldave/internal/recurrence"
	"github.com/caldave/caldave/internal/router"
	"github.com/caldave/caldave/internal/service"
	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/internal/storage/postgres"
	"github.com/caldave/caldave/internal/storage/sqlite"
)

type Server struct {
	http         *http.Server
	stopExtender context.CancelFunc
	logger       zerolog.Logger
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	var store storage.Store
	var err error

	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.SQLitePath, logger)
	default:
		err = errors.New("unknown storage type: " + cfg.Storage.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	prodID := cfg.ICS.BuildProdID()

	engine := recurrence.NewEngine(store, cfg.Recurrence, logger)
	sender := mailer.New(store, mailer.Config{
		ProdID:      prodID,
		EmailDomain: cfg.EmailDomain,
		APIURL:      cfg.Mail.APIURL,
		APIToken:    cfg.Mail.APIToken,
		DefaultFrom: cfg.Mail.DefaultFrom,
	}, logger)
	events := service.NewEventService(store, engine, sender, logger)
	processor := ingest.NewProcessor(store, engine, ingest.NewFetcher(nil, logger), logger)
	feeds := feed.NewService(store, prodID)

	handlers := api.NewHandlers(store, events, processor, feeds, cfg.HTTP.MaxWebhookBytes, logger)
	mux := router.New(handlers, logger)

	extCtx, stopExtender := context.WithCancel(context.Background())
	go engine.RunExtender(extCtx)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		stopExtender: stopExtender,
		logger:       logger,
	}
	cleanup := func() {
		stopExtender()
		store.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.HTTP.Addr, cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopExtender()
	return s.http.Shutdown(ctx)
}
