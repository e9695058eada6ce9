package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/creditdesk/apiserver/config"
	"github.com/creditdesk/apiserver/internal/bot"
	"github.com/creditdesk/apiserver/internal/cache"
	"github.com/creditdesk/apiserver/internal/db"
	"github.com/creditdesk/apiserver/internal/handlers"
	"github.com/creditdesk/apiserver/internal/logger"
	"github.com/creditdesk/apiserver/internal/metrics"
	"github.com/creditdesk/apiserver/internal/mq"
	"github.com/creditdesk/apiserver/internal/services"
	"github.com/creditdesk/apiserver/internal/storage"
	"github.com/creditdesk/apiserver/internal/store"
)

// Server wraps the HTTP server, the router and the long-lived dependencies
// that need explicit shutdown.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	broker     *mq.MQ
	redis      *redis.Client
	telegram   *bot.Bot
	log        zerolog.Logger

	cancelWorkers context.CancelFunc
}

// New constructs a fully wired Server from configuration.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker, err := mq.FromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("connect message broker: %w", err)
	}

	objects, err := storage.FromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		closeBroker(broker)
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	redisClient, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		// The throttle is an optimization; start without it.
		log.Warn().Err(err).Msg("redis unavailable, verification throttling disabled")
		redisClient = nil
	}

	userRepo := store.NewUserRepository(dbConn)
	ledgerStore := store.NewLedger(dbConn)
	verificationRepo := store.NewVerificationRepository(dbConn)

	var publisher services.EventPublisher
	if broker != nil {
		publisher = broker
	}
	var objectStore services.ObjectStore
	if objects != nil {
		objectStore = objects
	}

	userService := services.NewUserService(userRepo)
	ledgerService := services.NewLedgerService(ledgerStore, publisher, log)
	exportService := services.NewExportService(ledgerStore, objectStore)

	var telegram *bot.Bot
	var sender services.CodeSender = disabledSender{}
	if cfg.Telegram.BotToken != "" {
		telegram, err = bot.New(cfg.Telegram.BotToken, userRepo, log)
		if err != nil {
			_ = dbConn.Close()
			closeBroker(broker)
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, fmt.Errorf("connect telegram bot: %w", err)
		}
		sender = telegram
	} else {
		log.Warn().Msg("telegram bot token not set, account verification disabled")
	}

	var throttle services.RequestThrottle
	if redisClient != nil {
		throttle = cache.NewVerificationThrottle(redisClient)
	}

	codeTTL := time.Duration(cfg.Telegram.CodeTTLSeconds) * time.Second
	verificationService := services.NewVerificationService(
		userRepo, verificationRepo, sender, throttle, codeTTL, log,
	)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(log),
		metrics.Middleware,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, verificationService, jwtSecret)
	})
	router.Route("/seller", func(r chi.Router) {
		handlers.SellerRouter(r, ledgerService, userService, jwtSecret)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, ledgerService, userService, exportService, jwtSecret)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
		redis:      redisClient,
		telegram:   telegram,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server along with the Telegram bot and the ledger
// event consumer. It blocks until the server stops.
func (s *Server) Start() error {
	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelWorkers = cancel

	if s.telegram != nil {
		go s.telegram.Run(workerCtx)
		if s.broker != nil {
			go func() {
				err := s.broker.Subscribe(workerCtx, services.EventChannel, s.telegram.HandleLedgerEvent)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Msg("ledger event subscription stopped")
				}
			}()
		}
	}

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the workers and closes all connections.
func (s *Server) Shutdown() error {
	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	closeBroker(s.broker)
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

// requestLogger emits one structured log line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func closeBroker(broker *mq.MQ) {
	if broker != nil {
		_ = broker.Close()
	}
}

// disabledSender stands in when no Telegram bot token is configured.
type disabledSender struct{}

func (disabledSender) SendCode(int64, string, time.Duration) error {
	return errors.New("telegram bot is not configured")
}
