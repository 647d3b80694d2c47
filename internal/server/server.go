package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/akazantsev/walletd/internal/core/cache"
	"github.com/akazantsev/walletd/internal/core/events"
	eventskafka "github.com/akazantsev/walletd/internal/core/events/kafka"
	"github.com/akazantsev/walletd/internal/core/handler"
	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/metrics"
	middlWre "github.com/akazantsev/walletd/internal/core/middleware"
	"github.com/akazantsev/walletd/internal/core/repository"
	"github.com/akazantsev/walletd/internal/core/repository/postgres"
	"github.com/akazantsev/walletd/internal/core/usecase"
	"github.com/akazantsev/walletd/pkg/config"
	"github.com/akazantsev/walletd/pkg/postgresdb"
)

type Server struct {
	router        *mux.Router
	log           logger.Logger
	addr          string
	httpServer    *http.Server
	walletHandler *handler.WalletHandler
	db            *postgresdb.Database
	redisClient   *redis.Client
	publisher     *eventskafka.Publisher
}

func NewServer(log logger.Logger) (*Server, error) {

	cfgDB, err := config.LoadConfigDB()
	if err != nil {
		return nil, err
	}

	cfgSrv, err := config.LoadConfigServer()
	if err != nil {
		return nil, err
	}

	db, err := postgresdb.NewPostgresDB(*cfgDB, log)
	if err != nil {
		return nil, err
	}

	server := &Server{
		log:    log,
		router: mux.NewRouter(),
		addr:   cfgSrv.Addr,
		db:     db,
	}

	var walletRepository repository.WalletRepository
	walletRepository = postgres.NewPostgresWalletRepo(db.DB, log, cfgSrv.LockTimeout)

	if cfgSrv.Cache.Enabled {
		server.redisClient = redis.NewClient(&redis.Options{Addr: cfgSrv.Cache.Addr})
		walletRepository = cache.NewCachedWalletRepo(walletRepository, server.redisClient, log, cfgSrv.Cache.TTL)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfgSrv.Kafka.Enabled {
		server.publisher = eventskafka.NewPublisher(cfgSrv.Kafka.Brokers)
		publisher = server.publisher
	}

	walletUsecase := usecase.NewWalletUsecase(walletRepository, log,
		usecase.WithMetrics(metrics.NewMetrics()),
		usecase.WithPublisher(publisher),
	)
	server.walletHandler = handler.NewWalletHandler(walletUsecase, log)

	server.router.Use(loggingMiddleware(server.log))

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})

	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.RegisterRoutes()

	return server, nil
}

func (s *Server) RegisterRoutes() {
	s.router.Use(
		middlWre.WithErrorHandler(s.log),
		middlWre.Recovery(s.log),
	)
	s.walletHandler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
}

// Addr is the listen address from config (SERVER_ADDR).
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.httpServer != nil {
			err := s.httpServer.Shutdown(ctx)
			if err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if s.publisher != nil {
			if err := s.publisher.Close(); err != nil {
				s.log.Error("failed to close event publisher", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("event publisher shutdown error: %w", err)
			}
		}

		if s.redisClient != nil {
			if err := s.redisClient.Close(); err != nil {
				s.log.Error("failed to close redis connection", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("redis shutdown error: %w", err)
			}
		}

		if s.db != nil {
			err := s.db.Close()
			if err != nil {
				s.log.Error("failed to close database connection", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("database shutdown error: %w", err)
			}
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) RunTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      9 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.httpServer = srv
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
			)
			next.ServeHTTP(w, r)
		})
	}
}
