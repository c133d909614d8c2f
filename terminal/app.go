package terminal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

// App is the running terminal: the transaction service, its ops API and,
// when simulating, an in-process host.
type App struct {
	srv       *http.Server
	wg        *sync.WaitGroup
	Addr      string
	HostAddr  string
	logger    *slog.Logger
	simulator *authclient.Simulator
	db        *sql.DB
	config    *Config
	Service   *Service
}

func NewApp(logger *slog.Logger, config *Config) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("app", "terminal"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	if a.config.Simulate {
		sim := authclient.NewSimulator(a.logger, a.config.HostAddr)
		if err := sim.Start(); err != nil {
			return fmt.Errorf("starting host simulator: %w", err)
		}
		a.simulator = sim
		a.config.HostAddr = sim.Addr
	}
	a.HostAddr = a.config.HostAddr

	journal, db, err := OpenJournal(a.config.DBDSN)
	if err != nil {
		return err
	}
	a.db = db

	client := authclient.New(a.config.ClientConfig(), a.logger)
	svc := NewService(client, a.config, journal, a.logger)
	if err := svc.Load(); err != nil {
		return fmt.Errorf("loading terminal data: %w", err)
	}
	a.Service = svc

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(svc)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := journal.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr), slog.String("host", a.HostAddr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		a.srv.Shutdown(context.Background())
	}

	if a.simulator != nil {
		if err := a.simulator.Close(); err != nil {
			a.logger.Error("closing host simulator", "err", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing database", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
