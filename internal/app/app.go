// Package app wires configuration into a running intake service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/breaker"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/catenda"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/handler"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/idempotency"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/mailer"
	mw "github.com/khjohns/Fravik-utslippsfribyggeplass/internal/middleware"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/render"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/repository"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/router"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/service"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     repository.SubmissionStore
	Intake    *service.IntakeService
	Retrieval *service.RetrievalService
	Handler   http.Handler

	closers []func() error
}

// New builds every component from cfg. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := repository.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	guard, err := a.duplicateGuard(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	mail, err := mailer.New(cfg.Mail, breaker.New("smtp", cfg.Breaker, logger), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("mailer: %w", err)
	}

	// a nil CaseSystem makes case-routed submissions fail at notification
	var cases service.CaseSystem
	if cfg.Catenda.ProjectID != "" {
		// token refreshes outlive the signal context while requests drain
		cases = catenda.New(context.WithoutCancel(ctx), cfg.Catenda, breaker.New("catenda", cfg.Breaker, logger), logger)
		logger.Info("catenda enabled", zap.String("project_id", cfg.Catenda.ProjectID))
	} else {
		logger.Warn("catenda not configured, catenda submissions will not be delivered")
	}

	notify := service.NewNotificationRouter(cases, mail, cfg.Routing.HandlerEmail, cfg.Routing.BaseURL, logger)
	a.Intake = service.NewIntakeService(store, render.NewPDFRenderer(), notify, logger, service.WithGuard(guard))
	a.Retrieval = service.NewRetrievalService(store)

	var limiter *mw.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = mw.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	a.Handler = router.New(
		router.Options{AllowedOrigins: cfg.Server.AllowedOrigins, Limiter: limiter, Logger: logger},
		handler.NewSubmissionHandler(a.Intake, a.Retrieval, handler.Limits{
			MaxRequestBytes: cfg.Server.MaxMemoryBytes,
			MaxFileBytes:    cfg.Server.MaxFileBytes,
		}, logger),
		handler.NewHealthHandler(store),
	)
	return a, nil
}

func (a *App) duplicateGuard(ctx context.Context) (service.DuplicateGuard, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return idempotency.NewMemoryGuard(rc.IdempotencyTTL), nil
	}
	rdb, err := idempotency.Dial(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.Logger.Info("redis duplicate guard enabled", zap.String("addr", rc.Addr))
	return idempotency.NewRedisGuard(rdb, rc.IdempotencyTTL), nil
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	sc := a.Config.Server
	srv := &http.Server{
		Addr:         sc.Addr,
		Handler:      a.Handler,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", zap.String("addr", sc.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := sc.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a.Logger.Info("shutting down", zap.Duration("timeout", timeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
