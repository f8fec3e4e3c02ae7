// Package app wires configuration into the two engine instances, the
// universe scheduler and the control HTTP server, and runs them until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"mystocks/internal/broker/kis"
	"mystocks/internal/calendar"
	"mystocks/internal/config"
	"mystocks/internal/engine"
	"mystocks/internal/logger"
	"mystocks/internal/manager"
	"mystocks/internal/marketdata"
	"mystocks/internal/notify"
	"mystocks/internal/store"
	controlhttp "mystocks/internal/transport/http/control"
	"mystocks/internal/universe"
)

// App owns every long-lived component of one mystocks process.
type App struct {
	cfg     *config.Config
	cfgPath string
	db      *store.Store
	mgr     *manager.Manager
	httpSrv *controlhttp.Server
}

// New builds the full dependency graph without starting anything.
func New(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	cal, err := loadCalendar(cfg.App.HolidaysPath)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(filepath.Join(cfg.App.DataDir, "mystocks.db"))
	if err != nil {
		return nil, err
	}

	notifier := buildNotifier(cfg.Notify)

	build := func(mode string) (*engine.Engine, *universe.Builder, error) {
		creds := cfg.KIS.Credentials(mode == manager.ModeMock)
		client, err := kis.New(kis.Options{
			AppKey:    creds.AppKey,
			AppSecret: creds.AppSecret,
			AccountNo: creds.AccountNo,
			BaseURL:   creds.BaseURL,
			Mock:      mode == manager.ModeMock,
			Timeout:   time.Duration(cfg.KIS.TimeoutSeconds) * time.Second,
			TokenDir:  cfg.App.DataDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s broker: %w", mode, err)
		}
		builder := universe.NewBuilder(db, client, client, cal, cfg.Universe)
		eng, err := engine.New(engine.Deps{
			Mode:     mode,
			Broker:   client,
			Store:    db,
			Universe: builder,
			Market:   marketdata.New(db, client),
			Calendar: cal,
			Notifier: notifier,
			DataDir:  cfg.App.DataDir,
			Strategy: cfg.Strategy,
			MarketCf: cfg.Market,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s engine: %w", mode, err)
		}
		return eng, builder, nil
	}

	mock, mockB, err := build(manager.ModeMock)
	if err != nil {
		db.Close()
		return nil, err
	}
	real, realB, err := build(manager.ModeReal)
	if err != nil {
		db.Close()
		return nil, err
	}

	mgr := manager.New(context.Background(), mock, real, mockB, realB)
	httpSrv, err := controlhttp.NewServer(controlhttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Manager:  mgr,
		Store:    db,
		Strategy: cfg.Strategy,
	})
	if err != nil {
		mgr.Close()
		db.Close()
		return nil, err
	}

	return &App{cfg: cfg, cfgPath: cfgPath, db: db, mgr: mgr, httpSrv: httpSrv}, nil
}

// Manager exposes the engine manager for test harnesses.
func (a *App) Manager() *manager.Manager { return a.mgr }

// Run starts the active engine, the universe cron and the HTTP control
// surface, then blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.db.Close()
	defer a.mgr.Close()

	if err := a.mgr.StartCron(a.cfg.Universe.BuildCron); err != nil {
		return fmt.Errorf("universe cron: %w", err)
	}
	if err := a.mgr.Start(a.mgr.Active()); err != nil {
		return err
	}

	if _, err := config.Watch(a.cfgPath, a.pushStrategy); err != nil {
		logger.Warnf("config watch disabled: %v", err)
	}

	logger.Infof("mystocks up: active=%s http=%s data=%s",
		a.mgr.Active(), a.httpSrv.Addr(), a.cfg.App.DataDir)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("control http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// pushStrategy delivers a reloaded strategy section to every running engine.
// Stopped engines pick the file back up on process restart.
func (a *App) pushStrategy(sc config.StrategyConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, mode := range []string{manager.ModeMock, manager.ModeReal} {
		eng, err := a.mgr.Engine(mode)
		if err != nil {
			continue
		}
		if err := eng.UpdateConfig(ctx, sc); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			logger.Errorf("apply reloaded config to %s failed: %v", mode, err)
		}
	}
}

func loadCalendar(path string) (*calendar.Calendar, error) {
	if path == "" {
		logger.Warnf("no holidays file configured, weekends only")
		return calendar.New(), nil
	}
	cal, err := calendar.Load(path)
	if err != nil {
		return nil, fmt.Errorf("holidays file: %w", err)
	}
	return cal, nil
}

func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	if !cfg.Ntfy.Enabled || cfg.Ntfy.TopicURL == "" {
		return notify.Nop{}
	}
	return notify.NewNtfy(cfg.Ntfy.TopicURL, func(err error) {
		logger.Warnf("ntfy push failed: %v", err)
	})
}
