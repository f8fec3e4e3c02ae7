// Package manager owns the two isolated engine instances (mock and real)
// and the nightly universe build schedule. The instances share nothing but
// the database file; positions never migrate between them.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mystocks/internal/engine"
	"mystocks/internal/logger"
	"mystocks/internal/store"
	"mystocks/internal/universe"
)

const (
	ModeMock = "mock"
	ModeReal = "real"
)

type instance struct {
	engine  *engine.Engine
	builder *universe.Builder
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager routes control-surface commands to the right engine instance.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance
	active    string
	cron      *cron.Cron
	baseCtx   context.Context
}

// New builds a manager over the two engines. The active mode starts as mock;
// nothing runs until Start.
func New(ctx context.Context, mock, real *engine.Engine, mockB, realB *universe.Builder) *Manager {
	return &Manager{
		instances: map[string]*instance{
			ModeMock: {engine: mock, builder: mockB},
			ModeReal: {engine: real, builder: realB},
		},
		active:  ModeMock,
		baseCtx: ctx,
	}
}

func (m *Manager) inst(mode string) (*instance, error) {
	if mode == "" {
		mode = m.active
	}
	in, ok := m.instances[mode]
	if !ok {
		return nil, fmt.Errorf("manager: unknown mode %q", mode)
	}
	return in, nil
}

// Active returns the currently selected mode.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Engine returns the engine for mode; empty means the active mode.
func (m *Manager) Engine(mode string) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, err := m.inst(mode)
	if err != nil {
		return nil, err
	}
	return in.engine, nil
}

// SwitchMode changes the active mode. Refused while the target instance's
// loop is running: the caller must stop it first, so a switch can never race
// a live scheduler.
func (m *Manager) SwitchMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, err := m.inst(mode)
	if err != nil {
		return err
	}
	if in.cancel != nil || in.engine.Running() {
		return fmt.Errorf("manager: %s engine is running, stop it before switching", mode)
	}
	m.active = mode
	logger.Infof("manager: active mode -> %s", mode)
	return nil
}

// Start launches mode's scheduler loop. Starting a running instance is an
// error.
func (m *Manager) Start(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, err := m.inst(mode)
	if err != nil {
		return err
	}
	if in.cancel != nil || in.engine.Running() {
		return fmt.Errorf("manager: %s engine already running", in.engine.Mode())
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	in.cancel = cancel
	in.done = make(chan struct{})
	go func(in *instance) {
		defer close(in.done)
		if err := in.engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("manager: %s engine exited: %v", in.engine.Mode(), err)
		}
	}(in)
	logger.Infof("manager: started %s engine", in.engine.Mode())
	return nil
}

// Stop cancels mode's loop and waits for it to drain.
func (m *Manager) Stop(mode string) error {
	m.mu.Lock()
	in, err := m.inst(mode)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	cancel, done := in.cancel, in.done
	in.cancel, in.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("manager: %s engine not running", in.engine.Mode())
	}
	cancel()
	<-done
	logger.Infof("manager: stopped %s engine", in.engine.Mode())
	return nil
}

// BuildUniverse runs the screen for mode immediately.
func (m *Manager) BuildUniverse(ctx context.Context, mode string) ([]store.UniverseRecord, error) {
	m.mu.Lock()
	in, err := m.inst(mode)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return in.builder.Build(ctx, in.engine.Mode(), time.Now())
}

// StartCron schedules the nightly universe build for both modes. spec is a
// standard five-field cron expression evaluated in local exchange time.
func (m *Manager) StartCron(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		for mode := range m.instances {
			if _, err := m.BuildUniverse(m.baseCtx, mode); err != nil {
				logger.Errorf("manager: scheduled universe build (%s): %v", mode, err)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("manager: cron spec %q: %w", spec, err)
	}
	c.Start()
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	logger.Infof("manager: universe build scheduled (%s)", spec)
	return nil
}

// Close stops the cron scheduler and both engines.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	for mode := range m.instances {
		_ = m.Stop(mode)
	}
}
