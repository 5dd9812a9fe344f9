// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// stopper is the part of *time.Timer used for pending rebuilds.
type stopper interface {
	Stop() bool
}

func timeAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// StickerConnector owns the WhatsApp session lifecycle and feeds inbound
// messages to the Dispatcher.
type StickerConnector struct {
	Config *Config

	factory    NetworkFactory
	dispatcher *Dispatcher
	metrics    *Metrics
	renderer   ScanCodeRenderer
	log        zerolog.Logger

	state     *stateStore
	startedAt time.Time

	// restartMu serialises connect, rebuild, Restart and Stop.
	restartMu sync.Mutex
	sessMu    sync.RWMutex
	sess      *session

	rebuildMu    sync.Mutex
	rebuildTimer stopper
	afterFunc    func(time.Duration, func()) stopper

	inbound   chan InboundEvent
	runCtx    context.Context
	runCancel context.CancelFunc
	startOnce sync.Once
	stopped   atomic.Bool

	fatal  chan error
	server *http.Server
}

// NewStickerConnector creates a connector. cfg must already be
// post-processed.
func NewStickerConnector(cfg *Config, factory NetworkFactory, log zerolog.Logger) *StickerConnector {
	sc := &StickerConnector{
		Config:    cfg,
		factory:   factory,
		metrics:   NewMetrics(),
		log:       log.With().Str("component", "connector").Logger(),
		state:     newStateStore(time.Now),
		startedAt: time.Now(),
		afterFunc: timeAfterFunc,
		inbound:   make(chan InboundEvent, cfg.QueueSize),
		fatal:     make(chan error, 1),
	}
	sc.runCtx, sc.runCancel = context.WithCancel(context.Background())
	sc.dispatcher = NewDispatcher(sc, cfg, sc.metrics, log.With().Str("component", "dispatcher").Logger())
	if cfg.QRTerminal {
		sc.renderer = NewTerminalQR(os.Stdout)
	}
	sc.metrics.registerState(sc.state.load)
	return sc
}

// Start launches the dispatcher and the control API, then opens the first
// session. Only a *CredentialLoadError is returned; other connect failures
// are retried in the background.
func (sc *StickerConnector) Start(ctx context.Context) error {
	sc.startOnce.Do(func() {
		go sc.runDispatcher()
		if sc.Config.AdminAPIEnabled() {
			sc.startAdminAPI()
		}
	})

	sc.restartMu.Lock()
	defer sc.restartMu.Unlock()
	if sc.stopped.Load() {
		return ErrStopped
	}
	err := sc.connect(ctx)
	var credErr *CredentialLoadError
	if errors.As(err, &credErr) {
		return err
	} else if err != nil {
		sc.log.Warn().Err(err).Msg("Initial connection failed, will retry")
	}
	return nil
}

func (sc *StickerConnector) startAdminAPI() {
	sc.server = &http.Server{
		Addr:         sc.Config.AdminAPIAddr,
		Handler:      sc.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		sc.log.Info().Str("addr", sc.Config.AdminAPIAddr).Msg("Starting control API")
		if err := sc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sc.log.Error().Err(err).Msg("Control API error")
		}
	}()
}

// connect starts a new generation and opens its session. Must be called
// with restartMu held.
func (sc *StickerConnector) connect(ctx context.Context) error {
	gen := sc.state.reset()
	sc.metrics.transition(StateInitializing)
	log := sc.log.With().Uint64("generation", gen).Logger()
	log.Info().Msg("Initializing WhatsApp connection")

	net, err := sc.factory.Open(ctx, func(evt Event) {
		sc.handleEvent(gen, evt)
	})
	if err != nil {
		if errors.Is(err, ErrCredentialLoad) {
			log.Error().Err(err).Msg("Failed to load credentials")
			return &CredentialLoadError{Err: err}
		}
		sc.connectFailed(gen, err)
		return fmt.Errorf("failed to open session: %w", err)
	}
	sc.setSession(&session{gen: gen, net: net})
	if err := net.Connect(ctx); err != nil {
		sc.connectFailed(gen, err)
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (sc *StickerConnector) connectFailed(gen uint64, err error) {
	sc.handleConnectivity(gen, &ConnectivityEvent{
		Reason:  ReasonConnectFailure,
		Message: err.Error(),
	})
}

// Restart tears down the current session and opens a fresh one. It is the
// only way out of a logged-out state.
func (sc *StickerConnector) Restart(ctx context.Context) error {
	sc.restartMu.Lock()
	defer sc.restartMu.Unlock()
	if sc.stopped.Load() {
		return ErrStopped
	}
	sc.log.Info().Stringer("state", sc.state.load().State).Msg("Restarting WhatsApp connection")
	sc.cancelRebuild()
	sc.teardown()
	return sc.connect(ctx)
}

// Stop shuts down the session, the dispatcher and the control API. Work in
// flight is abandoned rather than awaited.
func (sc *StickerConnector) Stop() {
	if !sc.stopped.CompareAndSwap(false, true) {
		return
	}
	sc.log.Info().Msg("Stopping sticker bot")
	sc.cancelRebuild()
	sc.runCancel()

	sc.restartMu.Lock()
	sc.teardown()
	sc.restartMu.Unlock()

	if sc.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sc.server.Shutdown(ctx); err != nil {
			sc.log.Warn().Err(err).Msg("Failed to shut down control API")
		}
	}
}

func (sc *StickerConnector) scheduleRebuild(gen uint64) {
	sc.rebuildMu.Lock()
	defer sc.rebuildMu.Unlock()
	if sc.stopped.Load() || sc.rebuildTimer != nil {
		return
	}
	delay := sc.Config.ReconnectDelay
	sc.log.Info().Uint64("generation", gen).Dur("delay", delay).Msg("Scheduling reconnect")
	sc.rebuildTimer = sc.afterFunc(delay, func() {
		sc.rebuildMu.Lock()
		sc.rebuildTimer = nil
		sc.rebuildMu.Unlock()
		sc.rebuild(gen)
	})
}

func (sc *StickerConnector) cancelRebuild() {
	sc.rebuildMu.Lock()
	defer sc.rebuildMu.Unlock()
	if sc.rebuildTimer != nil {
		sc.rebuildTimer.Stop()
		sc.rebuildTimer = nil
	}
}

// rebuild replaces a dropped session. It does nothing if the session it was
// scheduled for has since been restarted or logged out.
func (sc *StickerConnector) rebuild(gen uint64) {
	sc.restartMu.Lock()
	defer sc.restartMu.Unlock()
	snap := sc.state.load()
	if sc.stopped.Load() || snap.Generation != gen || snap.State != StateDisconnected || snap.Final {
		return
	}
	sc.metrics.rebuild()
	sc.log.Info().Uint64("generation", gen).Str("reason", string(snap.Reason)).Msg("Rebuilding WhatsApp connection")
	sc.teardown()

	err := sc.connect(sc.runCtx)
	var credErr *CredentialLoadError
	if errors.As(err, &credErr) {
		select {
		case sc.fatal <- err:
		default:
		}
	} else if err != nil {
		sc.log.Warn().Err(err).Msg("Connection rebuild failed")
	}
}

// Fatal delivers errors the process cannot recover from.
func (sc *StickerConnector) Fatal() <-chan error {
	return sc.fatal
}

func (sc *StickerConnector) IsConnected() bool {
	return sc.state.load().State == StateConnected
}

// ScanCode returns the current pairing code while one is awaiting a scan.
func (sc *StickerConnector) ScanCode() (string, bool) {
	snap := sc.state.load()
	if snap.State != StateAwaitingScan || snap.ScanCode == "" {
		return "", false
	}
	return snap.ScanCode, true
}

func (sc *StickerConnector) State() Snapshot {
	return *sc.state.load()
}

func (sc *StickerConnector) Uptime() time.Duration {
	return time.Since(sc.startedAt)
}

func (sc *StickerConnector) Metrics() *Metrics {
	return sc.metrics
}
