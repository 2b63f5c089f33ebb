// Package reconcile keeps cached controller liveness and lamp state in line
// with what the controllers report.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lumina-control/backend/internal/device"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// Defaults for Config.
const (
	DefaultInterval      = 3 * time.Second
	DefaultTimeout       = 2500 * time.Millisecond
	DefaultMaxConcurrent = 16
)

// Prober fetches a controller's status report.
type Prober interface {
	Status(ctx context.Context, ctrl models.Controller) (*device.StatusReport, error)
}

// ActivityLog records user-visible outcomes.
type ActivityLog interface {
	Record(ctx context.Context, entry models.ActivityEntry)
}

// Config tunes the probe loop.
type Config struct {
	Interval      time.Duration
	Timeout       time.Duration
	MaxConcurrent int
}

// Engine periodically probes every addressable controller.
type Engine struct {
	cron     *cron.Cron
	registry *registry.Registry
	prober   Prober
	activity ActivityLog
	config   Config

	initial sync.WaitGroup
}

// New creates a reconciliation engine. activity may be nil.
func New(reg *registry.Registry, prober Prober, activity ActivityLog, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Engine{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		registry: reg,
		prober:   prober,
		activity: activity,
		config:   cfg,
	}
}

// Start begins periodic reconciliation.
func (e *Engine) Start() error {
	log.Println("Starting reconciliation engine...")

	every := fmt.Sprintf("@every %s", e.config.Interval)
	if _, err := e.cron.AddFunc(every, func() {
		e.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling reconciliation: %w", err)
	}

	// Initial pass so state is fresh before the first interval elapses
	e.initial.Add(1)
	go func() {
		defer e.initial.Done()
		e.RunOnce(context.Background())
	}()

	e.cron.Start()
	log.Printf("Reconciliation engine started (every %s, timeout %s)", e.config.Interval, e.config.Timeout)
	return nil
}

// Stop waits for a running pass to finish and stops the engine.
func (e *Engine) Stop() {
	log.Println("Stopping reconciliation engine...")
	<-e.cron.Stop().Done()
	e.initial.Wait()
	log.Println("Reconciliation engine stopped")
}

// RunOnce probes every controller with a real address and merges the results.
// Each probe has its own timeout; a slow controller only delays its own result.
func (e *Engine) RunOnce(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(e.config.MaxConcurrent)

	for _, ctrl := range e.registry.Controllers() {
		if ctrl.HasPlaceholderAddress() {
			continue
		}
		ctrl := ctrl
		g.Go(func() error {
			e.probe(ctx, ctrl.ID)
			return nil
		})
	}
	g.Wait()
}

// ProbeNow runs a single probe on demand and returns the updated controller.
func (e *Engine) ProbeNow(ctx context.Context, controllerID string) (models.Controller, error) {
	if _, ok := e.registry.Controller(controllerID); !ok {
		return models.Controller{}, registry.ErrControllerNotFound
	}
	return e.probe(ctx, controllerID), nil
}

func (e *Engine) probe(ctx context.Context, controllerID string) models.Controller {
	ctrl, mark, gen, ok := e.registry.ProbeTarget(controllerID)
	if !ok || ctrl.HasPlaceholderAddress() {
		return ctrl
	}

	pctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	report, err := e.prober.Status(pctx, ctrl)
	cancel()

	obs := registry.Observation{Err: err, Mark: mark, Generation: gen, At: time.Now().UTC()}
	if err == nil && report != nil {
		obs.Report = report
		obs.SignalStrength = report.SignalStrength
		obs.Uptime = report.Uptime
	}

	before, after, applyErr := e.registry.ApplyObservation(ctx, ctrl.ID, obs)
	if errors.Is(applyErr, registry.ErrStaleObservation) {
		log.Printf("Dropping probe result for %s: address changed while it was in flight", ctrl.Name)
		return after
	}
	if applyErr != nil {
		// deleted while the probe was in flight
		return ctrl
	}

	if before.IsOnline != after.IsOnline || before.LastError != after.LastError {
		e.recordTransition(ctx, before, after, err)
	}
	return after
}

func (e *Engine) recordTransition(ctx context.Context, before, after models.Controller, err error) {
	switch {
	case after.IsOnline:
		log.Printf("Controller %s (%s) is online", after.Name, after.Address)
		e.record(ctx, "controller_online", models.LevelSuccess, fmt.Sprintf("%s is back online", after.Name))
	case errors.Is(err, device.ErrProbeMalformed):
		log.Printf("Controller %s returned a malformed status: %v", after.Name, err)
		e.record(ctx, "controller_error", models.LevelWarning, fmt.Sprintf("%s sent an unreadable status: %s", after.Name, after.LastError))
	case before.IsOnline || before.LastError == "":
		log.Printf("Controller %s (%s) is offline: %v", after.Name, after.Address, err)
		e.record(ctx, "controller_offline", models.LevelError, fmt.Sprintf("%s is offline: %s", after.Name, after.LastError))
	}
}

func (e *Engine) record(ctx context.Context, action, level, details string) {
	if e.activity == nil {
		return
	}
	e.activity.Record(ctx, models.ActivityEntry{
		Actor:   "system",
		Action:  action,
		Details: details,
		Level:   level,
	})
}
